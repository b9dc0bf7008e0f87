package ingestion

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrUnauthenticated is returned for a command whose signature is missing or
// was not made by its caller.
var ErrUnauthenticated = errors.New("unauthenticated command")

// SigningPayload is the text a caller signs. Every field that decides what
// the command does is covered, and the command id makes each signature
// single-use under de-duplication.
func (c *Command) SigningPayload() string {
	amount := ""
	if c.Amount != nil {
		amount = c.Amount.Dec()
	}
	var b strings.Builder
	b.WriteString("SaveLedger command\n")
	fmt.Fprintf(&b, "command_id:%s\n", c.CommandID)
	fmt.Fprintf(&b, "class:%s\n", strings.ToLower(c.Class))
	fmt.Fprintf(&b, "op:%s\n", c.Op)
	fmt.Fprintf(&b, "caller:%s\n", c.Caller.Hex())
	fmt.Fprintf(&b, "from:%s\n", c.From.Hex())
	fmt.Fprintf(&b, "to:%s\n", c.To.Hex())
	fmt.Fprintf(&b, "spender:%s\n", c.Spender.Hex())
	fmt.Fprintf(&b, "amount:%s", amount)
	return b.String()
}

// SigningHash is the EIP-191 personal-message hash of SigningPayload, so a
// wallet's personal_sign produces a valid signature.
func (c *Command) SigningHash() common.Hash {
	msg := c.SigningPayload()
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)))
}

// Sign signs the command as its caller, which must be key's address
func (c *Command) Sign(key *ecdsa.PrivateKey) error {
	if signer := crypto.PubkeyToAddress(key.PublicKey); signer != c.Caller {
		return fmt.Errorf("sign command: key %s is not caller %s", signer.Hex(), c.Caller.Hex())
	}
	sig, err := crypto.Sign(c.SigningHash().Bytes(), key)
	if err != nil {
		return fmt.Errorf("sign command: %w", err)
	}
	c.Signature = sig
	return nil
}

// Authenticate checks the command carries an id and a signature recovered
// to its caller. Wallet-style recovery ids (27/28) are accepted.
func (c *Command) Authenticate() error {
	if c.CommandID == "" {
		return fmt.Errorf("%w: signed commands need a command_id", ErrUnauthenticated)
	}
	if len(c.Signature) != crypto.SignatureLength {
		return fmt.Errorf("%w: signature must be %d bytes, got %d", ErrUnauthenticated, crypto.SignatureLength, len(c.Signature))
	}

	sig := common.CopyBytes(c.Signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(c.SigningHash().Bytes(), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if signer := crypto.PubkeyToAddress(*pub); signer != c.Caller {
		return fmt.Errorf("%w: signed by %s, not caller %s", ErrUnauthenticated, signer.Hex(), c.Caller.Hex())
	}
	return nil
}
