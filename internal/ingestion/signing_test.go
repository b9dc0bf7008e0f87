package ingestion_test

import (
	"encoding/json"
	"errors"
	"testing"

	"SaveLedger/internal/ingestion"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

func signedTransfer(t *testing.T) *ingestion.Command {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cmd := &ingestion.Command{
		CommandID: "cmd-signed",
		Class:     "saveDAI",
		Op:        "transfer",
		Caller:    crypto.PubkeyToAddress(key.PublicKey),
		To:        bob,
		Amount:    uint256.NewInt(48921671711),
	}
	if err := cmd.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return cmd
}

func TestCommand_SignedCommandAuthenticates(t *testing.T) {
	cmd := signedTransfer(t)
	if err := cmd.Authenticate(); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
}

func TestCommand_SignatureSurvivesWireFormat(t *testing.T) {
	cmd := signedTransfer(t)
	data, _ := json.Marshal(map[string]string{
		"command_id": cmd.CommandID,
		"class":      "SAVEDAI",
		"op":         cmd.Op,
		"caller":     cmd.Caller.Hex(),
		"to":         bobHex,
		"amount":     "48921671711",
		"signature":  hexutil.Encode(cmd.Signature),
	})

	parsed, err := ingestion.ParseCommand(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// The class symbol is case-insensitive and so is its signed form
	if err := parsed.Authenticate(); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
}

func TestCommand_WalletRecoveryIDAccepted(t *testing.T) {
	cmd := signedTransfer(t)
	cmd.Signature[crypto.RecoveryIDOffset] += 27
	if err := cmd.Authenticate(); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
}

func TestCommand_AuthenticateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *ingestion.Command)
	}{
		{"tampered amount", func(c *ingestion.Command) { c.Amount = uint256.NewInt(1) }},
		{"tampered recipient", func(c *ingestion.Command) { c.To = alice }},
		{"claimed caller", func(c *ingestion.Command) { c.Caller = admin }},
		{"missing signature", func(c *ingestion.Command) { c.Signature = nil }},
		{"short signature", func(c *ingestion.Command) { c.Signature = c.Signature[:64] }},
		{"missing command id", func(c *ingestion.Command) { c.CommandID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := signedTransfer(t)
			tt.mutate(cmd)
			err := cmd.Authenticate()
			if !errors.Is(err, ingestion.ErrUnauthenticated) {
				t.Errorf("got %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestCommand_SignRefusesForeignKey(t *testing.T) {
	key, _ := crypto.GenerateKey()
	cmd := &ingestion.Command{CommandID: "c", Class: "saveDAI", Op: "withdrawAll", Caller: alice}
	if err := cmd.Sign(key); err == nil {
		t.Fatal("signing for another caller should fail")
	}
}

func TestParseCommand_MalformedSignature(t *testing.T) {
	data, _ := json.Marshal(map[string]string{
		"class": "saveDAI", "op": "withdrawAll", "caller": aliceHex, "signature": "not-hex",
	})
	_, err := ingestion.ParseCommand(data)
	if !errors.Is(err, ingestion.ErrInvalidCommand) {
		t.Errorf("got %v, want ErrInvalidCommand", err)
	}
}
