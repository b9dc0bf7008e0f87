package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"SaveLedger/internal/core"
	fpmath "SaveLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// SubjectPrefix is the root of every inbound command subject:
// save.commands.<op>.<symbol>
const SubjectPrefix = "save.commands"

var ErrInvalidCommand = errors.New("invalid command")

// Command is a validated ledger command
type Command struct {
	CommandID string
	Class     string
	Op        string
	Caller    common.Address
	From      common.Address
	To        common.Address
	Spender   common.Address
	Amount    *uint256.Int
	// 65-byte secp256k1 signature over SigningHash
	Signature []byte
}

// --- JSON wire format ---
// Addresses are hex, amounts are base-10 strings in the venue's native unit.

type commandJSON struct {
	CommandID string `json:"command_id"`
	Class     string `json:"class"`
	Op        string `json:"op"`
	Caller    string `json:"caller"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Spender   string `json:"spender,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// field requirements per op
type opFields struct {
	from, to, spender, amount bool
}

var ops = map[string]opFields{
	core.OpMint:                       {amount: true},
	core.OpTransfer:                   {to: true, amount: true},
	core.OpTransferFrom:               {from: true, to: true, amount: true},
	core.OpApprove:                    {spender: true, amount: true},
	core.OpWithdrawForUnderlyingAsset: {amount: true},
	core.OpWithdrawAll:                {},
	core.OpWithdrawReward:             {},
	core.OpGetRewardsBalance:          {},
	core.OpPause:                      {},
	core.OpUnpause:                    {},
}

// ParseCommand decodes and validates a JSON command
func ParseCommand(data []byte) (*Command, error) {
	var j commandJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return j.toCommand()
}

// ParseRawCommand decodes a command received on subject. The op and class
// in the subject fill in missing payload fields and must agree with present ones.
func ParseRawCommand(raw RawCommand) (*Command, error) {
	var j commandJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	if raw.Subject != "" {
		op, class, err := ParseSubject(raw.Subject)
		if err != nil {
			return nil, err
		}
		if j.Op == "" {
			j.Op = op
		} else if j.Op != op {
			return nil, fmt.Errorf("%w: op %q does not match subject %s", ErrInvalidCommand, j.Op, raw.Subject)
		}
		if j.Class == "" {
			j.Class = class
		} else if !strings.EqualFold(j.Class, class) {
			return nil, fmt.Errorf("%w: class %q does not match subject %s", ErrInvalidCommand, j.Class, raw.Subject)
		}
	}
	return j.toCommand()
}

// ParseSubject splits save.commands.<op>.<symbol>
func ParseSubject(subject string) (op, class string, err error) {
	rest, ok := strings.CutPrefix(subject, SubjectPrefix+".")
	if !ok {
		return "", "", fmt.Errorf("%w: subject %s outside %s", ErrInvalidCommand, subject, SubjectPrefix)
	}
	parts := strings.Split(rest, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: subject %s is not %s.<op>.<class>", ErrInvalidCommand, subject, SubjectPrefix)
	}
	return parts[0], parts[1], nil
}

// CommandSubject is the subject a command for op on class is published to
func CommandSubject(op, class string) string {
	return SubjectPrefix + "." + op + "." + class
}

func (j commandJSON) toCommand() (*Command, error) {
	fields, ok := ops[j.Op]
	if !ok {
		return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidCommand, j.Op)
	}
	if j.Class == "" {
		return nil, fmt.Errorf("%w: class is required", ErrInvalidCommand)
	}

	cmd := &Command{CommandID: j.CommandID, Class: j.Class, Op: j.Op}

	var err error
	if cmd.Caller, err = parseAddress("caller", j.Caller, true); err != nil {
		return nil, err
	}
	if cmd.From, err = parseAddress("from", j.From, fields.from); err != nil {
		return nil, err
	}
	if cmd.To, err = parseAddress("to", j.To, fields.to); err != nil {
		return nil, err
	}
	if cmd.Spender, err = parseAddress("spender", j.Spender, fields.spender); err != nil {
		return nil, err
	}

	if fields.amount {
		if j.Amount == "" {
			return nil, fmt.Errorf("%w: amount is required for %s", ErrInvalidCommand, j.Op)
		}
		if cmd.Amount, err = fpmath.ParseAmount(j.Amount); err != nil {
			return nil, fmt.Errorf("%w: amount: %v", ErrInvalidCommand, err)
		}
	}
	if j.Signature != "" {
		if cmd.Signature, err = hexutil.Decode(j.Signature); err != nil {
			return nil, fmt.Errorf("%w: signature: %v", ErrInvalidCommand, err)
		}
	}
	return cmd, nil
}

func parseAddress(field, s string, required bool) (common.Address, error) {
	if s == "" {
		if required {
			return common.Address{}, fmt.Errorf("%w: %s is required", ErrInvalidCommand, field)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", ErrInvalidCommand, field, s)
	}
	return common.HexToAddress(s), nil
}
