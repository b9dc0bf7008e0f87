package core

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation was refused
type Kind int

const (
	KindUnknown Kind = iota
	// KindPrecondition: the caller asked for something the ledger state does
	// not allow (paused, balance, allowance, amount).
	KindPrecondition
	// KindAdapter: a venue, instrument or gateway call failed; the operation
	// was rolled back.
	KindAdapter
	// KindAuthorization: the caller lacks the role the operation needs.
	KindAuthorization
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition_violation"
	case KindAdapter:
		return "adapter_failure"
	case KindAuthorization:
		return "authorization_violation"
	default:
		return "unknown"
	}
}

// Reasons. Texts follow the revert strings holders already know.
var (
	ErrPaused                = errors.New("pausable: paused")
	ErrNotPaused             = errors.New("pausable: not paused")
	ErrNotAdmin              = errors.New("caller must be admin")
	ErrZeroBalance           = errors.New("balance must be greater than 0")
	ErrInsufficientBalance   = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("transfer amount exceeds allowance")
	ErrInvalidAmount         = errors.New("amount must be greater than 0")
	ErrInvalidAddress        = errors.New("zero address")
	ErrSettlement            = errors.New("must successfully settle venue position")
	ErrInsuranceExpired      = errors.New("insurance instrument expired")
	ErrNoSubAccount          = errors.New("holder has no sub-account")
	ErrPullFailed            = errors.New("could not pull underlying from caller")
)

// Error is returned by every failed ledger operation
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a ledger error, KindUnknown for anything else
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}

func precondition(op string, err error) error {
	return &Error{Kind: KindPrecondition, Op: op, Err: err}
}

func adapterFailure(op string, err error) error {
	return &Error{Kind: KindAdapter, Op: op, Err: err}
}

func unauthorized(op string, err error) error {
	return &Error{Kind: KindAuthorization, Op: op, Err: err}
}
