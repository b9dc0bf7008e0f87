package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SaveLedger/internal/core"
	"SaveLedger/internal/observability"

	"github.com/rs/zerolog"
)

var ErrUnknownClass = errors.New("unknown share class")

// ClassResolver finds the ledger a command targets
type ClassResolver interface {
	BySymbol(symbol string) (*core.ShareLedger, error)
}

// Result is the outcome of a dispatched command
type Result struct {
	CommandID string `json:"command_id,omitempty"`
	Class     string `json:"class"`
	Op        string `json:"op"`
	Duplicate bool   `json:"duplicate,omitempty"`
	// The event the operation produced; nil for duplicates and pause toggles
	Event    any   `json:"event,omitempty"`
	Sequence int64 `json:"sequence"`
}

// Dispatcher runs commands against their share ledgers, skipping commands
// that were already processed. Unless built WithTrustedIngress it accepts
// only commands signed by their caller.
type Dispatcher struct {
	classes        ClassResolver
	idempotency    *core.IdempotencyChecker
	metrics        *observability.Metrics
	logger         zerolog.Logger
	trustedIngress bool
}

type DispatcherOption func(*Dispatcher)

// WithTrustedIngress takes the caller field at face value. Only for
// deployments where every command source is already authenticated upstream.
func WithTrustedIngress() DispatcherOption {
	return func(d *Dispatcher) { d.trustedIngress = true }
}

func NewDispatcher(classes ClassResolver, idempotency *core.IdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		classes:     classes,
		idempotency: idempotency,
		metrics:     metrics,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes cmd. source labels where it came from (nats, http).
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *Command, source string) (*Result, error) {
	if d.metrics != nil {
		d.metrics.CommandsReceived.WithLabelValues(source, cmd.Op).Inc()
	}

	if !d.trustedIngress {
		if err := cmd.Authenticate(); err != nil {
			if d.metrics != nil {
				d.metrics.CommandsUnauthenticated.WithLabelValues(source).Inc()
			}
			return nil, err
		}
	}

	l, err := d.classes.BySymbol(cmd.Class)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownClass, err)
	}
	symbol := l.Symbol()
	result := &Result{CommandID: cmd.CommandID, Class: symbol, Op: cmd.Op}

	committed := false
	if cmd.CommandID != "" && d.idempotency != nil {
		// The reservation holds off a concurrent copy of the same command
		// until this one has committed or been refused.
		if !d.idempotency.Begin(symbol, cmd.CommandID) {
			result.Duplicate = true
			result.Sequence = l.Sequence()
			d.logger.Debug().Str("command_id", cmd.CommandID).Str("class", symbol).Msg("duplicate command skipped")
			return result, nil
		}
		defer func() { d.idempotency.Finish(symbol, cmd.CommandID, committed) }()
	}

	if cmd.CommandID != "" {
		ctx = core.WithCommandID(ctx, cmd.CommandID)
	}

	result.Event, err = execute(ctx, l, cmd)
	if err != nil {
		return nil, err
	}
	committed = true
	result.Sequence = l.Sequence()
	return result, nil
}

func execute(ctx context.Context, l *core.ShareLedger, cmd *Command) (any, error) {
	switch cmd.Op {
	case core.OpMint:
		return l.Mint(ctx, cmd.Caller, cmd.Amount)
	case core.OpTransfer:
		return l.Transfer(ctx, cmd.Caller, cmd.To, cmd.Amount)
	case core.OpTransferFrom:
		return l.TransferFrom(ctx, cmd.Caller, cmd.From, cmd.To, cmd.Amount)
	case core.OpApprove:
		return l.Approve(ctx, cmd.Caller, cmd.Spender, cmd.Amount)
	case core.OpWithdrawForUnderlyingAsset:
		return l.WithdrawForUnderlyingAsset(ctx, cmd.Caller, cmd.Amount)
	case core.OpWithdrawAll:
		return l.WithdrawAll(ctx, cmd.Caller)
	case core.OpWithdrawReward:
		return l.WithdrawReward(ctx, cmd.Caller)
	case core.OpGetRewardsBalance:
		return l.GetRewardsBalance(ctx, cmd.Caller)
	case core.OpPause:
		return nil, l.Pause(ctx, cmd.Caller)
	case core.OpUnpause:
		return nil, l.Unpause(ctx, cmd.Caller)
	}
	return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidCommand, cmd.Op)
}

// Run drains commands received from NATS until ctx is cancelled. Every
// message is acked once handled: a refused command is final, and the
// submitter resubmits with a new command id if it wants another attempt.
func (d *Dispatcher) Run(ctx context.Context, in <-chan RawCommand) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-in:
			if !ok {
				return nil
			}
			d.handle(ctx, raw)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, raw RawCommand) {
	defer raw.ack()

	if d.metrics != nil && !raw.Published.IsZero() {
		d.metrics.NATSPullLatency.Observe(time.Since(raw.Published).Seconds())
	}

	cmd, err := ParseRawCommand(raw)
	if err != nil {
		if d.metrics != nil {
			d.metrics.CommandsInvalid.Inc()
		}
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping invalid command")
		return
	}

	res, err := d.Dispatch(ctx, cmd, "nats")
	if err != nil {
		d.logger.Warn().
			Err(err).
			Str("command_id", cmd.CommandID).
			Str("class", cmd.Class).
			Str("op", cmd.Op).
			Str("kind", core.KindOf(err).String()).
			Msg("command refused")
		return
	}
	d.logger.Debug().
		Str("command_id", cmd.CommandID).
		Str("class", res.Class).
		Str("op", cmd.Op).
		Int64("sequence", res.Sequence).
		Bool("duplicate", res.Duplicate).
		Msg("command applied")
}
