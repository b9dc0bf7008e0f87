package core

import (
	"context"
)

type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// saga records the inverse of every external step an operation has taken,
// so a later failure can put the venues back as they were.
type saga struct {
	steps []compensation
}

func (s *saga) add(name string, undo func(ctx context.Context) error) {
	s.steps = append(s.steps, compensation{name: name, undo: undo})
}

func (s *saga) empty() bool {
	return len(s.steps) == 0
}

// rollback runs the compensations newest first. Cancellation of the
// operation's context does not stop it.
func (l *ShareLedger) rollback(ctx context.Context, op string, s *saga) {
	if s.empty() {
		return
	}
	ctx = context.WithoutCancel(ctx)

	if l.metrics != nil {
		l.metrics.Compensations.WithLabelValues(l.class.Symbol, op).Inc()
	}
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.undo(ctx); err != nil {
			l.logger.Error().
				Err(err).
				Str("op", op).
				Str("step", step.name).
				Msg("compensation failed; venue state needs manual reconciliation")
			if l.metrics != nil {
				l.metrics.CompensationFailures.WithLabelValues(l.class.Symbol, op).Inc()
			}
		}
	}
}
