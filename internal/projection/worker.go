package projection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"SaveLedger/internal/core"
	"SaveLedger/internal/observability"

	"github.com/rs/zerolog"
)

// HolderBalanceRow is one row of projections.holder_balances
type HolderBalanceRow struct {
	ClassSymbol  string
	Holder       string // lower-case hex
	Shares       string
	AssetLeg     string
	InsuranceLeg string
	LastSequence int64
	UpdatedAt    time.Time
}

// ProjectionWorker maintains the per-holder balance read model.
// The projection channel is non-blocking with drop: if the worker falls
// behind, the read model is rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.Output
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.Output, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processOutput(ctx, out); err != nil {
				// Eventually consistent; a rebuild catches up
				if pw.metrics != nil {
					pw.metrics.ProjectionErrors.Inc()
				}
				pw.logger.Warn().Err(err).Str("class", out.Envelope.Symbol).Int64("sequence", out.Envelope.Sequence).Msg("projection update failed")
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.Observe(time.Since(start).Seconds())
			}
		}
	}
}

// BalanceRows turns the post-operation balances carried by an output into
// projection rows.
func BalanceRows(out core.Output) []HolderBalanceRow {
	env := out.Envelope
	rows := make([]HolderBalanceRow, 0, len(env.Balances))
	for _, b := range env.Balances {
		rows = append(rows, HolderBalanceRow{
			ClassSymbol:  env.Symbol,
			Holder:       strings.ToLower(b.Holder.Hex()),
			Shares:       b.Shares.Dec(),
			AssetLeg:     b.AssetLeg.Dec(),
			InsuranceLeg: b.InsuranceLeg.Dec(),
			LastSequence: env.Sequence,
			UpdatedAt:    env.Timestamp,
		})
	}
	return rows
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, out core.Output) error {
	rows := BalanceRows(out)

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range rows {
		// Older sequences never overwrite newer ones
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.holder_balances
				(class_symbol, holder, shares, asset_leg, insurance_leg, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (class_symbol, holder) DO UPDATE
				SET shares = $3, asset_leg = $4, insurance_leg = $5, last_sequence = $6, updated_at = $7
				WHERE projections.holder_balances.last_sequence < $6
		`, r.ClassSymbol, r.Holder, r.Shares, r.AssetLeg, r.InsuranceLeg, r.LastSequence, r.UpdatedAt); err != nil {
			return fmt.Errorf("holder balance: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (class_symbol, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (class_symbol) DO UPDATE SET last_sequence = GREATEST(projections.watermark.last_sequence, $2), updated_at = NOW()
	`, out.Envelope.Symbol, out.Envelope.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// RebuildProjections rebuilds the holder balance table from the latest
// balances each holder carried in the event log.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	logger := observability.NewLogger("projection")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.holder_balances`,
		`TRUNCATE projections.watermark`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.holder_balances
			(class_symbol, holder, shares, asset_leg, insurance_leg, last_sequence, updated_at)
		SELECT DISTINCT ON (e.class_symbol, lower(b->>'holder'))
			e.class_symbol,
			lower(b->>'holder'),
			(b->>'shares')::numeric,
			(b->>'asset_leg')::numeric,
			(b->>'insurance_leg')::numeric,
			e.sequence,
			e.timestamp
		FROM event_log.events e, jsonb_array_elements(e.balances) b
		ORDER BY e.class_symbol, lower(b->>'holder'), e.sequence DESC
	`); err != nil {
		return fmt.Errorf("rebuild holder balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (class_symbol, last_sequence, updated_at)
		SELECT class_symbol, MAX(sequence), NOW() FROM event_log.events GROUP BY class_symbol
	`); err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Msg("projection rebuild complete")
	return nil
}
