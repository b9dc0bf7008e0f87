package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"SaveLedger/internal/core"
	"SaveLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const snapshotFormatVersion = 1 // JSON-encoded core.SnapshotState

// SnapshotManager stores and loads per-class ledger snapshots
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists snap. A snapshot is written verified only when the
// ledger's invariants held at capture time.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState, verified bool) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, class_symbol, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (class_symbol, sequence) DO UPDATE SET data = $4, state_hash = $5, size_bytes = $7, verified = $8
	`, uuid.New(), snap.Symbol, snap.Sequence, data, snap.StateHash.Bytes(),
		snapshotFormatVersion, len(data), verified, snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot of a class.
// Returns nil, nil when there is none.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context, classSymbol string) (*core.SnapshotState, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE class_symbol = $1 AND verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`, classSymbol)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// GetLatestSequence returns the highest persisted sequence of a class
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context, classSymbol string) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events WHERE class_symbol = $1
	`, classSymbol).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// SnapshotSource lists the ledgers to snapshot
type SnapshotSource interface {
	List() []*core.ShareLedger
}

// SnapshotStore is the part of SnapshotManager the snapshotter writes to
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *core.SnapshotState, verified bool) (int, error)
}

// Snapshotter periodically snapshots every class whose sequence moved since
// its last snapshot.
type Snapshotter struct {
	store    SnapshotStore
	source   SnapshotSource
	interval time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger

	lastSeq map[string]int64
}

func NewSnapshotter(store SnapshotStore, source SnapshotSource, interval time.Duration, metrics *observability.Metrics) *Snapshotter {
	return &Snapshotter{
		store:    store,
		source:   source,
		interval: interval,
		metrics:  metrics,
		logger:   observability.NewLogger("snapshotter"),
		lastSeq:  make(map[string]int64),
	}
}

// Run snapshots on every tick and once more on shutdown
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.SnapshotAll(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
			s.SnapshotAll(ctx)
		}
	}
}

// SnapshotAll takes one snapshot pass and returns how many were written
func (s *Snapshotter) SnapshotAll(ctx context.Context) int {
	written := 0
	for _, l := range s.source.List() {
		symbol := l.Symbol()
		if seq := l.Sequence(); seq == s.lastSeq[symbol] {
			continue
		}

		start := time.Now()
		snap := l.Snapshot()
		verified := true
		if err := l.VerifyInvariants(ctx); err != nil {
			verified = false
			s.logger.Error().Err(err).Str("class", symbol).Int64("sequence", snap.Sequence).Msg("invariant check failed; snapshot stored unverified")
		}

		size, err := s.store.SaveSnapshot(ctx, snap, verified)
		if err != nil {
			s.logger.Error().Err(err).Str("class", symbol).Msg("snapshot write failed")
			continue
		}
		s.lastSeq[symbol] = snap.Sequence
		written++

		if s.metrics != nil {
			s.metrics.SnapshotTaken.Inc()
			s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
			s.metrics.SnapshotSizeBytes.Set(float64(size))
			s.metrics.SnapshotLastSeq.WithLabelValues(symbol).Set(float64(snap.Sequence))
		}
		s.logger.Info().Str("class", symbol).Int64("sequence", snap.Sequence).Bool("verified", verified).Int("bytes", size).Msg("snapshot written")
	}
	return written
}
