package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"SaveLedger/internal/core"
)

// PostgresIdempotencyChecker looks up command ids in the persisted event log
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate reports whether any event of classSymbol carries commandID
func (pic *PostgresIdempotencyChecker) IsDuplicate(classSymbol string, commandID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.events
		WHERE class_symbol = $1 AND command_id = $2
		LIMIT 1
	`, classSymbol, commandID).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns the dedup keys of the most recent limit commands,
// oldest first, for warming the in-memory cache on start.
func (pic *PostgresIdempotencyChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT class_symbol, command_id FROM (
			SELECT class_symbol, command_id, MAX(timestamp) AS last_seen
			FROM event_log.events
			WHERE command_id IS NOT NULL
			GROUP BY class_symbol, command_id
			ORDER BY last_seen DESC
			LIMIT $1
		) recent
		ORDER BY last_seen ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var symbol, commandID string
		if err := rows.Scan(&symbol, &commandID); err != nil {
			return nil, err
		}
		keys = append(keys, core.DedupKey(symbol, commandID))
	}
	return keys, rows.Err()
}
