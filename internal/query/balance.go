package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrHolderNotFound is returned when a holder has no projected balance
var ErrHolderNotFound = errors.New("holder not found")

// GetHolderBalance returns a holder's projected position in a class
func (qs *QueryService) GetHolderBalance(ctx context.Context, class, holder string) (*HolderBalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx, class)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &HolderBalanceResponse{Class: class, Holder: strings.ToLower(holder), AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT shares::text, asset_leg::text, insurance_leg::text, last_sequence
		FROM projections.holder_balances
		WHERE class_symbol = $1 AND holder = $2
	`, class, resp.Holder).Scan(&resp.Shares, &resp.AssetLeg, &resp.InsuranceLeg, &resp.LastSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHolderNotFound
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetJournalHistory returns a holder's journal entries newest first.
// beforeSequence pages backwards when set.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	class, holder string,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	// Account paths carry the checksummed address; match case-insensitively
	accountPrefix := "holder:" + strings.ToLower(holder) + ":%"

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE class_symbol = $1 AND (lower(debit_account) LIKE $2 OR lower(credit_account) LIKE $2)
	`
	args := []any{class, accountPrefix}
	argIdx := 3

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []JournalHistoryEntry{}
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Amount, &e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
