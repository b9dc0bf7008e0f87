package query

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"SaveLedger/internal/core"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const verifyPageSize = 1000

// QueryService provides read-only access to the event log and projections.
// Responses carry as_of_sequence where freshness matters.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// ListEvents returns up to limit events of a class with sequence > after
func (qs *QueryService) ListEvents(ctx context.Context, class string, after int64, limit int) ([]EventResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, COALESCE(command_id, ''), payload, balances,
		       state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE class_symbol = $1 AND sequence > $2
		ORDER BY sequence ASC
		LIMIT $3
	`, class, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []EventResponse{}
	for rows.Next() {
		var e EventResponse
		var payload, balances, stateHash, prevHash []byte
		if err := rows.Scan(
			&e.Sequence, &e.EventID, &e.EventType, &e.CommandID, &payload, &balances,
			&stateHash, &prevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Payload = payload
		e.Balances = balances
		e.StateHash = hexutil.Encode(stateHash)
		e.PrevHash = hexutil.Encode(prevHash)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Admin APIs ---

type chainRow struct {
	sequence  int64
	digest    []byte
	stateHash []byte
	prevHash  []byte
}

// VerifyIntegrity re-derives the hash chain of a class from its stored
// digests and checks that every leg's journal postings net to zero.
func (qs *QueryService) VerifyIntegrity(ctx context.Context, class string, classID uuid.UUID) (*IntegrityReport, error) {
	report := &IntegrityReport{Class: class}

	v := newChainVerifier(classID)
	after := int64(0)
	for {
		page, err := qs.chainPage(ctx, class, after)
		if err != nil {
			return nil, err
		}
		for _, r := range page {
			v.check(r)
		}
		if len(page) < verifyPageSize {
			break
		}
		after = page[len(page)-1].sequence
	}
	report.EventsChecked = v.checked
	report.SequenceGaps = v.gaps
	report.HashChainBreaks = v.breaks

	net, err := qs.accountNets(ctx, class)
	if err != nil {
		return nil, err
	}
	report.UnbalancedLegs = unbalancedLegs(net)

	report.IsHealthy = len(report.SequenceGaps) == 0 &&
		len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedLegs) == 0
	return report, nil
}

func (qs *QueryService) chainPage(ctx context.Context, class string, after int64) ([]chainRow, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, state_digest, state_hash, prev_hash
		FROM event_log.events
		WHERE class_symbol = $1 AND sequence > $2
		ORDER BY sequence ASC
		LIMIT $3
	`, class, after, verifyPageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []chainRow
	for rows.Next() {
		var r chainRow
		if err := rows.Scan(&r.sequence, &r.digest, &r.stateHash, &r.prevHash); err != nil {
			return nil, err
		}
		page = append(page, r)
	}
	return page, rows.Err()
}

// accountNets returns debits minus credits per account path
func (qs *QueryService) accountNets(ctx context.Context, class string) (map[string]decimal.Decimal, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account, SUM(delta)::text FROM (
			SELECT debit_account AS account, amount AS delta FROM event_log.journal WHERE class_symbol = $1
			UNION ALL
			SELECT credit_account AS account, -amount AS delta FROM event_log.journal WHERE class_symbol = $1
		) postings
		GROUP BY account
	`, class)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var account, sum string
		if err := rows.Scan(&account, &sum); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(sum)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", account, err)
		}
		out[account] = d
	}
	return out, rows.Err()
}

// chainVerifier walks a class's events in sequence order
type chainVerifier struct {
	prev    [32]byte
	next    int64
	checked int
	gaps    []int64
	breaks  []int64
}

func newChainVerifier(classID uuid.UUID) *chainVerifier {
	return &chainVerifier{prev: core.GenesisHash(classID), next: 1}
}

func (v *chainVerifier) check(r chainRow) {
	v.checked++
	if r.sequence != v.next {
		v.gaps = append(v.gaps, v.next)
	}
	v.next = r.sequence + 1

	want := core.ChainHash(v.prev, r.sequence, r.digest)
	if !bytes.Equal(r.prevHash, v.prev[:]) || !bytes.Equal(r.stateHash, want[:]) {
		v.breaks = append(v.breaks, r.sequence)
	}
	// Continue from the stored hash so one break is reported once
	copy(v.prev[:], r.stateHash)
}

// legOf maps an account path to the leg it belongs to; every leg's holder
// accounts and its external counterpart must net to zero.
func legOf(accountPath string) string {
	i := strings.LastIndexByte(accountPath, ':')
	switch accountPath[i+1:] {
	case "shares", "issuance":
		return "shares"
	case "asset_leg", "venue":
		return "asset"
	case "insurance_leg", "instrument":
		return "insurance"
	}
	return "unknown"
}

func unbalancedLegs(nets map[string]decimal.Decimal) []UnbalancedLeg {
	sums := make(map[string]decimal.Decimal)
	for account, net := range nets {
		leg := legOf(account)
		sums[leg] = sums[leg].Add(net)
	}

	var out []UnbalancedLeg
	for leg, sum := range sums {
		if !sum.IsZero() {
			out = append(out, UnbalancedLeg{Leg: leg, Imbalance: sum.String()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Leg < out[j].Leg })
	return out
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context, class string) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE class_symbol = $1
	`, class).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
