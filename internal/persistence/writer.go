package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"SaveLedger/internal/core"
)

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes events and journals to Postgres using multi-row
// INSERTs. Writes are idempotent on (class_symbol, sequence) and journal_id.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	ClassSymbol string
	Sequence    int64
	EventID     string
	EventType   string
	CommandID   string
	ClassID     string
	Payload     []byte // JSON-encoded event payload
	Balances    []byte // JSON-encoded post-operation holder balances
	StateDigest []byte // input to the chain hash, kept for re-verification
	StateHash   []byte
	PrevHash    []byte
	Timestamp   time.Time
}

// JournalRow represents a row in event_log.journal. Amount is the decimal
// form of the 256-bit amount, stored as NUMERIC(78,0).
type JournalRow struct {
	JournalID     string
	BatchID       string
	ClassSymbol   string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Amount        string
	JournalType   string
	Timestamp     int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// RowsFromOutput flattens one ledger output into its storage rows
func RowsFromOutput(out core.Output) (EventRow, []JournalRow, error) {
	env := out.Envelope
	payload, err := env.EncodePayload()
	if err != nil {
		return EventRow{}, nil, err
	}
	balances, err := json.Marshal(env.Balances)
	if err != nil {
		return EventRow{}, nil, fmt.Errorf("encode balances: %w", err)
	}

	row := EventRow{
		ClassSymbol: env.Symbol,
		Sequence:    env.Sequence,
		EventID:     env.EventID.String(),
		EventType:   env.EventType.String(),
		CommandID:   env.CommandID,
		ClassID:     env.ClassID.String(),
		Payload:     payload,
		Balances:    balances,
		StateDigest: out.StateDigest,
		StateHash:   env.StateHash[:],
		PrevHash:    env.PrevHash[:],
		Timestamp:   env.Timestamp,
	}

	if out.Batch == nil {
		return row, nil, nil
	}
	journals := make([]JournalRow, 0, len(out.Batch.Journals))
	for _, j := range out.Batch.Journals {
		journals = append(journals, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			ClassSymbol:   env.Symbol,
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Amount:        j.Amount.Dec(),
			JournalType:   j.JournalType.String(),
			Timestamp:     j.Timestamp,
		})
	}
	return row, journals, nil
}

// WriteEventBatch writes a batch of events to event_log.events
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow, ex execer) error {
	if len(events) == 0 {
		return nil
	}
	if ex == nil {
		ex = w.db
	}

	query := `INSERT INTO event_log.events
		(class_symbol, sequence, event_id, event_type, command_id, class_id, payload, balances, state_digest, state_hash, prev_hash, timestamp)
		VALUES `

	const cols = 12
	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.ClassSymbol, e.Sequence, e.EventID, e.EventType, nullable(e.CommandID), e.ClassID,
			e.Payload, e.Balances, e.StateDigest, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (class_symbol, sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, journals []JournalRow, ex execer) error {
	if len(journals) == 0 {
		return nil
	}
	if ex == nil {
		ex = w.db
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, class_symbol, event_ref, sequence, debit_account, credit_account, amount, journal_type, timestamp)
		VALUES `

	const cols = 10
	values := make([]string, 0, len(journals))
	args := make([]any, 0, len(journals)*cols)

	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.ClassSymbol, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Amount, j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)"
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+k)
	}
	b.WriteByte(')')
	return b.String()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
