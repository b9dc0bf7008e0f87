package query

import (
	"encoding/json"
	"time"
)

// EventResponse is one persisted event as served by the history API
type EventResponse struct {
	Sequence  int64           `json:"sequence"`
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	CommandID string          `json:"command_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Balances  json.RawMessage `json:"balances,omitempty"`
	StateHash string          `json:"state_hash"`
	PrevHash  string          `json:"prev_hash"`
	Timestamp time.Time       `json:"timestamp"`
}

// HolderBalanceResponse is a holder's projected position. Amounts are
// decimal strings of raw units.
type HolderBalanceResponse struct {
	Class        string `json:"class"`
	Holder       string `json:"holder"`
	Shares       string `json:"shares"`
	AssetLeg     string `json:"asset_leg"`
	InsuranceLeg string `json:"insurance_leg"`
	LastSequence int64  `json:"last_sequence"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check
type IntegrityReport struct {
	Class           string          `json:"class"`
	IsHealthy       bool            `json:"is_healthy"`
	EventsChecked   int             `json:"events_checked"`
	SequenceGaps    []int64         `json:"sequence_gaps,omitempty"`
	HashChainBreaks []int64         `json:"hash_chain_breaks,omitempty"`
	UnbalancedLegs  []UnbalancedLeg `json:"unbalanced_legs,omitempty"`
}

// UnbalancedLeg is a leg whose journal postings do not net to zero
type UnbalancedLeg struct {
	Leg       string `json:"leg"`
	Imbalance string `json:"imbalance"`
}
