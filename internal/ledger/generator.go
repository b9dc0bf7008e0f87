package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// LegAmounts is one amount per holder sub-type, in HolderSubTypes order
type LegAmounts struct {
	Shares    *uint256.Int
	AssetLeg  *uint256.Int
	Insurance *uint256.Int
}

func (a LegAmounts) bySubType() [len(HolderSubTypes)]*uint256.Int {
	return [...]*uint256.Int{a.Shares, a.AssetLeg, a.Insurance}
}

// JournalGenerator creates balanced journal batches for ledger operations
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// SetSequence moves the generator to a restored sequence
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

// GenerateMint issues shares and both legs to a holder.
// Moves units: external:<unit> → holder:<unit>
func (jg *JournalGenerator) GenerateMint(ref string, holder common.Address, amounts LegAmounts, timestamp int64) (*Batch, error) {
	batch := jg.newBatch(ref, timestamp)
	for i, amt := range amounts.bySubType() {
		st := HolderSubTypes[i]
		jg.appendJournal(batch, NewHolderAccountKey(holder, st), ExternalCounterpart(st), amt, JournalTypeMint)
	}
	jg.sequence++
	return batch, nil
}

// GenerateTransfer moves shares and leg claims between holders.
// Pre-check: sender must hold every amount being moved.
func (jg *JournalGenerator) GenerateTransfer(ref string, from, to common.Address, amounts LegAmounts, timestamp int64) (*Batch, error) {
	if from == to {
		return nil, fmt.Errorf("transfer pre-check failed: sender and recipient are both %s", from.Hex())
	}
	if err := jg.precheck(from, amounts); err != nil {
		return nil, fmt.Errorf("transfer pre-check failed: %w", err)
	}

	batch := jg.newBatch(ref, timestamp)
	for i, amt := range amounts.bySubType() {
		st := HolderSubTypes[i]
		jg.appendJournal(batch, NewHolderAccountKey(to, st), NewHolderAccountKey(from, st), amt, JournalTypeTransfer)
	}
	jg.sequence++
	return batch, nil
}

// GenerateBurn returns shares and released legs to the boundary accounts.
// Moves units: holder:<unit> → external:<unit>
func (jg *JournalGenerator) GenerateBurn(ref string, holder common.Address, amounts LegAmounts, timestamp int64) (*Batch, error) {
	if err := jg.precheck(holder, amounts); err != nil {
		return nil, fmt.Errorf("burn pre-check failed: %w", err)
	}

	batch := jg.newBatch(ref, timestamp)
	for i, amt := range amounts.bySubType() {
		st := HolderSubTypes[i]
		jg.appendJournal(batch, ExternalCounterpart(st), NewHolderAccountKey(holder, st), amt, JournalTypeBurn)
	}
	jg.sequence++
	return batch, nil
}

func (jg *JournalGenerator) precheck(holder common.Address, amounts LegAmounts) error {
	for i, amt := range amounts.bySubType() {
		if amt == nil || amt.IsZero() {
			continue
		}
		key := NewHolderAccountKey(holder, HolderSubTypes[i])
		if err := jg.balanceTracker.ValidateSufficient(key, amt); err != nil {
			return err
		}
	}
	return nil
}

func (jg *JournalGenerator) newBatch(ref string, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  ref,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(HolderSubTypes)),
	}
}

// appendJournal skips zero amounts; a leg rounded down to nothing moves nothing.
func (jg *JournalGenerator) appendJournal(batch *Batch, debit, credit AccountKey, amount *uint256.Int, jt JournalType) {
	if amount == nil || amount.IsZero() {
		return
	}
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      batch.EventRef,
		Sequence:      batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount.Clone(),
		JournalType:   jt,
		Timestamp:     batch.Timestamp,
	})
}
