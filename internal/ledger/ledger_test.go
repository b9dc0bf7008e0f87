package ledger_test

import (
	"SaveLedger/internal/ledger"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func legs(shares, asset, ins uint64) ledger.LegAmounts {
	return ledger.LegAmounts{Shares: u(shares), AssetLeg: u(asset), Insurance: u(ins)}
}

func mint(t *testing.T, bt *ledger.BalanceTracker, gen *ledger.JournalGenerator, holder common.Address, amount uint64) {
	t.Helper()
	batch, err := gen.GenerateMint("mint", holder, legs(amount, amount, amount), 0)
	if err != nil {
		t.Fatalf("generate mint: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply mint: %v", err)
	}
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_HolderPath(t *testing.T) {
	key := ledger.NewHolderAccountKey(alice, ledger.SubTypeAssetLeg)

	path := key.AccountPath()
	expected := "holder:" + alice.Hex() + ":asset_leg"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.ExternalCounterpart(ledger.SubTypeInsuranceLeg)

	if path := key.AccountPath(); path != "external:instrument" {
		t.Errorf("got %q, want %q", path, "external:instrument")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	if !bt.HolderShares(alice).IsZero() {
		t.Errorf("initial balance should be 0, got %s", bt.HolderShares(alice).Dec())
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewHolderAccountKey(alice, ledger.SubTypeShares),
		CreditAccount: ledger.ExternalCounterpart(ledger.SubTypeShares),
		Amount:        u(1_000_000),
	})

	if got := bt.HolderShares(alice).Uint64(); got != 1_000_000 {
		t.Errorf("shares: got %d, want 1_000_000", got)
	}
	if got := bt.Outstanding(ledger.SubTypeShares).Uint64(); got != 1_000_000 {
		t.Errorf("outstanding: got %d, want 1_000_000", got)
	}
}

func TestBalanceTracker_GetBalanceReturnsCopy(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(1, bt)
	mint(t, bt, gen, alice, 10)

	v := bt.HolderShares(alice)
	v.SetUint64(999)

	if got := bt.HolderShares(alice).Uint64(); got != 10 {
		t.Errorf("tracker mutated through returned value: got %d", got)
	}
}

func TestBalanceTracker_ApplyBatchRejectsOverdraftAtomically(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(1, bt)
	mint(t, bt, gen, alice, 100)

	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewHolderAccountKey(bob, ledger.SubTypeShares),
				CreditAccount: ledger.NewHolderAccountKey(alice, ledger.SubTypeShares),
				Amount:        u(50),
			},
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewHolderAccountKey(bob, ledger.SubTypeAssetLeg),
				CreditAccount: ledger.NewHolderAccountKey(alice, ledger.SubTypeAssetLeg),
				Amount:        u(101),
			},
		},
	}

	if err := bt.ApplyBatch(batch); err == nil {
		t.Fatal("expected overdraft to be rejected")
	}
	if got := bt.HolderShares(bob).Uint64(); got != 0 {
		t.Errorf("partial batch applied: bob shares %d", got)
	}
	if got := bt.HolderShares(alice).Uint64(); got != 100 {
		t.Errorf("partial batch applied: alice shares %d", got)
	}
}

func TestBalanceTracker_Holders(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(1, bt)
	mint(t, bt, gen, bob, 1)
	mint(t, bt, gen, alice, 1)

	holders := bt.Holders()
	if len(holders) != 2 || holders[0] != alice || holders[1] != bob {
		t.Errorf("got %v, want [alice bob]", holders)
	}
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatch_EmptyRejected(t *testing.T) {
	b := &ledger.Batch{BatchID: uuid.New()}
	if err := b.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatch_ZeroAmountRejected(t *testing.T) {
	batchID := uuid.New()
	b := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewHolderAccountKey(alice, ledger.SubTypeShares),
			CreditAccount: ledger.ExternalCounterpart(ledger.SubTypeShares),
			Amount:        u(0),
		}},
	}
	if err := b.Validate(); err == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatch_SelfTransferRejected(t *testing.T) {
	batchID := uuid.New()
	key := ledger.NewHolderAccountKey(alice, ledger.SubTypeShares)
	b := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  key,
			CreditAccount: key,
			Amount:        u(1),
		}},
	}
	if err := b.Validate(); err == nil {
		t.Error("self transfer should fail validation")
	}
}

func TestBatch_MismatchedBatchIDRejected(t *testing.T) {
	b := &ledger.Batch{
		BatchID: uuid.New(),
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       uuid.New(),
			DebitAccount:  ledger.NewHolderAccountKey(alice, ledger.SubTypeShares),
			CreditAccount: ledger.ExternalCounterpart(ledger.SubTypeShares),
			Amount:        u(1),
		}},
	}
	if err := b.Validate(); err == nil {
		t.Error("mismatched batch id should fail validation")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestJournalGenerator_MintCreditsAllLegs(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(7, bt)

	batch, err := gen.GenerateMint("cmd-1", alice, legs(48921671711, 48921671711, 48921671711), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Journals) != 3 {
		t.Fatalf("journals: got %d, want 3", len(batch.Journals))
	}
	if batch.Sequence != 7 {
		t.Errorf("sequence: got %d, want 7", batch.Sequence)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	for _, v := range []*uint256.Int{bt.HolderShares(alice), bt.HolderAssetLeg(alice), bt.HolderInsuranceLeg(alice)} {
		if v.Uint64() != 48921671711 {
			t.Errorf("got %s, want 48921671711", v.Dec())
		}
	}
}

func TestJournalGenerator_TransferSkipsZeroLegs(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(1, bt)
	mint(t, bt, gen, alice, 3)

	batch, err := gen.GenerateTransfer("cmd-2", alice, bob, legs(1, 0, 1), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Journals) != 2 {
		t.Errorf("journals: got %d, want 2", len(batch.Journals))
	}
}

func TestJournalGenerator_TransferPrecheck(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(1, bt)
	mint(t, bt, gen, alice, 3)

	if _, err := gen.GenerateTransfer("cmd-3", alice, bob, legs(4, 0, 0), 0); err == nil {
		t.Error("expected pre-check failure for overdraft")
	}
	if _, err := gen.GenerateTransfer("cmd-4", alice, alice, legs(1, 1, 1), 0); err == nil {
		t.Error("expected pre-check failure for self transfer")
	}
}

func TestJournalGenerator_BurnReturnsToExternal(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(1, bt)
	mint(t, bt, gen, alice, 10)

	batch, err := gen.GenerateBurn("cmd-5", alice, legs(10, 10, 10), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !bt.Outstanding(ledger.SubTypeShares).IsZero() {
		t.Errorf("outstanding shares: got %s, want 0", bt.Outstanding(ledger.SubTypeShares).Dec())
	}
	if len(bt.Holders()) != 0 {
		t.Errorf("expected no holders after full burn, got %d", len(bt.Holders()))
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(1, bt)
	v := ledger.NewInvariantValidator(bt)
	mint(t, bt, gen, alice, 100)

	batch, _ := gen.GenerateTransfer("t", alice, bob, legs(25, 25, 25), 0)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("unexpected violation: %v", err)
	}
}

func TestInvariantValidator_GlobalBalanceDetectsDrift(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	bt.SetBalance(ledger.NewHolderAccountKey(alice, ledger.SubTypeShares), u(5))

	if err := v.ValidateGlobalBalance(); err == nil {
		t.Error("expected violation for unbacked shares")
	}
}

func TestInvariantValidator_OrphanLeg(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(1, bt)
	v := ledger.NewInvariantValidator(bt)
	mint(t, bt, gen, alice, 4)

	batch, _ := gen.GenerateBurn("w", alice, legs(4, 3, 4), 0)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if err := v.ValidateHolder(alice); err == nil {
		t.Error("expected violation: asset leg left with zero shares")
	}
}

func TestInvariantValidator_PooledInsurance(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(1, bt)
	v := ledger.NewInvariantValidator(bt)
	mint(t, bt, gen, alice, 10)

	if err := v.ValidatePooledInsurance(u(10)); err != nil {
		t.Errorf("unexpected violation: %v", err)
	}
	if err := v.ValidatePooledInsurance(u(9)); err == nil {
		t.Error("expected violation when pool is short")
	}
}
