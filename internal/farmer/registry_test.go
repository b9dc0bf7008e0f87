package farmer_test

import (
	"SaveLedger/internal/farmer"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ledgerAddr = common.HexToAddress("0x5a7e000000000000000000000000000000000001")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestDeriveAddress_Deterministic(t *testing.T) {
	a1 := farmer.DeriveAddress(ledgerAddr, alice)
	a2 := farmer.DeriveAddress(ledgerAddr, alice)
	if a1 != a2 {
		t.Errorf("derivation not deterministic: %s vs %s", a1.Hex(), a2.Hex())
	}
	if a1 == (common.Address{}) {
		t.Error("derived zero address")
	}
}

func TestDeriveAddress_IsolatedPerHolderAndLedger(t *testing.T) {
	other := common.HexToAddress("0x5a7e000000000000000000000000000000000002")

	if farmer.DeriveAddress(ledgerAddr, alice) == farmer.DeriveAddress(ledgerAddr, bob) {
		t.Error("two holders share a sub-account address")
	}
	if farmer.DeriveAddress(ledgerAddr, alice) == farmer.DeriveAddress(other, alice) {
		t.Error("one holder shares a sub-account address across ledgers")
	}
}

func TestRegistry_EnsureCreatesOnce(t *testing.T) {
	r := farmer.NewRegistry(ledgerAddr)
	now := time.Unix(1_600_000_000, 0)

	sa, created := r.Ensure(alice, now)
	if !created {
		t.Fatal("first Ensure should create")
	}
	if sa.Address != farmer.DeriveAddress(ledgerAddr, alice) {
		t.Errorf("address: got %s, want derived address", sa.Address.Hex())
	}

	again, created := r.Ensure(alice, now.Add(time.Hour))
	if created {
		t.Error("second Ensure should not create")
	}
	if again.ID != sa.ID {
		t.Error("second Ensure returned a different sub-account")
	}
	if r.Len() != 1 {
		t.Errorf("len: got %d, want 1", r.Len())
	}
}

func TestRegistry_Forget(t *testing.T) {
	r := farmer.NewRegistry(ledgerAddr)
	r.Ensure(alice, time.Now())
	r.Forget(alice)

	if _, ok := r.Get(alice); ok {
		t.Error("sub-account still present after Forget")
	}
}

func TestRegistry_AllSortedAndRestorable(t *testing.T) {
	r := farmer.NewRegistry(ledgerAddr)
	r.Ensure(bob, time.Now())
	r.Ensure(alice, time.Now())

	all := r.All()
	if len(all) != 2 || all[0].Holder != alice || all[1].Holder != bob {
		t.Fatalf("got %v, want [alice bob]", all)
	}

	restored := farmer.NewRegistry(ledgerAddr)
	restored.Restore(all)
	sa, ok := restored.Get(bob)
	if !ok || sa.ID != all[1].ID {
		t.Error("restore lost bob's sub-account")
	}
}
