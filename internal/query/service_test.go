package query

import (
	"testing"

	"SaveLedger/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// buildChain produces n correctly linked rows starting at sequence 1
func buildChain(classID uuid.UUID, n int) []chainRow {
	prev := core.GenesisHash(classID)
	rows := make([]chainRow, 0, n)
	for i := 1; i <= n; i++ {
		digest := []byte{byte(i), 0xaa}
		h := core.ChainHash(prev, int64(i), digest)
		rows = append(rows, chainRow{
			sequence:  int64(i),
			digest:    digest,
			stateHash: append([]byte(nil), h[:]...),
			prevHash:  append([]byte(nil), prev[:]...),
		})
		prev = h
	}
	return rows
}

func verify(classID uuid.UUID, rows []chainRow) *chainVerifier {
	v := newChainVerifier(classID)
	for _, r := range rows {
		v.check(r)
	}
	return v
}

func TestChainVerifier_Intact(t *testing.T) {
	id := uuid.New()
	v := verify(id, buildChain(id, 5))
	assert.Equal(t, 5, v.checked)
	assert.Empty(t, v.gaps)
	assert.Empty(t, v.breaks)
}

func TestChainVerifier_TamperedDigest(t *testing.T) {
	id := uuid.New()
	rows := buildChain(id, 5)
	rows[2].digest = []byte{0xff}

	v := verify(id, rows)
	assert.Equal(t, []int64{3}, v.breaks)
}

func TestChainVerifier_WrongGenesis(t *testing.T) {
	rows := buildChain(uuid.New(), 2)
	v := verify(uuid.New(), rows)
	assert.Equal(t, []int64{1}, v.breaks)
}

func TestChainVerifier_Gap(t *testing.T) {
	id := uuid.New()
	rows := buildChain(id, 4)
	rows = append(rows[:1], rows[2:]...)

	v := verify(id, rows)
	assert.Equal(t, []int64{2}, v.gaps)
	// Row 3's prev hash is row 2's state hash, which the verifier never saw
	assert.Equal(t, []int64{3}, v.breaks)
}

func TestLegOf(t *testing.T) {
	assert.Equal(t, "shares", legOf("holder:0x000000000000000000000000000000000000A11c:shares"))
	assert.Equal(t, "shares", legOf("external:issuance"))
	assert.Equal(t, "asset", legOf("external:venue"))
	assert.Equal(t, "insurance", legOf("holder:0x000000000000000000000000000000000000A11c:insurance_leg"))
	assert.Equal(t, "unknown", legOf("external:fees"))
}

func TestUnbalancedLegs(t *testing.T) {
	nets := map[string]decimal.Decimal{
		"holder:0xA:shares":        decimal.RequireFromString("750"),
		"holder:0xB:shares":        decimal.RequireFromString("250"),
		"external:issuance":        decimal.RequireFromString("-1000"),
		"holder:0xA:asset_leg":     decimal.RequireFromString("1000"),
		"external:venue":           decimal.RequireFromString("-999"),
		"holder:0xA:insurance_leg": decimal.RequireFromString("115792089237316195423570985008687907853269984665640564039457584007913129639935"),
		"external:instrument":      decimal.RequireFromString("-115792089237316195423570985008687907853269984665640564039457584007913129639935"),
	}

	got := unbalancedLegs(nets)
	assert.Equal(t, []UnbalancedLeg{{Leg: "asset", Imbalance: "1"}}, got)
}
