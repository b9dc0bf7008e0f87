package projection_test

import (
	"context"
	"strings"
	"testing"

	"SaveLedger/internal/core"
	"SaveLedger/internal/devnet"
	"SaveLedger/internal/projection"
	"SaveLedger/internal/registry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceRows_TransferTouchesBothHolders(t *testing.T) {
	admin := common.HexToAddress("0x00000000000000000000000000000000000000ad")
	alice := common.HexToAddress("0x000000000000000000000000000000000000A11c")
	bob := common.HexToAddress("0x0000000000000000000000000000000000000B0b")

	var outputs []core.Output
	sink := core.EmitterFunc(func(o core.Output) { outputs = append(outputs, o) })
	net, err := devnet.New(devnet.Config{}, registry.WithLedgerOptions(core.WithEmitter(sink)))
	require.NoError(t, err)
	l, err := net.Registry.CreateShareClass(context.Background(), net.CompoundParams(admin))
	require.NoError(t, err)

	seed := new(uint256.Int).Mul(uint256.NewInt(1_000_000), uint256.NewInt(1_000_000_000_000_000_000))
	require.NoError(t, net.Fund(alice, seed, l))
	_, err = l.Mint(context.Background(), alice, uint256.NewInt(1000))
	require.NoError(t, err)
	_, err = l.Transfer(context.Background(), alice, bob, uint256.NewInt(250))
	require.NoError(t, err)

	last := outputs[len(outputs)-1]
	require.Equal(t, "Transfer", last.Envelope.EventType.String())

	rows := projection.BalanceRows(last)
	require.Len(t, rows, 2)

	byHolder := map[string]projection.HolderBalanceRow{}
	for _, r := range rows {
		assert.Equal(t, "saveDAI", r.ClassSymbol)
		assert.Equal(t, last.Envelope.Sequence, r.LastSequence)
		byHolder[r.Holder] = r
	}

	a := byHolder[strings.ToLower(alice.Hex())]
	assert.Equal(t, "750", a.Shares)
	assert.Equal(t, "750", a.AssetLeg)
	assert.Equal(t, "750", a.InsuranceLeg)

	b := byHolder[strings.ToLower(bob.Hex())]
	assert.Equal(t, "250", b.Shares)
	assert.Equal(t, "250", b.AssetLeg)
	assert.Equal(t, "250", b.InsuranceLeg)
}
