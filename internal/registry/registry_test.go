package registry_test

import (
	"context"
	"testing"

	"SaveLedger/internal/core"
	"SaveLedger/internal/devnet"
	"SaveLedger/internal/registry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var admin = common.HexToAddress("0x00000000000000000000000000000000000000ad")

func TestCreateShareClass_AnnouncesAndIndexes(t *testing.T) {
	var outputs []core.Output
	sink := core.EmitterFunc(func(o core.Output) { outputs = append(outputs, o) })
	net, err := devnet.New(devnet.Config{}, registry.WithLedgerOptions(core.WithEmitter(sink)))
	require.NoError(t, err)

	classes, err := net.CreateDefaultClasses(context.Background(), admin)
	require.NoError(t, err)
	require.Len(t, classes, 2)
	assert.Equal(t, 2, net.Registry.Len())

	// One creation event per class, each opening its own sequence
	require.Len(t, outputs, 2)
	for i, o := range outputs {
		assert.Equal(t, "ShareClassCreated", o.Envelope.EventType.String())
		assert.Equal(t, int64(1), o.Envelope.Sequence)
		assert.Equal(t, classes[i].Class().ID, o.Envelope.ClassID)
		assert.Equal(t, core.GenesisHash(classes[i].Class().ID), [32]byte(o.Envelope.PrevHash))
	}

	// Ledger addresses follow the registry's creation nonce
	assert.Equal(t, crypto.CreateAddress(net.Registry.Address(), 0), classes[0].Class().Address)
	assert.Equal(t, crypto.CreateAddress(net.Registry.Address(), 1), classes[1].Class().Address)
}

func TestLookups(t *testing.T) {
	net, err := devnet.New(devnet.Config{})
	require.NoError(t, err)
	classes, err := net.CreateDefaultClasses(context.Background(), admin)
	require.NoError(t, err)

	byID, err := net.Registry.Get(classes[1].Class().ID)
	require.NoError(t, err)
	assert.Same(t, classes[1], byID)

	bySymbol, err := net.Registry.BySymbol(" SAVEdai ")
	require.NoError(t, err)
	assert.Same(t, classes[0], bySymbol)

	at, err := net.Registry.At(1)
	require.NoError(t, err)
	assert.Same(t, classes[1], at)

	_, err = net.Registry.Get(uuid.New())
	assert.ErrorIs(t, err, registry.ErrNotFound)
	_, err = net.Registry.BySymbol("saveUSDC")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	_, err = net.Registry.At(2)
	assert.ErrorIs(t, err, registry.ErrNotFound)
	_, err = net.Registry.At(-1)
	assert.ErrorIs(t, err, registry.ErrNotFound)

	list := net.Registry.List()
	list[0] = nil
	assert.NotNil(t, net.Registry.List()[0], "List must return a copy")
}

func TestCreateShareClass_RejectsDuplicateSymbol(t *testing.T) {
	net, err := devnet.New(devnet.Config{})
	require.NoError(t, err)
	_, err = net.Registry.CreateShareClass(context.Background(), net.CompoundParams(admin))
	require.NoError(t, err)

	params := net.AaveParams(admin)
	params.Symbol = "SAVEDAI"
	_, err = net.Registry.CreateShareClass(context.Background(), params)
	assert.ErrorIs(t, err, registry.ErrDuplicateSymbol)
	assert.Equal(t, 1, net.Registry.Len())

	// A refused creation does not consume a nonce
	l, err := net.Registry.CreateShareClass(context.Background(), net.AaveParams(admin))
	require.NoError(t, err)
	assert.Equal(t, crypto.CreateAddress(net.Registry.Address(), 1), l.Class().Address)
}
