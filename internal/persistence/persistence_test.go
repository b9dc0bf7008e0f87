package persistence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"SaveLedger/internal/core"
	"SaveLedger/internal/devnet"
	"SaveLedger/internal/registry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
)

// mintedClass creates a class, mints for alice and returns every output
func mintedClass(t *testing.T) (*devnet.Network, *core.ShareLedger, []core.Output) {
	t.Helper()
	var outputs []core.Output
	sink := core.EmitterFunc(func(o core.Output) { outputs = append(outputs, o) })

	net, err := devnet.New(devnet.Config{}, registry.WithLedgerOptions(core.WithEmitter(sink)))
	require.NoError(t, err)
	l, err := net.Registry.CreateShareClass(context.Background(), net.CompoundParams(admin))
	require.NoError(t, err)

	seed := new(uint256.Int).Mul(uint256.NewInt(1_000_000), uint256.NewInt(1_000_000_000_000_000_000))
	require.NoError(t, net.Fund(alice, seed, l))

	ctx := core.WithCommandID(context.Background(), "mint-1")
	_, err = l.Mint(ctx, alice, uint256.NewInt(1000))
	require.NoError(t, err)
	return net, l, outputs
}

func TestRowsFromOutput_MintBatch(t *testing.T) {
	_, _, outputs := mintedClass(t)
	// ShareClassCreated, SubAccountCreated, Mint
	require.Len(t, outputs, 3)

	row, journals, err := RowsFromOutput(outputs[1])
	require.NoError(t, err)
	assert.Equal(t, "saveDAI", row.ClassSymbol)
	assert.Equal(t, int64(2), row.Sequence)
	assert.Equal(t, "SubAccountCreated", row.EventType)
	assert.Equal(t, "mint-1", row.CommandID)
	assert.Len(t, row.StateHash, 32)
	assert.NotEmpty(t, row.StateDigest)

	// The batch rides on the first output of the operation
	require.Len(t, journals, 3)
	for _, j := range journals {
		assert.Equal(t, "1000", j.Amount)
		assert.Equal(t, "mint", j.JournalType)
		assert.Equal(t, "mint-1", j.EventRef)
		assert.Contains(t, j.DebitAccount, "holder:")
		assert.Contains(t, j.CreditAccount, "external:")
	}

	row, journals, err = RowsFromOutput(outputs[2])
	require.NoError(t, err)
	assert.Equal(t, "Mint", row.EventType)
	assert.Equal(t, outputs[1].Envelope.StateHash[:], row.PrevHash)
	assert.Empty(t, journals)
	assert.Contains(t, string(row.Balances), `"shares":"1000"`)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "($1, $2, $3)", placeholders(0, 3))
	assert.Equal(t, "($4, $5)", placeholders(3, 2))
}

func TestLastSequences(t *testing.T) {
	got := lastSequences([]EventRow{
		{ClassSymbol: "saveDAI", Sequence: 3},
		{ClassSymbol: "saveADAI", Sequence: 7},
		{ClassSymbol: "saveDAI", Sequence: 5},
	})
	assert.Equal(t, map[string]int64{"saveDAI": 5, "saveADAI": 7}, got)
}

func TestMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_projections.up.sql", "000001_event_log.up.sql",
		"000001_event_log.down.sql", "README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644))
	}

	m := NewMigrator(nil, dir)
	files, err := m.listMigrationFiles(".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_event_log.up.sql", "000002_projections.up.sql"}, files)

	assert.Equal(t, "000002", extractVersion(files[1]))
	assert.Equal(t, []string{"000002_projections.up.sql"}, pendingFiles(files, map[string]bool{"000001": true}))
}

func TestMigrationsDirectoryIsPaired(t *testing.T) {
	m := NewMigrator(nil, filepath.Join("..", "..", "migrations"))
	ups, err := m.listMigrationFiles(".up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	for _, up := range ups {
		down := up[:len(up)-len(".up.sql")] + ".down.sql"
		_, err := os.Stat(filepath.Join("..", "..", "migrations", down))
		assert.NoError(t, err, "missing %s", down)
	}
}

type memStore struct {
	snaps    []*core.SnapshotState
	verified []bool
	fail     bool
}

func (s *memStore) SaveSnapshot(_ context.Context, snap *core.SnapshotState, verified bool) (int, error) {
	if s.fail {
		return 0, errors.New("db down")
	}
	s.snaps = append(s.snaps, snap)
	s.verified = append(s.verified, verified)
	return 128, nil
}

func TestSnapshotter_SkipsUnchangedClasses(t *testing.T) {
	net, l, _ := mintedClass(t)
	store := &memStore{}
	s := NewSnapshotter(store, net.Registry, 0, nil)

	assert.Equal(t, 1, s.SnapshotAll(context.Background()))
	require.Len(t, store.snaps, 1)
	assert.True(t, store.verified[0])
	assert.Equal(t, l.Sequence(), store.snaps[0].Sequence)
	assert.Equal(t, common.Hash(l.StateHash()), store.snaps[0].StateHash)

	// Nothing moved
	assert.Equal(t, 0, s.SnapshotAll(context.Background()))

	require.NoError(t, l.Pause(context.Background(), admin))
	assert.Equal(t, 1, s.SnapshotAll(context.Background()))
	assert.True(t, store.snaps[1].Paused)
}

func TestSnapshotter_RetriesAfterWriteFailure(t *testing.T) {
	net, _, _ := mintedClass(t)
	store := &memStore{fail: true}
	s := NewSnapshotter(store, net.Registry, 0, nil)

	assert.Equal(t, 0, s.SnapshotAll(context.Background()))
	store.fail = false
	assert.Equal(t, 1, s.SnapshotAll(context.Background()))
}
