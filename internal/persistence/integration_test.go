package persistence_test

import (
	"context"
	"testing"
	"time"

	"SaveLedger/internal/core"
	"SaveLedger/internal/devnet"
	"SaveLedger/internal/observability"
	"SaveLedger/internal/persistence"
	"SaveLedger/internal/projection"
	"SaveLedger/internal/query"
	"SaveLedger/internal/registry"
	"SaveLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_EventLogRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := common.HexToAddress("0x00000000000000000000000000000000000000ad")
	alice := common.HexToAddress("0x000000000000000000000000000000000000A11c")
	bob := common.HexToAddress("0x0000000000000000000000000000000000000B0b")

	persistChan := make(chan core.Output, 64)
	projectionChan := make(chan core.Output, 64)
	emitter := &core.ChannelEmitter{Persist: persistChan, Projection: projectionChan}

	net, err := devnet.New(devnet.Config{}, registry.WithLedgerOptions(core.WithEmitter(emitter)))
	require.NoError(t, err)
	l, err := net.Registry.CreateShareClass(ctx, net.CompoundParams(admin))
	require.NoError(t, err)

	seed := new(uint256.Int).Mul(uint256.NewInt(1_000_000), uint256.NewInt(1_000_000_000_000_000_000))
	require.NoError(t, net.Fund(alice, seed, l))
	_, err = l.Mint(core.WithCommandID(ctx, "mint-1"), alice, uint256.NewInt(1000))
	require.NoError(t, err)
	_, err = l.Transfer(core.WithCommandID(ctx, "xfer-1"), alice, bob, uint256.NewInt(250))
	require.NoError(t, err)
	close(persistChan)
	close(projectionChan)

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	require.NoError(t, persistence.NewPersistenceWorker(db, persistChan, 10, 5*time.Millisecond, metrics).Run(ctx))
	require.NoError(t, projection.NewProjectionWorker(db, projectionChan, metrics).Run(ctx))

	qs := query.NewQueryService(db)
	events, err := qs.ListEvents(ctx, "saveDAI", 0, 100)
	require.NoError(t, err)
	require.Len(t, events, int(l.Sequence()))
	assert.Equal(t, "ShareClassCreated", events[0].EventType)
	assert.Equal(t, "Transfer", events[len(events)-1].EventType)

	report, err := qs.VerifyIntegrity(ctx, "saveDAI", l.Class().ID)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy, "%+v", report)
	assert.Equal(t, len(events), report.EventsChecked)

	bal, err := qs.GetHolderBalance(ctx, "saveDAI", bob.Hex())
	require.NoError(t, err)
	assert.Equal(t, "250", bal.Shares)
	assert.Equal(t, l.Sequence(), bal.AsOfSequence)

	// Rebuilding from the event log yields the same projection
	require.NoError(t, projection.RebuildProjections(ctx, db))
	bal, err = qs.GetHolderBalance(ctx, "saveDAI", bob.Hex())
	require.NoError(t, err)
	assert.Equal(t, "250", bal.Shares)

	journal, err := qs.GetJournalHistory(ctx, "saveDAI", bob.Hex(), 10, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, journal)

	dedup := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := dedup.IsDuplicate("saveDAI", "xfer-1")
	require.NoError(t, err)
	assert.True(t, dup)
	dup, err = dedup.IsDuplicate("saveDAI", "xfer-2")
	require.NoError(t, err)
	assert.False(t, dup)

	keys, err := dedup.RecentKeys(ctx, 10)
	require.NoError(t, err)
	assert.Contains(t, keys, core.DedupKey("saveDAI", "mint-1"))

	snaps := persistence.NewSnapshotManager(db)
	_, err = snaps.SaveSnapshot(ctx, l.Snapshot(), true)
	require.NoError(t, err)
	loaded, err := snaps.LoadLatestSnapshot(ctx, "saveDAI")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, l.Sequence(), loaded.Sequence)
	assert.Equal(t, common.Hash(l.StateHash()), loaded.StateHash)

	latest, err := snaps.GetLatestSequence(ctx, "saveDAI")
	require.NoError(t, err)
	assert.Equal(t, l.Sequence(), latest)
}
