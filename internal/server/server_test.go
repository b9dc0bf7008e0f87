package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"SaveLedger/internal/core"
	"SaveLedger/internal/devnet"
	"SaveLedger/internal/ingestion"
	"SaveLedger/internal/observability"
	"SaveLedger/internal/query"
	"SaveLedger/internal/server"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const aliceHex = "0x000000000000000000000000000000000000a11c"

var admin = common.HexToAddress("0x00000000000000000000000000000000000000ad")

type fakeHistory struct {
	class        string
	after        int64
	limit        int
	integrityFor uuid.UUID
	holder       string
	before       *int64
}

func (f *fakeHistory) ListEvents(_ context.Context, class string, after int64, limit int) ([]query.EventResponse, error) {
	f.class, f.after, f.limit = class, after, limit
	return []query.EventResponse{{Sequence: after + 1, EventType: "Mint"}}, nil
}

func (f *fakeHistory) VerifyIntegrity(_ context.Context, class string, classID uuid.UUID) (*query.IntegrityReport, error) {
	f.integrityFor = classID
	return &query.IntegrityReport{Class: class, IsHealthy: true}, nil
}

func (f *fakeHistory) GetJournalHistory(_ context.Context, class, holder string, limit int, before *int64) ([]query.JournalHistoryEntry, error) {
	f.class, f.holder, f.limit, f.before = class, holder, limit, before
	return []query.JournalHistoryEntry{{Sequence: 3, Amount: "1000", JournalType: "mint"}}, nil
}

type apiFixture struct {
	t       *testing.T
	net     *devnet.Network
	srv     *httptest.Server
	history *fakeHistory
}

func newAPI(t *testing.T, withHistory bool) *apiFixture {
	t.Helper()
	return newAPIWith(t, withHistory, ingestion.WithTrustedIngress())
}

func newAPIWith(t *testing.T, withHistory bool, opts ...ingestion.DispatcherOption) *apiFixture {
	t.Helper()
	net, err := devnet.New(devnet.Config{})
	require.NoError(t, err)
	classes, err := net.CreateDefaultClasses(context.Background(), admin)
	require.NoError(t, err)

	seed := new(uint256.Int).Mul(uint256.NewInt(1_000_000), uint256.NewInt(1_000_000_000_000_000_000))
	require.NoError(t, net.Fund(common.HexToAddress(aliceHex), seed, classes[0]))

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	dispatcher := ingestion.NewDispatcher(net.Registry, core.NewIdempotencyChecker(100, nil, metrics), metrics, zerolog.Nop(), opts...)
	health := observability.NewHealthChecker()
	health.SetReady(true)

	f := &apiFixture{t: t, net: net}
	deps := server.HTTPDeps{
		Classes:       net.Registry,
		Dispatcher:    dispatcher,
		HealthChecker: health,
		Metrics:       metrics,
	}
	if withHistory {
		f.history = &fakeHistory{}
		deps.History = f.history
	}

	api, err := server.NewHTTPServer(":0", deps)
	require.NoError(t, err)
	f.srv = httptest.NewServer(api.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *apiFixture) get(path string) (int, map[string]any) {
	f.t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func (f *apiFixture) post(body string) (int, map[string]any) {
	f.t.Helper()
	resp, err := http.Post(f.srv.URL+"/v1/commands", "application/json", strings.NewReader(body))
	require.NoError(f.t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHTTP_ListClasses(t *testing.T) {
	f := newAPI(t, false)
	resp, err := http.Get(f.srv.URL + "/v1/classes")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var classes []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&classes))
	require.Len(t, classes, 2)
	assert.Equal(t, "saveDAI", classes[0]["symbol"])
	assert.Equal(t, "saveADAI", classes[1]["symbol"])
	assert.Equal(t, "DAI", classes[0]["underlying_symbol"])
	assert.Equal(t, "0", classes[0]["total_supply"])
}

func TestHTTP_UnknownClassIs404(t *testing.T) {
	f := newAPI(t, false)
	code, body := f.get("/v1/classes/saveUSDC")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body["error"], "unknown share class")
}

func TestHTTP_MintThenReadHolder(t *testing.T) {
	f := newAPI(t, false)

	code, body := f.post(`{"command_id":"http-1","class":"saveDAI","op":"mint","caller":"` + aliceHex + `","amount":"1000"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "saveDAI", body["class"])
	assert.NotNil(t, body["event"])

	code, holder := f.get("/v1/classes/saveDAI/holders/" + aliceHex)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1000", holder["shares"])
	assert.Equal(t, "1000", holder["asset_leg"])
	assert.Equal(t, "1000", holder["insurance_leg"])
	assert.Equal(t, "0.00001", holder["shares_display"])
	assert.NotEmpty(t, holder["sub_account"])

	// Replaying the same command id is reported, not re-applied
	code, body = f.post(`{"command_id":"http-1","class":"saveDAI","op":"mint","caller":"` + aliceHex + `","amount":"1000"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["duplicate"])

	_, holder = f.get("/v1/classes/saveDAI/holders/" + aliceHex)
	assert.Equal(t, "1000", holder["shares"])
}

func TestHTTP_CommandErrorsMapToStatus(t *testing.T) {
	f := newAPI(t, false)
	bob := "0x0000000000000000000000000000000000000b0b"

	code, body := f.post(`{"class":"saveDAI","op":"pause","caller":"` + aliceHex + `"}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "authorization_violation", body["kind"])

	// bob never approved the ledger to pull DAI
	code, body = f.post(`{"class":"saveDAI","op":"mint","caller":"` + bob + `","amount":"5"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "precondition_violation", body["kind"])

	code, _ = f.post(`{"class":"saveDAI","op":"mint"`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.post(`{"class":"saveUSDC","op":"withdrawAll","caller":"` + aliceHex + `"}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHTTP_SignedCommands(t *testing.T) {
	f := newAPIWith(t, false)

	// Unsigned commands are refused before they reach a ledger
	code, body := f.post(`{"command_id":"p-1","class":"saveDAI","op":"pause","caller":"` + admin.Hex() + `"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Contains(t, body["error"], "unauthenticated")

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	holder := crypto.PubkeyToAddress(key.PublicKey)
	l, err := f.net.Registry.BySymbol("saveDAI")
	require.NoError(t, err)
	require.NoError(t, f.net.Fund(holder, new(uint256.Int).Mul(uint256.NewInt(1_000_000), uint256.NewInt(1_000_000_000_000_000_000)), l))

	cmd := &ingestion.Command{CommandID: "m-1", Class: "saveDAI", Op: core.OpMint, Caller: holder, Amount: uint256.NewInt(1000)}
	require.NoError(t, cmd.Sign(key))
	payload, err := json.Marshal(map[string]string{
		"command_id": cmd.CommandID,
		"class":      cmd.Class,
		"op":         cmd.Op,
		"caller":     holder.Hex(),
		"amount":     "1000",
		"signature":  hexutil.Encode(cmd.Signature),
	})
	require.NoError(t, err)

	code, body = f.post(string(payload))
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, uint256.NewInt(1000), l.BalanceOf(holder))
}

func TestHTTP_Quote(t *testing.T) {
	f := newAPI(t, false)

	code, q := f.get("/v1/classes/saveDAI/quote?amount=1000000")
	require.Equal(t, http.StatusOK, code)

	asset := uint256.MustFromDecimal(q["asset_cost"].(string))
	ins := uint256.MustFromDecimal(q["insurance_cost"].(string))
	total := uint256.MustFromDecimal(q["total"].(string))
	assert.Equal(t, new(uint256.Int).Add(asset, ins), total)
	assert.False(t, ins.IsZero())

	code, _ = f.get("/v1/classes/saveDAI/quote?amount=abc")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.get("/v1/classes/saveDAI/quote")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHTTP_EventsNeedHistory(t *testing.T) {
	f := newAPI(t, false)
	code, _ := f.get("/v1/classes/saveDAI/events")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestHTTP_EventsPassPaging(t *testing.T) {
	f := newAPI(t, true)

	resp, err := http.Get(f.srv.URL + "/v1/classes/savedai/events?after=7&limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events []query.EventResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	require.Len(t, events, 1)
	assert.Equal(t, int64(8), events[0].Sequence)
	assert.Equal(t, "saveDAI", f.history.class)
	assert.Equal(t, int64(7), f.history.after)
	assert.Equal(t, 5, f.history.limit)

	code, _ := f.get("/v1/classes/saveDAI/events?after=x")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHTTP_JournalHistory(t *testing.T) {
	f := newAPI(t, true)

	code, _ := f.get("/v1/classes/saveDAI/holders/" + aliceHex + "/journal?limit=20")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "saveDAI", f.history.class)
	assert.Equal(t, common.HexToAddress(aliceHex).Hex(), f.history.holder)
	assert.Equal(t, 20, f.history.limit)
	assert.Nil(t, f.history.before)

	code, _ = f.get("/v1/classes/saveDAI/holders/" + aliceHex + "/journal?before=9")
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, f.history.before)
	assert.Equal(t, int64(9), *f.history.before)

	code, _ = f.get("/v1/classes/saveDAI/holders/alice/journal")
	assert.Equal(t, http.StatusBadRequest, code)

	g := newAPI(t, false)
	code, _ = g.get("/v1/classes/saveDAI/holders/" + aliceHex + "/journal")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestHTTP_Integrity(t *testing.T) {
	f := newAPI(t, true)
	code, report := f.get("/v1/classes/saveADAI/integrity")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, report["is_healthy"])

	l, err := f.net.Registry.BySymbol("saveADAI")
	require.NoError(t, err)
	assert.Equal(t, l.Class().ID, f.history.integrityFor)
}

func TestHTTP_Health(t *testing.T) {
	f := newAPI(t, false)
	code, body := f.get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", body["status"])

	code, body = f.get("/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
}

func TestGRPC_ClassHealthFollowsPause(t *testing.T) {
	net, err := devnet.New(devnet.Config{})
	require.NoError(t, err)
	classes, err := net.CreateDefaultClasses(context.Background(), admin)
	require.NoError(t, err)

	g := server.NewGRPCServer(":0", net.Registry)
	ctx := context.Background()

	st, err := g.Check(ctx, server.HealthServiceName("saveDAI"))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	require.NoError(t, classes[0].Pause(ctx, admin))
	g.SyncHealth()

	st, err = g.Check(ctx, server.HealthServiceName("saveDAI"))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)

	st, err = g.Check(ctx, server.HealthServiceName("saveADAI"))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	_, err = g.Check(ctx, server.HealthServiceName("saveUSDC"))
	assert.Error(t, err)
}
