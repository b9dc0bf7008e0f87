package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"SaveLedger/internal/core"
	"SaveLedger/internal/ingestion"
	fpmath "SaveLedger/internal/math"
	"SaveLedger/internal/observability"
	"SaveLedger/internal/query"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
	maxCommandBody    = 64 << 10
)

var errHistoryUnavailable = errors.New("event history unavailable: postgres disabled")

// ClassDirectory is the registry surface the API reads from
type ClassDirectory interface {
	List() []*core.ShareLedger
	BySymbol(symbol string) (*core.ShareLedger, error)
}

// CommandDispatcher applies a parsed command
type CommandDispatcher interface {
	Dispatch(ctx context.Context, cmd *ingestion.Command, source string) (*ingestion.Result, error)
}

// HistoryReader serves persisted history; nil when Postgres is disabled
type HistoryReader interface {
	ListEvents(ctx context.Context, class string, after int64, limit int) ([]query.EventResponse, error)
	VerifyIntegrity(ctx context.Context, class string, classID uuid.UUID) (*query.IntegrityReport, error)
	GetJournalHistory(ctx context.Context, class, holder string, limit int, beforeSequence *int64) ([]query.JournalHistoryEntry, error)
}

// HTTPDeps holds what the HTTP API needs
type HTTPDeps struct {
	Classes       ClassDirectory
	Dispatcher    CommandDispatcher
	History       HistoryReader
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
}

// HTTPServer serves the JSON API on a grpc-gateway runtime mux
type HTTPServer struct {
	addr    string
	deps    HTTPDeps
	handler http.Handler
	srv     *http.Server
	logger  zerolog.Logger
}

type routeHandler func(w http.ResponseWriter, r *http.Request, params map[string]string) error

func NewHTTPServer(addr string, deps HTTPDeps) (*HTTPServer, error) {
	s := &HTTPServer{
		addr:   addr,
		deps:   deps,
		logger: observability.NewLogger("http"),
	}

	mux := runtime.NewServeMux()
	routes := []struct {
		method, pattern, name string
		h                     routeHandler
	}{
		{http.MethodGet, "/v1/classes", "list_classes", s.listClasses},
		{http.MethodGet, "/v1/classes/{symbol}", "get_class", s.getClass},
		{http.MethodGet, "/v1/classes/{symbol}/holders/{holder}", "get_holder", s.getHolder},
		{http.MethodGet, "/v1/classes/{symbol}/holders/{holder}/journal", "holder_journal", s.journal},
		{http.MethodGet, "/v1/classes/{symbol}/quote", "quote", s.quote},
		{http.MethodGet, "/v1/classes/{symbol}/events", "events", s.events},
		{http.MethodGet, "/v1/classes/{symbol}/integrity", "integrity", s.integrity},
		{http.MethodPost, "/v1/commands", "command", s.command},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, s.instrument(rt.name, rt.h)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)
	s.handler = httpMux
	return s, nil
}

// Handler exposes the routing tree, e.g. for httptest
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled and returns after in-flight requests
// complete.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Closed once in-flight requests have finished
	drained := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		close(drained)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-drained
	return nil
}

func (s *HTTPServer) instrument(route string, h routeHandler) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		m := s.deps.Metrics
		if m != nil {
			m.QueryRequests.WithLabelValues(route).Inc()
			defer func() { m.QueryDuration.WithLabelValues(route).Observe(time.Since(start).Seconds()) }()
		}

		if err := h(w, r, params); err != nil {
			code := statusOf(err)
			if m != nil {
				m.QueryErrors.WithLabelValues(route, strconv.Itoa(code)).Inc()
			}
			if code >= http.StatusInternalServerError {
				s.logger.Error().Err(err).Str("route", route).Int("status", code).Msg("request failed")
			}
			writeError(w, code, err)
		}
	}
}

// --- views ---

type classView struct {
	ID                 uuid.UUID      `json:"id"`
	Address            common.Address `json:"address"`
	Name               string         `json:"name"`
	Symbol             string         `json:"symbol"`
	Decimals           uint8          `json:"decimals"`
	Admin              common.Address `json:"admin"`
	Underlying         common.Address `json:"underlying"`
	UnderlyingSymbol   string         `json:"underlying_symbol"`
	AssetVenue         string         `json:"asset_venue"`
	InsuranceVenue     string         `json:"insurance_venue"`
	Instrument         common.Address `json:"instrument"`
	TotalSupply        *uint256.Int   `json:"total_supply"`
	TotalSupplyDisplay string         `json:"total_supply_display"`
	Paused             bool           `json:"paused"`
	Sequence           int64          `json:"sequence"`
	StateHash          common.Hash    `json:"state_hash"`
	CreatedAt          time.Time      `json:"created_at"`
}

func viewOf(l *core.ShareLedger) classView {
	c := l.Class()
	supply := l.TotalSupply()
	return classView{
		ID:                 c.ID,
		Address:            c.Address,
		Name:               c.Name,
		Symbol:             c.Symbol,
		Decimals:           c.Decimals,
		Admin:              c.Admin,
		Underlying:         c.Underlying.Address(),
		UnderlyingSymbol:   c.Underlying.Symbol(),
		AssetVenue:         c.Asset.Name(),
		InsuranceVenue:     c.Insurance.Name(),
		Instrument:         c.Insurance.Instrument(),
		TotalSupply:        supply,
		TotalSupplyDisplay: fpmath.FormatUnits(supply, c.Decimals),
		Paused:             l.Paused(),
		Sequence:           l.Sequence(),
		StateHash:          common.Hash(l.StateHash()),
		CreatedAt:          c.CreatedAt,
	}
}

type holderView struct {
	core.Position
	Class         string       `json:"class"`
	SharesDisplay string       `json:"shares_display"`
	Rewards       *uint256.Int `json:"rewards"`
	Allowance     *uint256.Int `json:"allowance,omitempty"`
	AsOfSequence  int64        `json:"as_of_sequence"`
}

type quoteView struct {
	Amount        *uint256.Int `json:"amount"`
	AssetCost     *uint256.Int `json:"asset_cost"`
	InsuranceCost *uint256.Int `json:"insurance_cost"`
	Total         *uint256.Int `json:"total"`
	TotalDisplay  string       `json:"total_display"`
}

// --- handlers ---

func (s *HTTPServer) listClasses(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	ledgers := s.deps.Classes.List()
	out := make([]classView, 0, len(ledgers))
	for _, l := range ledgers {
		out = append(out, viewOf(l))
	}
	return writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) getClass(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	l, err := s.class(params)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, viewOf(l))
}

func (s *HTTPServer) getHolder(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	l, err := s.class(params)
	if err != nil {
		return err
	}
	holder, err := parseAddress(params["holder"])
	if err != nil {
		return err
	}

	rewards, err := l.RewardsOf(r.Context(), holder)
	if err != nil {
		return err
	}
	pos := l.Position(holder)
	view := holderView{
		Position:      pos,
		Class:         l.Symbol(),
		SharesDisplay: fpmath.FormatUnits(pos.Shares, l.Decimals()),
		Rewards:       rewards,
		AsOfSequence:  l.Sequence(),
	}
	if spender := r.URL.Query().Get("spender"); spender != "" {
		addr, err := parseAddress(spender)
		if err != nil {
			return err
		}
		view.Allowance = l.Allowance(holder, addr)
	}
	return writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) quote(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	l, err := s.class(params)
	if err != nil {
		return err
	}
	amount, err := fpmath.ParseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		return badRequest(err)
	}
	q, err := l.QuoteMint(r.Context(), amount)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, quoteView{
		Amount:        amount,
		AssetCost:     q.AssetCost,
		InsuranceCost: q.InsuranceCost,
		Total:         q.Total,
		TotalDisplay:  fpmath.FormatUnits(q.Total, l.Class().Underlying.Decimals()),
	})
}

func (s *HTTPServer) events(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	l, err := s.class(params)
	if err != nil {
		return err
	}
	if s.deps.History == nil {
		return errHistoryUnavailable
	}

	after, err := intParam(r, "after", 0)
	if err != nil {
		return err
	}
	limit, err := intParam(r, "limit", defaultEventLimit)
	if err != nil {
		return err
	}
	if limit <= 0 || limit > maxEventLimit {
		limit = maxEventLimit
	}

	events, err := s.deps.History.ListEvents(r.Context(), l.Symbol(), after, int(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, events)
}

// journal pages a holder's postings newest first; ?before takes a sequence
func (s *HTTPServer) journal(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	l, err := s.class(params)
	if err != nil {
		return err
	}
	holder, err := parseAddress(params["holder"])
	if err != nil {
		return err
	}
	if s.deps.History == nil {
		return errHistoryUnavailable
	}

	limit, err := intParam(r, "limit", defaultEventLimit)
	if err != nil {
		return err
	}
	if limit <= 0 || limit > maxEventLimit {
		limit = maxEventLimit
	}
	var before *int64
	if r.URL.Query().Has("before") {
		seq, err := intParam(r, "before", 0)
		if err != nil {
			return err
		}
		before = &seq
	}

	entries, err := s.deps.History.GetJournalHistory(r.Context(), l.Symbol(), holder.Hex(), int(limit), before)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, entries)
}

func (s *HTTPServer) integrity(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	l, err := s.class(params)
	if err != nil {
		return err
	}
	if s.deps.History == nil {
		return errHistoryUnavailable
	}
	report, err := s.deps.History.VerifyIntegrity(r.Context(), l.Symbol(), l.Class().ID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) command(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		return badRequest(err)
	}
	cmd, err := ingestion.ParseCommand(body)
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.CommandsInvalid.Inc()
		}
		return err
	}

	res, err := s.deps.Dispatcher.Dispatch(r.Context(), cmd, "http")
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("command_id", cmd.CommandID).
			Str("class", cmd.Class).
			Str("op", cmd.Op).
			Msg("command refused")
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// --- helpers ---

type requestError struct{ err error }

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return &requestError{err: err} }

func (s *HTTPServer) class(params map[string]string) (*core.ShareLedger, error) {
	l, err := s.deps.Classes.BySymbol(params["symbol"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ingestion.ErrUnknownClass, err)
	}
	return l, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, badRequest(fmt.Errorf("invalid address %q", s))
	}
	return common.HexToAddress(s), nil
}

func intParam(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest(fmt.Errorf("invalid %s: %w", name, err))
	}
	return v, nil
}

// statusOf maps an error to its HTTP status
func statusOf(err error) int {
	var re *requestError
	switch {
	case errors.As(err, &re), errors.Is(err, ingestion.ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, ingestion.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ingestion.ErrUnknownClass):
		return http.StatusNotFound
	case errors.Is(err, errHistoryUnavailable):
		return http.StatusServiceUnavailable
	}

	switch core.KindOf(err) {
	case core.KindPrecondition:
		return http.StatusBadRequest
	case core.KindAdapter:
		return http.StatusBadGateway
	case core.KindAuthorization:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
	return nil
}

func writeError(w http.ResponseWriter, code int, err error) {
	body := map[string]string{"error": err.Error()}
	if kind := core.KindOf(err); kind != core.KindUnknown {
		body["kind"] = kind.String()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
