// Package registry is the share class factory. It wires a new share ledger
// to its venues, keeps every class it created in creation order and announces
// each one with a ShareClassCreated event.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"SaveLedger/internal/adapter"
	"SaveLedger/internal/core"
	"SaveLedger/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrDuplicateSymbol = errors.New("share class symbol already registered")
	ErrNotFound        = errors.New("share class not found")
)

// Params is the wiring of a new share class
type Params struct {
	Name     string
	Symbol   string
	Decimals uint8
	Admin    common.Address

	Underlying adapter.Token
	Asset      adapter.AssetAdapter
	Insurance  adapter.InsuranceAdapter
	Gateway    adapter.PricingGateway
}

// Registry creates share ledgers. Ledger addresses are derived from the
// registry address and a creation nonce, the way contract addresses are.
type Registry struct {
	mu sync.RWMutex

	address  common.Address
	nonce    uint64
	classes  []*core.ShareLedger
	byID     map[uuid.UUID]*core.ShareLedger
	bySymbol map[string]*core.ShareLedger

	ledgerOpts []core.Option
	metrics    *observability.Metrics
	logger     zerolog.Logger
	clock      func() time.Time
}

type Option func(*Registry)

// WithLedgerOptions applies opts to every ledger the registry creates
func WithLedgerOptions(opts ...core.Option) Option {
	return func(r *Registry) { r.ledgerOpts = append(r.ledgerOpts, opts...) }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

func New(address common.Address, opts ...Option) *Registry {
	r := &Registry{
		address:  address,
		byID:     make(map[uuid.UUID]*core.ShareLedger),
		bySymbol: make(map[string]*core.ShareLedger),
		logger:   zerolog.Nop(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Address() common.Address {
	return r.address
}

// CreateShareClass builds and registers a ledger for params
func (r *Registry) CreateShareClass(ctx context.Context, params Params) (*core.ShareLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := symbolKey(params.Symbol)
	if _, exists := r.bySymbol[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSymbol, params.Symbol)
	}

	class := core.ShareClass{
		ID:         uuid.New(),
		Address:    crypto.CreateAddress(r.address, r.nonce),
		Name:       params.Name,
		Symbol:     params.Symbol,
		Decimals:   params.Decimals,
		Admin:      params.Admin,
		Underlying: params.Underlying,
		Asset:      params.Asset,
		Insurance:  params.Insurance,
		Gateway:    params.Gateway,
		CreatedAt:  r.clock().UTC(),
	}

	opts := append([]core.Option{
		core.WithLogger(r.logger),
		core.WithMetrics(r.metrics),
		core.WithClock(r.clock),
	}, r.ledgerOpts...)

	l, err := core.NewShareLedger(class, opts...)
	if err != nil {
		return nil, fmt.Errorf("create share class: %w", err)
	}

	if _, err := l.AnnounceCreation(ctx); err != nil {
		return nil, fmt.Errorf("create share class: %w", err)
	}

	r.nonce++
	r.classes = append(r.classes, l)
	r.byID[class.ID] = l
	r.bySymbol[key] = l

	if r.metrics != nil {
		r.metrics.ShareClasses.Set(float64(len(r.classes)))
	}
	r.logger.Info().
		Str("class", class.Symbol).
		Str("ledger", class.Address.Hex()).
		Str("asset_adapter", class.Asset.Name()).
		Str("insurance_adapter", class.Insurance.Name()).
		Msg("share class created")

	return l, nil
}

// List returns every class in creation order
func (r *Registry) List() []*core.ShareLedger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.ShareLedger, len(r.classes))
	copy(out, r.classes)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.classes)
}

func (r *Registry) Get(id uuid.UUID) (*core.ShareLedger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.byID[id]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// BySymbol looks a class up by symbol, ignoring case
func (r *Registry) BySymbol(symbol string) (*core.ShareLedger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.bySymbol[symbolKey(symbol)]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
}

// At returns the class created index-th, counting from zero
func (r *Registry) At(index int) (*core.ShareLedger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.classes) {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	return r.classes[index], nil
}

func symbolKey(symbol string) string {
	return strings.ToLower(strings.TrimSpace(symbol))
}
