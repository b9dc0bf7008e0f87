package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SaveLedger/internal/adapter"
	"SaveLedger/internal/event"
	"SaveLedger/internal/farmer"
	"SaveLedger/internal/ledger"
	"SaveLedger/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// ShareClass is the immutable wiring of one share ledger
type ShareClass struct {
	ID       uuid.UUID
	Address  common.Address
	Name     string
	Symbol   string
	Decimals uint8
	Admin    common.Address

	Underlying adapter.Token
	Asset      adapter.AssetAdapter
	Insurance  adapter.InsuranceAdapter
	Gateway    adapter.PricingGateway

	CreatedAt time.Time
}

// Validate checks every wire is connected
func (c *ShareClass) Validate() error {
	switch {
	case c.ID == uuid.Nil:
		return fmt.Errorf("share class: missing id")
	case c.Address == (common.Address{}):
		return fmt.Errorf("share class %s: missing ledger address", c.Symbol)
	case c.Symbol == "":
		return fmt.Errorf("share class: missing symbol")
	case c.Admin == (common.Address{}):
		return fmt.Errorf("share class %s: missing admin", c.Symbol)
	case c.Underlying == nil:
		return fmt.Errorf("share class %s: missing underlying token", c.Symbol)
	case c.Asset == nil:
		return fmt.Errorf("share class %s: missing asset adapter", c.Symbol)
	case c.Insurance == nil:
		return fmt.Errorf("share class %s: missing insurance adapter", c.Symbol)
	case c.Gateway == nil:
		return fmt.Errorf("share class %s: missing pricing gateway", c.Symbol)
	}
	return nil
}

// ShareLedger owns the shares, legs, allowances and sub-accounts of one
// share class. Public operations are serialized; ledger state changes only
// once every venue step of an operation has succeeded.
type ShareLedger struct {
	mu sync.Mutex

	class  ShareClass
	paused bool

	sequence   int64
	hasher     *StateHasher
	tracker    *ledger.BalanceTracker
	journalGen *ledger.JournalGenerator
	validator  *ledger.InvariantValidator
	farmers    *farmer.Registry
	allowances map[common.Address]map[common.Address]*uint256.Int

	emitter Emitter
	metrics *observability.Metrics
	logger  zerolog.Logger
	clock   func() time.Time
}

// Option configures a ShareLedger
type Option func(*ShareLedger)

func WithEmitter(e Emitter) Option {
	return func(l *ShareLedger) { l.emitter = e }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(l *ShareLedger) { l.metrics = m }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *ShareLedger) { l.logger = logger }
}

// WithClock sets the source of event timestamps
func WithClock(clock func() time.Time) Option {
	return func(l *ShareLedger) { l.clock = clock }
}

func NewShareLedger(class ShareClass, opts ...Option) (*ShareLedger, error) {
	if err := class.Validate(); err != nil {
		return nil, err
	}

	tracker := ledger.NewBalanceTracker()
	l := &ShareLedger{
		class:      class,
		hasher:     NewStateHasher(class.ID),
		tracker:    tracker,
		journalGen: ledger.NewJournalGenerator(1, tracker),
		validator:  ledger.NewInvariantValidator(tracker),
		farmers:    farmer.NewRegistry(class.Address),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
		logger:     zerolog.Nop(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With().Str("class", class.Symbol).Logger()
	return l, nil
}

type commandIDKey struct{}

// WithCommandID tags ctx with the id of the command being executed; the id
// is carried on every event the operation emits.
func WithCommandID(ctx context.Context, commandID string) context.Context {
	return context.WithValue(ctx, commandIDKey{}, commandID)
}

// CommandIDFrom returns the command id set by WithCommandID, if any
func CommandIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(commandIDKey{}).(string)
	return id
}

// pending is an operation whose venue steps are done and whose ledger
// effects are ready to commit.
type pending struct {
	op      string
	batch   *ledger.Batch
	events  []event.Event
	touched []common.Address
}

// commit applies the pending batch, extends the hash chain once per event
// and emits the outputs. Must be called with l.mu held.
func (l *ShareLedger) commit(ctx context.Context, p *pending) []*event.EventEnvelope {
	if p.batch != nil && len(p.batch.Journals) > 0 {
		if err := l.validator.ValidateBatchBalance(p.batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch for %s: %v", p.op, err))
		}
		if err := l.tracker.ApplyBatch(p.batch); err != nil {
			panic(fmt.Sprintf("FATAL: pre-checked batch for %s rejected: %v", p.op, err))
		}
	}

	if err := l.postCheckInvariants(p.touched); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s: %v", p.op, err))
	}

	now := l.clock().UTC()
	balances := l.holderBalances(p.touched)
	commandID := CommandIDFrom(ctx)

	envelopes := make([]*event.EventEnvelope, 0, len(p.events))
	for i, evt := range p.events {
		l.sequence++

		digest := l.computeStateDigest(evt, balances)
		prevHash := l.hasher.GetPrevHash()
		stateHash := l.hasher.ComputeHash(l.sequence, digest)

		envelope := &event.EventEnvelope{
			EventID:   uuid.New(),
			Sequence:  l.sequence,
			CommandID: commandID,
			EventType: evt.EventType(),
			ClassID:   l.class.ID,
			Symbol:    l.class.Symbol,
			Timestamp: now,
			Payload:   evt,
			Balances:  balances,
			StateHash: stateHash,
			PrevHash:  prevHash,
		}
		envelopes = append(envelopes, envelope)

		out := Output{Envelope: envelope, StateDigest: digest}
		if i == 0 && p.batch != nil && len(p.batch.Journals) > 0 {
			out.Batch = p.batch
		}
		if l.emitter != nil {
			l.emitter.Emit(out)
		}
	}
	l.journalGen.SetSequence(l.sequence + 1)

	if l.metrics != nil {
		l.metrics.LedgerOpsApplied.WithLabelValues(l.class.Symbol, p.op).Inc()
		l.metrics.LedgerSequence.WithLabelValues(l.class.Symbol).Set(float64(l.sequence))
		supply := l.tracker.Outstanding(ledger.SubTypeShares)
		l.metrics.LedgerTotalSupply.WithLabelValues(l.class.Symbol).Set(supply.Float64())
		if p.batch != nil {
			for _, j := range p.batch.Journals {
				l.metrics.LedgerJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}
	return envelopes
}

func (l *ShareLedger) postCheckInvariants(touched []common.Address) error {
	for _, h := range touched {
		if err := l.validator.ValidateHolder(h); err != nil {
			return err
		}
	}
	return l.validator.ValidateGlobalBalance()
}

func (l *ShareLedger) holderBalances(holders []common.Address) []event.HolderBalance {
	out := make([]event.HolderBalance, 0, len(holders))
	seen := make(map[common.Address]bool, len(holders))
	for _, h := range holders {
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, event.HolderBalance{
			Holder:       h,
			Shares:       l.tracker.HolderShares(h),
			AssetLeg:     l.tracker.HolderAssetLeg(h),
			InsuranceLeg: l.tracker.HolderInsuranceLeg(h),
		})
	}
	return out
}

// computeStateDigest creates canonical bytes for the state hash: the event
// type, the touched holders' balances and the outstanding total per unit.
func (l *ShareLedger) computeStateDigest(evt event.Event, balances []event.HolderBalance) []byte {
	digest := make([]byte, 0, 4+len(balances)*(20+3*32)+3*32)

	digest = append(digest, byte(evt.EventType()>>24), byte(evt.EventType()>>16),
		byte(evt.EventType()>>8), byte(evt.EventType()))

	for _, b := range balances {
		digest = append(digest, b.Holder.Bytes()...)
		digest = appendWord(digest, b.Shares)
		digest = appendWord(digest, b.AssetLeg)
		digest = appendWord(digest, b.InsuranceLeg)
	}

	for _, st := range ledger.HolderSubTypes {
		digest = appendWord(digest, l.tracker.Outstanding(st))
	}
	return digest
}

func appendWord(buf []byte, v *uint256.Int) []byte {
	word := v.Bytes32()
	return append(buf, word[:]...)
}

// reject records a refused operation and passes the error through
func (l *ShareLedger) reject(op string, err error) error {
	kind := KindOf(err)
	if l.metrics != nil {
		l.metrics.LedgerOpsRejected.WithLabelValues(l.class.Symbol, op, kind.String()).Inc()
	}
	l.logger.Warn().Err(err).Str("op", op).Str("kind", kind.String()).Msg("operation rejected")
	return err
}

func (l *ShareLedger) observe(op string, start time.Time) {
	if l.metrics != nil {
		l.metrics.LedgerOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (l *ShareLedger) adapterError(step string) {
	if l.metrics != nil {
		l.metrics.AdapterErrors.WithLabelValues(l.class.Symbol, step).Inc()
	}
}

func (l *ShareLedger) timestamp() int64 {
	return l.clock().UnixMicro()
}

func validAmount(amount *uint256.Int) bool {
	return amount != nil && !amount.IsZero()
}

func zeroAddress(a common.Address) bool {
	return a == (common.Address{})
}
