package core

import (
	"context"
	"fmt"

	"SaveLedger/internal/farmer"
	"SaveLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Position is a holder's full view of one share class
type Position struct {
	Holder       common.Address  `json:"holder"`
	Shares       *uint256.Int    `json:"shares"`
	AssetLeg     *uint256.Int    `json:"asset_leg"`
	InsuranceLeg *uint256.Int    `json:"insurance_leg"`
	SubAccount   *common.Address `json:"sub_account,omitempty"`
}

func (l *ShareLedger) Class() ShareClass {
	return l.class
}

func (l *ShareLedger) Name() string    { return l.class.Name }
func (l *ShareLedger) Symbol() string  { return l.class.Symbol }
func (l *ShareLedger) Decimals() uint8 { return l.class.Decimals }

func (l *ShareLedger) TotalSupply() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tracker.Outstanding(ledger.SubTypeShares)
}

func (l *ShareLedger) BalanceOf(holder common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tracker.HolderShares(holder)
}

func (l *ShareLedger) Allowance(owner, spender common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowance(owner, spender)
}

// GetAssetBalance returns holder's claim on the venue position
func (l *ShareLedger) GetAssetBalance(holder common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tracker.HolderAssetLeg(holder)
}

// GetInsuranceBalance returns holder's claim on the pooled instrument units
func (l *ShareLedger) GetInsuranceBalance(holder common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tracker.HolderInsuranceLeg(holder)
}

// SubAccountOf returns holder's sub-account, if one was ever created
func (l *ShareLedger) SubAccountOf(holder common.Address) (farmer.SubAccount, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sa, ok := l.farmers.Get(holder)
	if !ok {
		return farmer.SubAccount{}, false
	}
	return *sa, true
}

func (l *ShareLedger) SubAccounts() []farmer.SubAccount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.farmers.All()
}

func (l *ShareLedger) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// Sequence returns the sequence of the last committed event
func (l *ShareLedger) Sequence() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequence
}

// StateHash returns the tip of the hash chain
func (l *ShareLedger) StateHash() [32]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasher.GetPrevHash()
}

func (l *ShareLedger) Holders() []common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tracker.Holders()
}

func (l *ShareLedger) Position(holder common.Address) Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := Position{
		Holder:       holder,
		Shares:       l.tracker.HolderShares(holder),
		AssetLeg:     l.tracker.HolderAssetLeg(holder),
		InsuranceLeg: l.tracker.HolderInsuranceLeg(holder),
	}
	if sa, ok := l.farmers.Get(holder); ok {
		addr := sa.Address
		pos.SubAccount = &addr
	}
	return pos
}

// QuoteMint prices a mint of amount shares without executing it
func (l *ShareLedger) QuoteMint(ctx context.Context, amount *uint256.Int) (*MintQuote, error) {
	if !validAmount(amount) {
		return nil, precondition(OpMint, ErrInvalidAmount)
	}
	return l.quoteMint(ctx, amount)
}

// CostOfInsurance returns the underlying needed to buy amount insurance units
func (l *ShareLedger) CostOfInsurance(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	if !validAmount(amount) {
		return new(uint256.Int), nil
	}
	cost, err := l.class.Gateway.QuoteCostOf(ctx, l.class.Insurance.Instrument(), amount)
	if err != nil {
		return nil, adapterFailure("costOfInsurance", err)
	}
	return cost, nil
}

// VerifyInvariants re-checks the ledger against itself and the venues:
// shares and legs are conserved, no holder keeps a leg without shares, the
// pooled instrument units cover every insurance leg and every sub-account's
// venue position covers its holder's asset leg.
func (l *ShareLedger) VerifyInvariants(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	for _, h := range l.tracker.Holders() {
		if err := l.validator.ValidateHolder(h); err != nil {
			return err
		}
	}

	pooled, err := l.class.Insurance.Holdings(ctx, l.class.Address)
	if err != nil {
		return fmt.Errorf("read pooled insurance: %w", err)
	}
	if err := l.validator.ValidatePooledInsurance(pooled); err != nil {
		return err
	}

	for _, sa := range l.farmers.All() {
		leg := l.tracker.HolderAssetLeg(sa.Holder)
		position, err := l.class.Asset.PositionOf(ctx, sa.Address)
		if err != nil {
			return fmt.Errorf("read position of %s: %w", sa.Address.Hex(), err)
		}
		if position.Lt(leg) {
			return fmt.Errorf("sub-account %s holds %s position units, below asset leg %s of %s",
				sa.Address.Hex(), position.Dec(), leg.Dec(), sa.Holder.Hex())
		}
	}
	return nil
}
