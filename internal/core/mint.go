package core

import (
	"context"
	"fmt"
	"time"

	"SaveLedger/internal/event"
	"SaveLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

const (
	OpMint                       = "mint"
	OpTransfer                   = "transfer"
	OpTransferFrom               = "transferFrom"
	OpApprove                    = "approve"
	OpWithdrawForUnderlyingAsset = "withdrawForUnderlyingAsset"
	OpWithdrawAll                = "withdrawAll"
	OpWithdrawReward             = "withdrawReward"
	OpGetRewardsBalance          = "getRewardsBalance"
	OpPause                      = "pause"
	OpUnpause                    = "unpause"
	OpCreate                     = "create"
)

// MintQuote is the underlying a depositor must approve to mint an amount
type MintQuote struct {
	AssetCost     *uint256.Int `json:"asset_cost"`
	InsuranceCost *uint256.Int `json:"insurance_cost"`
	Total         *uint256.Int `json:"total"`
}

// Mint issues amount shares to holder. The holder pays the venue cost of
// amount position units plus the gateway cost of amount insurance units, in
// one pull of the underlying; any part of the pull the venues did not spend
// is refunded.
func (l *ShareLedger) Mint(ctx context.Context, holder common.Address, amount *uint256.Int) (*event.Mint, error) {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.observe(OpMint, start)

	if l.paused {
		return nil, l.reject(OpMint, precondition(OpMint, ErrPaused))
	}
	if !validAmount(amount) {
		return nil, l.reject(OpMint, precondition(OpMint, ErrInvalidAmount))
	}
	if zeroAddress(holder) {
		return nil, l.reject(OpMint, precondition(OpMint, ErrInvalidAddress))
	}

	expired, err := l.class.Insurance.HasExpired(ctx)
	if err != nil {
		l.adapterError("insurance_expiry")
		return nil, l.reject(OpMint, adapterFailure(OpMint, fmt.Errorf("check insurance expiry: %w", err)))
	}
	if expired {
		return nil, l.reject(OpMint, precondition(OpMint, ErrInsuranceExpired))
	}

	quote, err := l.quoteMint(ctx, amount)
	if err != nil {
		return nil, l.reject(OpMint, err)
	}

	s := &saga{}
	p, minted, err := l.prepareMint(ctx, s, holder, amount, quote)
	if err != nil {
		l.rollback(ctx, OpMint, s)
		return nil, l.reject(OpMint, err)
	}

	l.commit(ctx, p)
	l.logger.Debug().
		Str("holder", holder.Hex()).
		Str("amount", amount.Dec()).
		Str("cost", quote.Total.Dec()).
		Msg("minted")
	return minted, nil
}

func (l *ShareLedger) prepareMint(ctx context.Context, s *saga, holder common.Address, amount *uint256.Int, quote *MintQuote) (*pending, *event.Mint, error) {
	self := l.class.Address
	underlying := l.class.Underlying
	before := underlying.BalanceOf(self)

	if err := underlying.TransferFrom(self, holder, self, quote.Total); err != nil {
		return nil, nil, precondition(OpMint, fmt.Errorf("%w: %v", ErrPullFailed, err))
	}
	// Venue rounding can leave less than quote.Total behind once rates have
	// moved, so only what the ledger still holds from this pull goes back.
	s.add("refund_pull", func(ctx context.Context) error {
		now := underlying.BalanceOf(self)
		if !now.Gt(before) {
			return nil
		}
		refund := new(uint256.Int).Sub(now, before)
		if refund.Gt(quote.Total) {
			refund = quote.Total
		}
		return underlying.Transfer(self, holder, refund)
	})

	sub, created := l.farmers.Ensure(holder, l.clock().UTC())
	if created {
		s.add("forget_sub_account", func(ctx context.Context) error {
			l.farmers.Forget(holder)
			return nil
		})
	}

	preDeposit := underlying.BalanceOf(self)
	received, err := l.class.Asset.Deposit(ctx, self, sub.Address, amount)
	if err != nil {
		l.adapterError("asset_deposit")
		return nil, nil, adapterFailure(OpMint, fmt.Errorf("deposit asset leg: %w", err))
	}
	depositCost := new(uint256.Int)
	if postDeposit := underlying.BalanceOf(self); postDeposit.Lt(preDeposit) {
		depositCost.Sub(preDeposit, postDeposit)
	}
	s.add("revert_asset_leg", func(ctx context.Context) error {
		return l.class.Asset.RevertDeposit(ctx, sub.Address, received, depositCost, self)
	})
	if !received.Eq(amount) {
		l.adapterError("asset_deposit")
		return nil, nil, adapterFailure(OpMint, fmt.Errorf("venue opened %s position units, expected %s", received.Dec(), amount.Dec()))
	}

	units, err := l.class.Insurance.Acquire(ctx, self, amount)
	if err != nil {
		l.adapterError("insurance_acquire")
		return nil, nil, adapterFailure(OpMint, fmt.Errorf("acquire insurance leg: %w", err))
	}
	s.add("dispose_insurance_leg", func(ctx context.Context) error {
		_, err := l.class.Insurance.Dispose(ctx, self, units, self)
		return err
	})
	if !units.Eq(amount) {
		l.adapterError("insurance_acquire")
		return nil, nil, adapterFailure(OpMint, fmt.Errorf("instrument delivered %s units, expected %s", units.Dec(), amount.Dec()))
	}

	after := underlying.BalanceOf(self)
	if after.Lt(before) {
		l.adapterError("underlying_accounting")
		return nil, nil, adapterFailure(OpMint, fmt.Errorf("venues spent %s more than pulled", new(uint256.Int).Sub(before, after).Dec()))
	}
	if leftover := new(uint256.Int).Sub(after, before); !leftover.IsZero() {
		if err := underlying.Transfer(self, holder, leftover); err != nil {
			return nil, nil, adapterFailure(OpMint, fmt.Errorf("refund unspent underlying: %w", err))
		}
		s.add("reclaim_refund", func(ctx context.Context) error {
			return underlying.Transfer(holder, self, leftover)
		})
	}

	l.journalGen.SetSequence(l.sequence + 1)
	batch, err := l.journalGen.GenerateMint(l.eventRef(ctx, OpMint), holder, ledger.LegAmounts{
		Shares:    amount,
		AssetLeg:  amount,
		Insurance: amount,
	}, l.timestamp())
	if err != nil {
		return nil, nil, precondition(OpMint, err)
	}

	minted := &event.Mint{
		Holder:        holder,
		Amount:        amount.Clone(),
		AssetCost:     quote.AssetCost,
		InsuranceCost: quote.InsuranceCost,
	}

	p := &pending{op: OpMint, batch: batch, touched: []common.Address{holder}}
	if created {
		p.events = append(p.events, &event.SubAccountCreated{Holder: holder, SubAccount: sub.Address})
		if l.metrics != nil {
			l.metrics.SubAccountsCreated.WithLabelValues(l.class.Symbol).Inc()
		}
	}
	p.events = append(p.events, minted)
	return p, minted, nil
}

func (l *ShareLedger) quoteMint(ctx context.Context, amount *uint256.Int) (*MintQuote, error) {
	assetCost, err := l.class.Asset.QuoteDeposit(ctx, amount)
	if err != nil {
		l.adapterError("asset_quote")
		return nil, adapterFailure(OpMint, fmt.Errorf("quote asset leg: %w", err))
	}
	insuranceCost, err := l.class.Gateway.QuoteCostOf(ctx, l.class.Insurance.Instrument(), amount)
	if err != nil {
		l.adapterError("insurance_quote")
		return nil, adapterFailure(OpMint, fmt.Errorf("quote insurance leg: %w", err))
	}

	total, overflow := new(uint256.Int).AddOverflow(assetCost, insuranceCost)
	if overflow {
		return nil, precondition(OpMint, fmt.Errorf("%w: mint cost overflows", ErrInvalidAmount))
	}
	return &MintQuote{AssetCost: assetCost, InsuranceCost: insuranceCost, Total: total}, nil
}

// eventRef names the journal batch: the command id when there is one
func (l *ShareLedger) eventRef(ctx context.Context, op string) string {
	if id := CommandIDFrom(ctx); id != "" {
		return id
	}
	return op + ":" + uuid.NewString()
}
