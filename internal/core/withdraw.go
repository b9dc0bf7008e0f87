package core

import (
	"context"
	"fmt"
	"time"

	"SaveLedger/internal/event"
	"SaveLedger/internal/ledger"
	fpmath "SaveLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// WithdrawForUnderlyingAsset burns amount of holder's shares and pays out
// the underlying behind the released share of both legs.
func (l *ShareLedger) WithdrawForUnderlyingAsset(ctx context.Context, holder common.Address, amount *uint256.Int) (*event.WithdrawForUnderlyingAsset, error) {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.observe(OpWithdrawForUnderlyingAsset, start)

	if !validAmount(amount) {
		return nil, l.reject(OpWithdrawForUnderlyingAsset, precondition(OpWithdrawForUnderlyingAsset, ErrInvalidAmount))
	}

	r, err := l.redeem(ctx, OpWithdrawForUnderlyingAsset, holder, amount, func(r event.Redemption) event.Event {
		return &event.WithdrawForUnderlyingAsset{Redemption: r}
	})
	if err != nil {
		return nil, err
	}
	return r.(*event.WithdrawForUnderlyingAsset), nil
}

// WithdrawAll burns every share holder owns and releases both legs in full
func (l *ShareLedger) WithdrawAll(ctx context.Context, holder common.Address) (*event.WithdrawAll, error) {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.observe(OpWithdrawAll, start)

	r, err := l.redeem(ctx, OpWithdrawAll, holder, nil, func(r event.Redemption) event.Event {
		return &event.WithdrawAll{Redemption: r}
	})
	if err != nil {
		return nil, err
	}
	return r.(*event.WithdrawAll), nil
}

// redeem runs a withdrawal; a nil amount releases the whole position
func (l *ShareLedger) redeem(ctx context.Context, op string, holder common.Address, amount *uint256.Int, wrap func(event.Redemption) event.Event) (event.Event, error) {
	shares := l.tracker.HolderShares(holder)
	if shares.IsZero() {
		return nil, l.reject(op, precondition(op, ErrZeroBalance))
	}

	var assetOut, insuranceOut *uint256.Int
	if amount == nil {
		amount = shares
		assetOut = l.tracker.HolderAssetLeg(holder)
		insuranceOut = l.tracker.HolderInsuranceLeg(holder)
	} else {
		if shares.Lt(amount) {
			return nil, l.reject(op, precondition(op, ErrZeroBalance))
		}
		var err error
		if assetOut, err = fpmath.ProRata(amount, l.tracker.HolderAssetLeg(holder), shares); err != nil {
			return nil, l.reject(op, precondition(op, err))
		}
		if insuranceOut, err = fpmath.ProRata(amount, l.tracker.HolderInsuranceLeg(holder), shares); err != nil {
			return nil, l.reject(op, precondition(op, err))
		}
	}

	s := &saga{}
	p, evt, err := l.prepareRedeem(ctx, s, op, holder, amount, assetOut, insuranceOut, wrap)
	if err != nil {
		l.rollback(ctx, op, s)
		return nil, l.reject(op, err)
	}

	l.commit(ctx, p)
	l.logger.Debug().
		Str("op", op).
		Str("holder", holder.Hex()).
		Str("shares", amount.Dec()).
		Msg("redeemed")
	return evt, nil
}

func (l *ShareLedger) prepareRedeem(
	ctx context.Context,
	s *saga,
	op string,
	holder common.Address,
	amount, assetOut, insuranceOut *uint256.Int,
	wrap func(event.Redemption) event.Event,
) (*pending, event.Event, error) {
	self := l.class.Address
	sub, hasSub := l.farmers.Get(holder)

	redemption := event.Redemption{
		Holder:             holder,
		Amount:             amount.Clone(),
		AssetLegReleased:   assetOut.Clone(),
		InsuranceReleased:  insuranceOut.Clone(),
		UnderlyingReturned: new(uint256.Int),
		RewardsSwept:       new(uint256.Int),
	}

	l.journalGen.SetSequence(l.sequence + 1)
	batch, err := l.journalGen.GenerateBurn(l.eventRef(ctx, op), holder, ledger.LegAmounts{
		Shares:    amount,
		AssetLeg:  assetOut,
		Insurance: insuranceOut,
	}, l.timestamp())
	if err != nil {
		return nil, nil, precondition(op, err)
	}

	if !assetOut.IsZero() {
		if !hasSub {
			return nil, nil, precondition(op, fmt.Errorf("%w: %s", ErrNoSubAccount, holder.Hex()))
		}
		position, err := l.class.Asset.PositionOf(ctx, sub.Address)
		if err != nil {
			l.adapterError("asset_position")
			return nil, nil, adapterFailure(op, fmt.Errorf("%w: %v", ErrSettlement, err))
		}
		if position.Lt(assetOut) {
			return nil, nil, adapterFailure(op, fmt.Errorf("%w: position %s below asset leg %s", ErrSettlement, position.Dec(), assetOut.Dec()))
		}
	}

	dispose := false
	if !insuranceOut.IsZero() {
		expired, err := l.class.Insurance.HasExpired(ctx)
		if err != nil {
			l.adapterError("insurance_expiry")
			return nil, nil, adapterFailure(op, fmt.Errorf("check insurance expiry: %w", err))
		}
		// An expired claim is released without proceeds; the units stay pooled
		redemption.InsuranceExpired = expired
		dispose = !expired
	}

	// The asset withdrawal is reverted exactly if a later step fails. Buying
	// insurance units back costs more than selling them paid, so the sale is
	// the last venue step and only the payout can fail after it.
	payout := new(uint256.Int)
	if !assetOut.IsZero() {
		underlying, err := l.class.Asset.Withdraw(ctx, sub.Address, assetOut, self)
		if err != nil {
			l.adapterError("asset_withdraw")
			return nil, nil, adapterFailure(op, fmt.Errorf("%w: %v", ErrSettlement, err))
		}
		s.add("revert_asset_withdraw", func(ctx context.Context) error {
			return l.class.Asset.RevertWithdraw(ctx, self, sub.Address, assetOut, underlying)
		})
		payout.Add(payout, underlying)
	}

	if dispose {
		proceeds, err := l.class.Insurance.Dispose(ctx, self, insuranceOut, self)
		if err != nil {
			l.adapterError("insurance_dispose")
			return nil, nil, adapterFailure(op, fmt.Errorf("dispose insurance leg: %w", err))
		}
		s.add("reacquire_insurance_leg", func(ctx context.Context) error {
			_, err := l.class.Insurance.Acquire(ctx, self, insuranceOut)
			return err
		})
		payout.Add(payout, proceeds)
	}

	if !payout.IsZero() {
		if err := l.class.Underlying.Transfer(self, holder, payout); err != nil {
			l.adapterError("underlying_payout")
			return nil, nil, adapterFailure(op, fmt.Errorf("pay out underlying: %w", err))
		}
	}
	redemption.UnderlyingReturned = payout

	// Rewards stay claimable at the sub-account if the sweep fails
	if hasSub {
		swept, err := l.class.Asset.ClaimReward(ctx, sub.Address, holder)
		if err != nil {
			l.adapterError("reward_claim")
			l.logger.Warn().Err(err).Str("holder", holder.Hex()).Msg("reward sweep failed; rewards stay claimable")
		} else {
			redemption.RewardsSwept = swept
		}
	}

	evt := wrap(redemption)
	return &pending{
		op:      op,
		batch:   batch,
		events:  []event.Event{evt},
		touched: []common.Address{holder},
	}, evt, nil
}

// WithdrawReward claims every venue reward accrued to holder's sub-account
func (l *ShareLedger) WithdrawReward(ctx context.Context, holder common.Address) (*event.WithdrawReward, error) {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.observe(OpWithdrawReward, start)

	sub, ok := l.farmers.Get(holder)
	if !ok {
		return nil, l.reject(OpWithdrawReward, precondition(OpWithdrawReward, ErrNoSubAccount))
	}

	claimed, err := l.class.Asset.ClaimReward(ctx, sub.Address, holder)
	if err != nil {
		l.adapterError("reward_claim")
		return nil, l.reject(OpWithdrawReward, adapterFailure(OpWithdrawReward, fmt.Errorf("claim reward: %w", err)))
	}

	withdrawn := &event.WithdrawReward{Holder: holder, Amount: claimed}
	l.commit(ctx, &pending{
		op:      OpWithdrawReward,
		events:  []event.Event{withdrawn},
		touched: []common.Address{holder},
	})
	return withdrawn, nil
}

// GetRewardsBalance reports holder's accrued venue rewards and records the
// read as a RewardsBalance event.
func (l *ShareLedger) GetRewardsBalance(ctx context.Context, holder common.Address) (*event.RewardsBalance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	amount, err := l.rewardsOf(ctx, holder)
	if err != nil {
		return nil, l.reject(OpGetRewardsBalance, err)
	}

	balance := &event.RewardsBalance{Holder: holder, Amount: amount}
	l.commit(ctx, &pending{
		op:      OpGetRewardsBalance,
		events:  []event.Event{balance},
		touched: []common.Address{holder},
	})
	return balance, nil
}

// RewardsOf returns holder's accrued venue rewards without recording anything
func (l *ShareLedger) RewardsOf(ctx context.Context, holder common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rewardsOf(ctx, holder)
}

func (l *ShareLedger) rewardsOf(ctx context.Context, holder common.Address) (*uint256.Int, error) {
	sub, ok := l.farmers.Get(holder)
	if !ok {
		return new(uint256.Int), nil
	}
	amount, err := l.class.Asset.RewardBalance(ctx, sub.Address)
	if err != nil {
		l.adapterError("reward_balance")
		return nil, adapterFailure(OpGetRewardsBalance, fmt.Errorf("read reward balance: %w", err))
	}
	return amount, nil
}
