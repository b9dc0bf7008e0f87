package core

import (
	"context"
	"fmt"
	"time"

	"SaveLedger/internal/event"
	"SaveLedger/internal/ledger"
	fpmath "SaveLedger/internal/math"
	"SaveLedger/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Transfer moves amount shares from caller to recipient. Each leg moves
// floor(amount * leg / shares); the rounding dust stays with the sender.
func (l *ShareLedger) Transfer(ctx context.Context, caller, recipient common.Address, amount *uint256.Int) (*event.Transfer, error) {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.observe(OpTransfer, start)

	s := &saga{}
	p, moved, err := l.prepareTransfer(ctx, s, OpTransfer, caller, recipient, amount)
	if err != nil {
		l.rollback(ctx, OpTransfer, s)
		return nil, l.reject(OpTransfer, err)
	}

	l.commit(ctx, p)
	return moved, nil
}

// TransferFrom moves amount shares from owner to recipient on spender's
// allowance. An unlimited allowance is never decremented.
func (l *ShareLedger) TransferFrom(ctx context.Context, spender, owner, recipient common.Address, amount *uint256.Int) (*event.Transfer, error) {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.observe(OpTransferFrom, start)

	allowance := l.allowance(owner, spender)
	if amount != nil && allowance.Lt(amount) {
		return nil, l.reject(OpTransferFrom, precondition(OpTransferFrom, ErrInsufficientAllowance))
	}

	s := &saga{}
	p, moved, err := l.prepareTransfer(ctx, s, OpTransferFrom, owner, recipient, amount)
	if err != nil {
		l.rollback(ctx, OpTransferFrom, s)
		return nil, l.reject(OpTransferFrom, err)
	}

	if amount != nil && !allowance.Eq(token.MaxAllowance) {
		l.setAllowance(owner, spender, new(uint256.Int).Sub(allowance, amount))
	}

	l.commit(ctx, p)
	return moved, nil
}

// Approve sets spender's allowance over owner's shares
func (l *ShareLedger) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) (*event.Approval, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if zeroAddress(owner) || zeroAddress(spender) {
		return nil, l.reject(OpApprove, precondition(OpApprove, ErrInvalidAddress))
	}
	if amount == nil {
		amount = new(uint256.Int)
	}

	l.setAllowance(owner, spender, amount)
	approval := &event.Approval{Owner: owner, Spender: spender, Amount: amount.Clone()}
	l.commit(ctx, &pending{op: OpApprove, events: []event.Event{approval}})
	return approval, nil
}

func (l *ShareLedger) prepareTransfer(ctx context.Context, s *saga, op string, from, to common.Address, amount *uint256.Int) (*pending, *event.Transfer, error) {
	if zeroAddress(from) || zeroAddress(to) {
		return nil, nil, precondition(op, ErrInvalidAddress)
	}
	if amount == nil {
		amount = new(uint256.Int)
	}

	shares := l.tracker.HolderShares(from)
	if shares.Lt(amount) {
		return nil, nil, precondition(op, ErrInsufficientBalance)
	}

	moved := &event.Transfer{
		From:              from,
		To:                to,
		Amount:            amount.Clone(),
		AssetLegMoved:     new(uint256.Int),
		InsuranceLegMoved: new(uint256.Int),
	}
	p := &pending{op: op, touched: []common.Address{from, to}}

	// Nothing moves, but the transfer is still recorded
	if amount.IsZero() || from == to {
		p.events = []event.Event{moved}
		return p, moved, nil
	}

	assetMove, err := fpmath.ProRata(amount, l.tracker.HolderAssetLeg(from), shares)
	if err != nil {
		return nil, nil, precondition(op, err)
	}
	insuranceMove, err := fpmath.ProRata(amount, l.tracker.HolderInsuranceLeg(from), shares)
	if err != nil {
		return nil, nil, precondition(op, err)
	}

	if !assetMove.IsZero() {
		fromSub, ok := l.farmers.Get(from)
		if !ok {
			return nil, nil, precondition(op, fmt.Errorf("%w: %s", ErrNoSubAccount, from.Hex()))
		}
		toSub, created := l.farmers.Ensure(to, l.clock().UTC())
		if created {
			s.add("forget_sub_account", func(ctx context.Context) error {
				l.farmers.Forget(to)
				return nil
			})
			p.events = append(p.events, &event.SubAccountCreated{Holder: to, SubAccount: toSub.Address})
		}

		if err := l.class.Asset.Move(ctx, fromSub.Address, toSub.Address, assetMove); err != nil {
			l.adapterError("asset_move")
			return nil, nil, adapterFailure(op, fmt.Errorf("move asset leg: %w", err))
		}
		s.add("move_asset_leg_back", func(ctx context.Context) error {
			return l.class.Asset.Move(ctx, toSub.Address, fromSub.Address, assetMove)
		})
	}

	l.journalGen.SetSequence(l.sequence + 1)
	batch, err := l.journalGen.GenerateTransfer(l.eventRef(ctx, op), from, to, ledger.LegAmounts{
		Shares:    amount,
		AssetLeg:  assetMove,
		Insurance: insuranceMove,
	}, l.timestamp())
	if err != nil {
		return nil, nil, precondition(op, err)
	}

	if l.metrics != nil && len(p.events) > 0 {
		l.metrics.SubAccountsCreated.WithLabelValues(l.class.Symbol).Inc()
	}

	moved.AssetLegMoved = assetMove
	moved.InsuranceLegMoved = insuranceMove
	p.batch = batch
	p.events = append(p.events, moved)
	return p, moved, nil
}

func (l *ShareLedger) allowance(owner, spender common.Address) *uint256.Int {
	if a, ok := l.allowances[owner][spender]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

func (l *ShareLedger) setAllowance(owner, spender common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		delete(l.allowances[owner], spender)
		if len(l.allowances[owner]) == 0 {
			delete(l.allowances, owner)
		}
		return
	}
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	l.allowances[owner][spender] = amount.Clone()
}
