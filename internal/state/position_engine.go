package state

import (
	"math/big"

	"PerpIndexer/internal/ledger"
	fpmath "PerpIndexer/internal/math"
)

// PositionSeed carries the event fields used to initialize a freshly
// created position, or to backfill one that was created implicitly by a
// margin transfer and never touched by a trade.
type PositionSeed struct {
	LastPrice    *big.Int
	Size         *big.Int
	FundingIndex int64
}

// Modification is the canonical position-change record entering the
// engine after proxy resolution and revision normalization.
type Modification struct {
	Size         *big.Int
	TradeSize    *big.Int
	LastPrice    *big.Int
	Margin       *big.Int
	Fee          *big.Int
	FundingIndex int64
}

// resolvePositionID allocates or reads the sequence for (account, pool).
// advance increments the stored sequence before deriving the id, opening
// a brand-new position slot.
func (l *Ledger) resolvePositionID(pool *ledger.Pool, account *ledger.Account, advance bool) string {
	key := ledger.CounterKey(account.ID, pool.ID)
	counter, ok := l.stage.PositionCounter(key)
	if !ok {
		counter = &ledger.PositionCounter{ID: key}
		l.stage.PutPositionCounter(counter)
	} else if advance {
		counter.NextCount++
		l.stage.PutPositionCounter(counter)
	}
	return ledger.PositionID(key, counter.NextCount)
}

// LoadPosition resolves and loads the position for (account, pool).
// wantLast reads the current slot without advancing the sequence; the
// entity is created (seeded from the event if given) when absent, and an
// untouched all-zero entity is backfilled from the seed. Creation and
// sequence advances trigger the open-lifecycle hook.
func (l *Ledger) LoadPosition(
	pool *ledger.Pool,
	account *ledger.Account,
	asset, collateral *ledger.Token,
	side ledger.Side,
	seed *PositionSeed,
	wantLast bool,
) *PositionHandle {
	id := l.resolvePositionID(pool, account, !wantLast)

	open := !wantLast
	pos, ok := l.stage.Position(id)
	if !ok {
		open = true
		pos = &ledger.Position{
			ID:                id,
			Account:           account.ID,
			Pool:              pool.ID,
			Asset:             asset.ID,
			Collateral:        collateral.ID,
			Side:              side,
			HashOpened:        l.ctx.TxHash,
			BlockOpened:       l.ctx.BlockNumber,
			TimestampOpened:   l.ctx.Timestamp,
			Price:             new(big.Int),
			Size:              new(big.Int),
			Balance:           new(big.Int),
			CollateralBalance: new(big.Int),
		}
		if seed != nil {
			pos.Price = fpmath.Copy(seed.LastPrice)
			pos.Size = fpmath.Copy(seed.Size)
			pos.FundingIndex = seed.FundingIndex
		}
		l.stage.PutPosition(pos)
	} else if seed != nil && pos.Untouched() {
		pos.Price = fpmath.Copy(seed.LastPrice)
		pos.Size = fpmath.Copy(seed.Size)
		pos.FundingIndex = seed.FundingIndex
		pos.Side = side
		l.stage.PutPosition(pos)
	}

	h := &PositionHandle{led: l, pos: pos, pool: pool, account: account}
	if open {
		h.open()
	}
	return h
}

// ApplyModification runs the modification protocol for one canonical
// position-change record. The caller has already resolved the effective
// account and the settlement token.
func (l *Ledger) ApplyModification(pool *ledger.Pool, account *ledger.Account, token *ledger.Token, m Modification) error {
	isClose := fpmath.IsZero(m.Size)
	side := ledger.SideShort
	if m.Size.Sign() > 0 {
		side = ledger.SideLong
	}

	seed := &PositionSeed{LastPrice: m.LastPrice, Size: m.Size, FundingIndex: m.FundingIndex}
	pos := l.LoadPosition(pool, account, token, token, side, seed, true)

	priorSize := pos.Size()
	priorPrice := pos.Price()
	priorIndex := pos.FundingIndex()

	// A zero trade size carries no valuation change: margin adjustment
	// or liquidation bookkeeping handled elsewhere. The fee still counts.
	if m.TradeSize.Sign() > 0 {
		previous, ok := l.FundingRateAt(pool, priorIndex)
		if !ok {
			return &MissingFundingSnapshotError{Pool: pool.ID, Index: priorIndex}
		}
		current, ok := l.FundingRateAt(pool, m.FundingIndex)
		if !ok {
			return &MissingFundingSnapshotError{Pool: pool.ID, Index: m.FundingIndex}
		}
		accrued := fpmath.FundingAccrued(current.Funding, previous.Funding, priorSize)

		if isClose {
			l.closeWithPnl(pos, token, m, priorPrice, priorSize, accrued, current.Funding)
		} else {
			if fpmath.IsZero(m.Margin) {
				return ErrZeroMargin
			}

			target := pos
			if !pos.sameSlot(side) {
				// Side flip or re-entry after close: the old slot is
				// settled and a new sequence starts.
				target = l.LoadPosition(pool, account, token, token, side, seed, false)
				if !pos.IsClosed() {
					l.closeWithPnl(pos, token, m, priorPrice, priorSize, accrued, current.Funding)
				}
			} else if pos.Side() == ledger.SideUnknown {
				pos.setSide(side)
			}

			leverage := fpmath.Leverage(m.LastPrice, m.Size, m.Margin)
			target.SetBalance(token, m.Margin)
			target.SetCollateralBalance(token, m.Margin)
			target.SetPrice(m.LastPrice)
			target.SetSize(m.Size)
			target.SetFundingIndex(m.FundingIndex)
			target.SetLeverage(leverage)
		}
	}

	l.AddPoolRevenue(pool, token, new(big.Int), m.Fee)
	return nil
}

func (l *Ledger) closeWithPnl(pos *PositionHandle, token *ledger.Token, m Modification, priorPrice, priorSize, accrued, currentFunding *big.Int) {
	pnl := fpmath.ClosePnl(m.LastPrice, priorPrice, priorSize, accrued, m.Fee)
	pos.SetBalanceClosed(token, m.Margin)
	pos.SetCollateralBalanceClosed(token, m.Margin)
	pos.SetRealizedPnlClosed(token, pnl)
	pos.SetFundingRateClosed(fpmath.ToDecimal(currentFunding, fpmath.WeiDecimals))
	pos.Close()
}

// ApplyLiquidation settles the account's open exposure in this pool. The
// position's balances are zeroed and the final PnL written, but the
// open/close lifecycle counters are deliberately not touched: liquidation
// is a terminal state distinct from a normal close.
func (l *Ledger) ApplyLiquidation(pool *ledger.Pool, account *ledger.Account, token *ledger.Token, liquidator string, totalFee *big.Int) error {
	pos := l.LoadPosition(pool, account, token, token, ledger.SideUnknown, nil, true)

	feeUSD := l.pricer.UsdValue(token, totalFee)
	pnl := pos.RealizedPnlUSD().Sub(feeUSD)

	l.RecordLiquidation(account, pool, pos.ID(), token, pos.CollateralBalance(), liquidator, pnl)
	pos.AddLiquidationCount()

	zero := new(big.Int)
	pos.SetBalanceClosed(token, zero)
	pos.SetCollateralBalanceClosed(token, zero)
	pos.SetRealizedPnlUSDClosed(pnl)
	return nil
}

// ApplyMarginTransfer records a signed collateral delta against the
// account's current position in this pool. A zero delta is a no-op.
func (l *Ledger) ApplyMarginTransfer(pool *ledger.Pool, account *ledger.Account, token *ledger.Token, delta *big.Int) error {
	if fpmath.IsZero(delta) {
		return nil
	}

	pos := l.LoadPosition(pool, account, token, token, ledger.SideUnknown, nil, true)
	amount := fpmath.Abs(delta)

	if delta.Sign() > 0 {
		l.CollateralIn(account, pool, pos.ID(), token, amount)
		pos.AddCollateralInCount()
		l.AddPoolInflow(pool, token, amount)
		l.AddPoolVolume(pool, token, amount)
	} else {
		l.CollateralOut(account, pool, pos.ID(), token, amount)
		pos.AddCollateralOutCount()
		l.AddPoolOutflow(pool, token, amount)
		l.AddPoolVolume(pool, token, amount)
	}
	return nil
}
