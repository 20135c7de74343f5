package state

import (
	"math/big"

	"github.com/shopspring/decimal"

	"PerpIndexer/internal/ledger"
	fpmath "PerpIndexer/internal/math"
)

// PositionHandle binds a position entity to the current event. Every
// mutation persists the entity and refreshes the audit snapshot for this
// transaction.
type PositionHandle struct {
	led     *Ledger
	pos     *ledger.Position
	pool    *ledger.Pool
	account *ledger.Account
}

func (h *PositionHandle) ID() string          { return h.pos.ID }
func (h *PositionHandle) Side() ledger.Side   { return h.pos.Side }
func (h *PositionHandle) IsClosed() bool      { return h.pos.Closed }
func (h *PositionHandle) FundingIndex() int64 { return h.pos.FundingIndex }

// Size returns a copy of the position's signed size.
func (h *PositionHandle) Size() *big.Int { return fpmath.Copy(h.pos.Size) }

// Price returns a copy of the position's last recorded price.
func (h *PositionHandle) Price() *big.Int { return fpmath.Copy(h.pos.Price) }

// CollateralBalance returns a copy of the position's collateral balance.
func (h *PositionHandle) CollateralBalance() *big.Int { return fpmath.Copy(h.pos.CollateralBalance) }

// RealizedPnlUSD returns the realized PnL, zero if never set.
func (h *PositionHandle) RealizedPnlUSD() decimal.Decimal {
	if h.pos.RealizedPnlUSD == nil {
		return decimal.Zero
	}
	return *h.pos.RealizedPnlUSD
}

func (h *PositionHandle) save() {
	h.led.stage.PutPosition(h.pos)
	h.takeSnapshot()
}

func (h *PositionHandle) takeSnapshot() {
	ctx := h.led.ctx
	var pnl *decimal.Decimal
	if h.pos.RealizedPnlUSD != nil {
		v := *h.pos.RealizedPnlUSD
		pnl = &v
	}
	h.led.stage.PutPositionSnapshot(&ledger.PositionSnapshot{
		ID:                   ledger.PositionSnapshotID(h.pos.ID, ctx.TxHash, ctx.TxIndex),
		Position:             h.pos.ID,
		Account:              h.pos.Account,
		Hash:                 ctx.TxHash,
		LogIndex:             ctx.LogIndex,
		BlockNumber:          ctx.BlockNumber,
		Timestamp:            ctx.Timestamp,
		FundingRate:          h.pos.FundingRateOpen,
		Balance:              fpmath.Copy(h.pos.Balance),
		BalanceUSD:           h.pos.BalanceUSD,
		CollateralBalance:    fpmath.Copy(h.pos.CollateralBalance),
		CollateralBalanceUSD: h.pos.CollateralBalanceUSD,
		RealizedPnlUSD:       pnl,
	})
}

func (h *PositionHandle) open() {
	h.led.openPositionAggregates(h.account, h.pool, h.pos.Side)
}

// Close stamps the close coordinates once and bumps the closed counters.
// Closing an already-closed position is a no-op; close timestamps are
// never overwritten.
func (h *PositionHandle) Close() {
	if h.pos.Closed {
		h.led.log.Warn().Str("position", h.pos.ID).
			Msg("close requested for already-closed position, ignoring")
		return
	}
	ctx := h.led.ctx
	h.pos.Closed = true
	h.pos.HashClosed = ctx.TxHash
	h.pos.BlockClosed = ctx.BlockNumber
	h.pos.TimestampClosed = ctx.Timestamp
	h.save()

	h.led.closePositionAggregates(h.account, h.pool, h.pos.Side)
}

func (h *PositionHandle) SetPrice(v *big.Int) {
	h.pos.Price = fpmath.Copy(v)
	h.save()
}

func (h *PositionHandle) SetSize(v *big.Int) {
	h.pos.Size = fpmath.Copy(v)
	h.save()
}

func (h *PositionHandle) SetFundingIndex(index int64) {
	h.pos.FundingIndex = index
	h.save()
}

func (h *PositionHandle) SetLeverage(v decimal.Decimal) {
	h.pos.Leverage = v
	h.save()
}

func (h *PositionHandle) SetFundingRateOpen(v decimal.Decimal) {
	h.pos.FundingRateOpen = v
	h.save()
}

func (h *PositionHandle) SetFundingRateClosed(v decimal.Decimal) {
	h.pos.FundingRateClosed = v
	h.save()
}

func (h *PositionHandle) SetBalance(token *ledger.Token, amount *big.Int) {
	h.pos.Balance = fpmath.Copy(amount)
	h.pos.BalanceUSD = h.led.pricer.UsdValue(token, amount)
	h.save()
}

func (h *PositionHandle) SetCollateralBalance(token *ledger.Token, amount *big.Int) {
	h.pos.CollateralBalance = fpmath.Copy(amount)
	h.pos.CollateralBalanceUSD = h.led.pricer.UsdValue(token, amount)
	h.save()
}

func (h *PositionHandle) SetBalanceClosed(token *ledger.Token, amount *big.Int) {
	h.pos.CloseBalanceUSD = h.led.pricer.UsdValue(token, amount)
	h.save()
}

func (h *PositionHandle) SetCollateralBalanceClosed(token *ledger.Token, amount *big.Int) {
	h.pos.CloseCollateralBalanceUSD = h.led.pricer.UsdValue(token, amount)
	h.save()
}

func (h *PositionHandle) SetRealizedPnlClosed(token *ledger.Token, amount *big.Int) {
	usd := h.led.pricer.UsdValue(token, amount)
	h.pos.RealizedPnlUSD = &usd
	h.save()
}

func (h *PositionHandle) SetRealizedPnlUSDClosed(v decimal.Decimal) {
	h.pos.RealizedPnlUSD = &v
	h.save()
}

func (h *PositionHandle) AddCollateralInCount() {
	h.pos.CollateralInCount++
	h.save()
}

func (h *PositionHandle) AddCollateralOutCount() {
	h.pos.CollateralOutCount++
	h.save()
}

func (h *PositionHandle) AddLiquidationCount() {
	h.pos.LiquidationCount++
	h.save()
}

func (h *PositionHandle) setSide(side ledger.Side) {
	h.pos.Side = side
	h.save()
}

// sameSlot reports whether a modification on the requested side continues
// this position. A closed position or a side flip starts a new sequence.
func (h *PositionHandle) sameSlot(side ledger.Side) bool {
	return !h.pos.Closed && (h.pos.Side == side || h.pos.Side == ledger.SideUnknown)
}
