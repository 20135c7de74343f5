package math

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Chain amounts arrive as raw fixed-point integers (18 decimals for the
// settlement currency and all market quantities). They stay *big.Int
// through the accounting path; decimals are only introduced at the USD /
// display boundary.

// WeiDecimals is the fixed-point scale of raw chain amounts.
const WeiDecimals int32 = 18

// ToDecimal converts a raw fixed-point amount to a decimal with the given
// number of fractional digits.
func ToDecimal(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// Ratio returns num/den as an exact decimal. den must be non-zero.
func Ratio(num, den *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(num, 0).Div(decimal.NewFromBigInt(den, 0))
}

// Abs returns |v| as a fresh big.Int.
func Abs(v *big.Int) *big.Int {
	return new(big.Int).Abs(v)
}

// Copy returns a fresh big.Int with the value of v (zero if nil).
func Copy(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// FundingAccrued computes the funding accrued by a position between two
// funding snapshots: (current - previous) * size. The sign convention
// follows the position's signed size.
func FundingAccrued(current, previous, size *big.Int) *big.Int {
	delta := new(big.Int).Sub(current, previous)
	return delta.Mul(delta, size)
}

// ClosePnl computes realized PnL on close:
// (lastPrice - entryPrice) * size + fundingAccrued - fee.
// Positive means profit to the account.
func ClosePnl(lastPrice, entryPrice, size, fundingAccrued, fee *big.Int) *big.Int {
	pnl := new(big.Int).Sub(lastPrice, entryPrice)
	pnl.Mul(pnl, size)
	pnl.Add(pnl, fundingAccrued)
	return pnl.Sub(pnl, fee)
}

// Leverage computes (lastPrice * size) / margin as an exact decimal.
// The caller must reject a zero margin before calling.
func Leverage(lastPrice, size, margin *big.Int) decimal.Decimal {
	notional := new(big.Int).Mul(lastPrice, size)
	return Ratio(notional, margin)
}
