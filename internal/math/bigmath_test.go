package math

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestFundingAccrued(t *testing.T) {
	// (25 - 10) * 4 = 60
	got := FundingAccrued(big.NewInt(25), big.NewInt(10), big.NewInt(4))
	if got.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("FundingAccrued = %s, want 60", got)
	}

	// negative size flips the sign
	got = FundingAccrued(big.NewInt(25), big.NewInt(10), big.NewInt(-4))
	if got.Cmp(big.NewInt(-60)) != 0 {
		t.Errorf("FundingAccrued = %s, want -60", got)
	}

	// no funding change
	got = FundingAccrued(big.NewInt(10), big.NewInt(10), big.NewInt(4))
	if got.Sign() != 0 {
		t.Errorf("FundingAccrued = %s, want 0", got)
	}
}

func TestClosePnl(t *testing.T) {
	// (120 - 100) * 5 + 8 - 3 = 105
	got := ClosePnl(big.NewInt(120), big.NewInt(100), big.NewInt(5), big.NewInt(8), big.NewInt(3))
	if got.Cmp(big.NewInt(105)) != 0 {
		t.Errorf("ClosePnl = %s, want 105", got)
	}

	// short position profits when price falls: (80 - 100) * -5 = 100
	got = ClosePnl(big.NewInt(80), big.NewInt(100), big.NewInt(-5), big.NewInt(0), big.NewInt(0))
	if got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("ClosePnl = %s, want 100", got)
	}
}

func TestLeverage(t *testing.T) {
	// 110 * 5 / 550 = 1
	got := Leverage(big.NewInt(110), big.NewInt(5), big.NewInt(550))
	if !got.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Leverage = %s, want 1", got)
	}

	// short sizes produce negative leverage
	got = Leverage(big.NewInt(100), big.NewInt(-10), big.NewInt(500))
	if !got.Equal(decimal.NewFromInt(-2)) {
		t.Errorf("Leverage = %s, want -2", got)
	}
}

func TestToDecimal(t *testing.T) {
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	got := ToDecimal(v, WeiDecimals)
	if !got.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("ToDecimal = %s, want 1.5", got)
	}

	if !ToDecimal(nil, WeiDecimals).IsZero() {
		t.Errorf("ToDecimal(nil) should be zero")
	}
}

func TestCopyIsIndependent(t *testing.T) {
	v := big.NewInt(7)
	c := Copy(v)
	v.SetInt64(99)
	if c.Cmp(big.NewInt(7)) != 0 {
		t.Errorf("Copy shares storage with source")
	}
	if Copy(nil).Sign() != 0 {
		t.Errorf("Copy(nil) should be zero")
	}
}
