package oracle

import (
	"math/big"

	"github.com/shopspring/decimal"

	"PerpIndexer/internal/ledger"
	fpmath "PerpIndexer/internal/math"
)

// Pricer values token amounts in USD. The indexer itself never computes
// prices; implementations front an external oracle.
type Pricer interface {
	PriceOf(token *ledger.Token) decimal.Decimal
	UsdValue(token *ledger.Token, amount *big.Int) decimal.Decimal
}

// TokenParams is the metadata resolved once per newly observed token.
type TokenParams struct {
	Name     string
	Symbol   string
	Decimals int32
}

// TokenResolver looks up token metadata by address.
type TokenResolver interface {
	Resolve(address string) (TokenParams, error)
}

// FixedPricer values every token at one fixed USD price. The settlement
// currency is a USD stablecoin, so a price of 1 is the production default.
type FixedPricer struct {
	Price decimal.Decimal
}

func NewFixedPricer(price decimal.Decimal) *FixedPricer {
	return &FixedPricer{Price: price}
}

func (p *FixedPricer) PriceOf(_ *ledger.Token) decimal.Decimal {
	return p.Price
}

func (p *FixedPricer) UsdValue(token *ledger.Token, amount *big.Int) decimal.Decimal {
	return fpmath.ToDecimal(amount, token.Decimals).Mul(p.Price)
}

// StaticResolver serves token metadata from a fixed table, falling back
// to 18-decimal defaults for unknown addresses.
type StaticResolver map[string]TokenParams

func (r StaticResolver) Resolve(address string) (TokenParams, error) {
	if p, ok := r[ledger.TokenID(address)]; ok {
		return p, nil
	}
	return TokenParams{Name: address, Symbol: "UNKNOWN", Decimals: 18}, nil
}
