package state

import (
	"math/big"

	"github.com/shopspring/decimal"

	"PerpIndexer/internal/ledger"
)

// LoadPool returns the pool for a market address, creating an
// uninitialized record on first reference.
func (l *Ledger) LoadPool(marketAddress string) *ledger.Pool {
	id := ledger.PoolID(marketAddress)
	if p, ok := l.stage.Pool(id); ok {
		return p
	}

	p := &ledger.Pool{ID: id}
	l.stage.PutPool(p)
	return p
}

// InitializePool sets the pool's immutable metadata. Pools are
// initialized exactly once; later calls are ignored.
func (l *Ledger) InitializePool(p *ledger.Pool, name, symbol string, inputTokens []*ledger.Token, oracleName string) {
	if p.Initialized {
		return
	}
	p.Name = name
	p.Symbol = symbol
	p.Oracle = oracleName
	p.InputTokens = make([]string, 0, len(inputTokens))
	for _, t := range inputTokens {
		p.InputTokens = append(p.InputTokens, t.ID)
	}
	p.Initialized = true
	l.stage.PutPool(p)
}

// SetPoolTemplateVersion records the market-revision classification made
// when the market was added.
func (l *Ledger) SetPoolTemplateVersion(p *ledger.Pool, version string) {
	p.TemplateVersion = version
	l.stage.PutPool(p)
}

// AddPoolUser bumps the pool's user count.
func (l *Ledger) AddPoolUser(p *ledger.Pool) {
	p.UserCount++
	l.stage.PutPool(p)
}

// AddPoolInflow accumulates collateral entering the pool.
func (l *Ledger) AddPoolInflow(p *ledger.Pool, token *ledger.Token, amount *big.Int) {
	p.CumulativeInflowByToken = addTokenTotal(p.CumulativeInflowByToken, token.ID, amount)
	l.stage.PutPool(p)
}

// AddPoolOutflow accumulates collateral leaving the pool.
func (l *Ledger) AddPoolOutflow(p *ledger.Pool, token *ledger.Token, amount *big.Int) {
	p.CumulativeOutflowByToken = addTokenTotal(p.CumulativeOutflowByToken, token.ID, amount)
	l.stage.PutPool(p)
}

// AddPoolVolume accumulates total collateral volume through the pool.
func (l *Ledger) AddPoolVolume(p *ledger.Pool, token *ledger.Token, amount *big.Int) {
	p.CumulativeVolumeByToken = addTokenTotal(p.CumulativeVolumeByToken, token.ID, amount)
	l.stage.PutPool(p)
}

// AddPoolRevenue accumulates fee revenue split across the protocol and
// supply sides.
func (l *Ledger) AddPoolRevenue(p *ledger.Pool, token *ledger.Token, protocolSide, supplySide *big.Int) {
	p.CumulativeProtocolRevenueByToken = addTokenTotal(p.CumulativeProtocolRevenueByToken, token.ID, protocolSide)
	p.CumulativeSupplyRevenueByToken = addTokenTotal(p.CumulativeSupplyRevenueByToken, token.ID, supplySide)
	l.stage.PutPool(p)
}

// SetPoolFundingRate updates the pool's latest funding-rate display value.
func (l *Ledger) SetPoolFundingRate(p *ledger.Pool, rate decimal.Decimal) {
	p.FundingRate = rate
	l.stage.PutPool(p)
}

func addTokenTotal(m map[string]*big.Int, tokenID string, amount *big.Int) map[string]*big.Int {
	if m == nil {
		m = make(map[string]*big.Int)
	}
	total, ok := m[tokenID]
	if !ok {
		total = new(big.Int)
		m[tokenID] = total
	}
	total.Add(total, amount)
	return m
}
