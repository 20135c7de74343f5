package state

import (
	"math/big"

	"PerpIndexer/internal/ledger"
	fpmath "PerpIndexer/internal/math"
)

// RecordFundingRate writes an immutable funding snapshot for (pool,
// index) and refreshes the pool's latest funding-rate display value.
// A snapshot that already exists for the index is never overwritten.
func (l *Ledger) RecordFundingRate(p *ledger.Pool, index int64, funding *big.Int) {
	id := ledger.FundingRateID(p.ID, index)
	if _, ok := l.stage.FundingRate(id); !ok {
		l.stage.PutFundingRate(&ledger.FundingRate{
			ID:      id,
			Pool:    p.ID,
			Index:   index,
			Funding: fpmath.Copy(funding),
		})
	} else {
		l.log.Debug().Str("pool", p.ID).Int64("index", index).
			Msg("funding snapshot already recorded, keeping first write")
	}

	l.SetPoolFundingRate(p, fpmath.ToDecimal(funding, fpmath.WeiDecimals))
}

// FundingRateAt fetches the funding snapshot for (pool, index).
func (l *Ledger) FundingRateAt(p *ledger.Pool, index int64) (*ledger.FundingRate, bool) {
	return l.stage.FundingRate(ledger.FundingRateID(p.ID, index))
}
