package event

import "math/big"

// Both market revisions emit structurally different shapes for the same
// logical occurrence. The adapters below map the v2 shapes onto the
// canonical records before they enter the position engine.

// Normalize maps a v2 position modification onto the canonical shape,
// dropping the skew parameter.
func (e *PositionModifiedV2) Normalize() *PositionModified {
	return &PositionModified{
		MarketAddress: e.MarketAddress,
		Account:       e.Account,
		Size:          e.Size,
		TradeSize:     e.TradeSize,
		LastPrice:     e.LastPrice,
		Margin:        e.Margin,
		Fee:           e.Fee,
		FundingIndex:  e.FundingIndex,
		Ctx:           e.Ctx,
	}
}

// Normalize maps a v2 liquidation onto the canonical shape. The total fee
// is the sum of the flagger, liquidator, and stakers components.
func (e *PositionLiquidatedV2) Normalize() *PositionLiquidated {
	total := new(big.Int)
	if e.FlaggerFee != nil {
		total.Add(total, e.FlaggerFee)
	}
	if e.LiquidatorFee != nil {
		total.Add(total, e.LiquidatorFee)
	}
	if e.StakersFee != nil {
		total.Add(total, e.StakersFee)
	}
	return &PositionLiquidated{
		MarketAddress: e.MarketAddress,
		Account:       e.Account,
		Liquidator:    e.Liquidator,
		Fee:           total,
		Ctx:           e.Ctx,
	}
}
