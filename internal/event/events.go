package event

import (
	"math/big"
)

// Kind discriminator for event payloads
type Kind int32

const (
	KindUnknown Kind = iota
	KindMarketAdded
	KindMarketRemoved
	KindProxyAccountCreated
	KindMarginTransferred
	KindFundingRecomputed
	KindPositionModified
	KindPositionModifiedV2
	KindPositionLiquidated
	KindPositionLiquidatedV2
)

// Event is the interface all decoded chain events implement.
type Event interface {
	// Kind returns the discriminator
	Kind() Kind

	// Context returns the chain coordinates of the event
	Context() Context

	// Market returns the emitting market address (empty for
	// factory-scoped events)
	Market() string
}

// MarketAdded is emitted by the market factory when a market is deployed.
type MarketAdded struct {
	MarketKey     string
	MarketAddress string
	Ctx           Context
}

func (e *MarketAdded) Kind() Kind       { return KindMarketAdded }
func (e *MarketAdded) Context() Context { return e.Ctx }
func (e *MarketAdded) Market() string   { return "" }

// MarketRemoved is emitted by the market factory when a market is retired.
// Pools are never deleted; the event is acknowledged and logged only.
type MarketRemoved struct {
	MarketKey     string
	MarketAddress string
	Ctx           Context
}

func (e *MarketRemoved) Kind() Kind       { return KindMarketRemoved }
func (e *MarketRemoved) Context() Context { return e.Ctx }
func (e *MarketRemoved) Market() string   { return "" }

// ProxyAccountCreated is emitted by the smart-margin factory when a user
// deploys a proxy trading account.
type ProxyAccountCreated struct {
	Proxy   string
	Creator string
	Version string
	Ctx     Context
}

func (e *ProxyAccountCreated) Kind() Kind       { return KindProxyAccountCreated }
func (e *ProxyAccountCreated) Context() Context { return e.Ctx }
func (e *ProxyAccountCreated) Market() string   { return "" }

// MarginTransferred carries a signed collateral delta for an account's
// margin in one market. Positive deltas are deposits.
type MarginTransferred struct {
	MarketAddress string
	Account       string
	MarginDelta   *big.Int
	Ctx           Context
}

func (e *MarginTransferred) Kind() Kind       { return KindMarginTransferred }
func (e *MarginTransferred) Context() Context { return e.Ctx }
func (e *MarginTransferred) Market() string   { return e.MarketAddress }

// FundingRecomputed is emitted each time a market recomputes its funding
// value; Index identifies the snapshot in the market's funding history.
type FundingRecomputed struct {
	MarketAddress string
	Index         int64
	Funding       *big.Int
	Ctx           Context
}

func (e *FundingRecomputed) Kind() Kind       { return KindFundingRecomputed }
func (e *FundingRecomputed) Context() Context { return e.Ctx }
func (e *FundingRecomputed) Market() string   { return e.MarketAddress }

// PositionModified is the canonical position-change event: open, size
// adjustment, side flip, or full close (Size == 0). TradeSize == 0 means
// no trade occurred this event (margin adjustment bookkeeping only).
type PositionModified struct {
	MarketAddress string
	Account       string
	Size          *big.Int
	TradeSize     *big.Int
	LastPrice     *big.Int
	Margin        *big.Int
	Fee           *big.Int
	FundingIndex  int64
	Ctx           Context
}

func (e *PositionModified) Kind() Kind       { return KindPositionModified }
func (e *PositionModified) Context() Context { return e.Ctx }
func (e *PositionModified) Market() string   { return e.MarketAddress }

// PositionModifiedV2 is the v2-market shape of PositionModified. It adds
// the market skew, which the ledger does not track.
type PositionModifiedV2 struct {
	MarketAddress string
	Account       string
	Size          *big.Int
	TradeSize     *big.Int
	LastPrice     *big.Int
	Margin        *big.Int
	Fee           *big.Int
	FundingIndex  int64
	Skew          *big.Int
	Ctx           Context
}

func (e *PositionModifiedV2) Kind() Kind       { return KindPositionModifiedV2 }
func (e *PositionModifiedV2) Context() Context { return e.Ctx }
func (e *PositionModifiedV2) Market() string   { return e.MarketAddress }

// PositionLiquidated is the canonical liquidation event with the total
// liquidation fee.
type PositionLiquidated struct {
	MarketAddress string
	Account       string
	Liquidator    string
	Fee           *big.Int
	Ctx           Context
}

func (e *PositionLiquidated) Kind() Kind       { return KindPositionLiquidated }
func (e *PositionLiquidated) Context() Context { return e.Ctx }
func (e *PositionLiquidated) Market() string   { return e.MarketAddress }

// PositionLiquidatedV2 is the v2-market liquidation shape, reporting the
// fee split across flagger, liquidator, and stakers.
type PositionLiquidatedV2 struct {
	MarketAddress string
	Account       string
	Liquidator    string
	FlaggerFee    *big.Int
	LiquidatorFee *big.Int
	StakersFee    *big.Int
	Ctx           Context
}

func (e *PositionLiquidatedV2) Kind() Kind       { return KindPositionLiquidatedV2 }
func (e *PositionLiquidatedV2) Context() Context { return e.Ctx }
func (e *PositionLiquidatedV2) Market() string   { return e.MarketAddress }

func (k Kind) String() string {
	switch k {
	case KindMarketAdded:
		return "MarketAdded"
	case KindMarketRemoved:
		return "MarketRemoved"
	case KindProxyAccountCreated:
		return "ProxyAccountCreated"
	case KindMarginTransferred:
		return "MarginTransferred"
	case KindFundingRecomputed:
		return "FundingRecomputed"
	case KindPositionModified:
		return "PositionModified"
	case KindPositionModifiedV2:
		return "PositionModifiedV2"
	case KindPositionLiquidated:
		return "PositionLiquidated"
	case KindPositionLiquidatedV2:
		return "PositionLiquidatedV2"
	default:
		return "Unknown"
	}
}
