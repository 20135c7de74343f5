package ledger

import (
	"math/big"

	"github.com/shopspring/decimal"

	fpmath "PerpIndexer/internal/math"
)

// Side of a position. Positions created by a margin transfer carry no
// side until the first trade backfills it.
type Side string

const (
	SideUnknown Side = ""
	SideLong    Side = "LONG"
	SideShort   Side = "SHORT"
)

// Token is settlement/asset token metadata, resolved once per address.
type Token struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// Account is one real user address. Proxy addresses are resolved to their
// owner before account lookup and never become accounts themselves.
// Created at most once per address, never deleted.
type Account struct {
	ID string `json:"id"`

	OpenedLongCount  int32 `json:"opened_long_count"`
	OpenedShortCount int32 `json:"opened_short_count"`
	ClosedLongCount  int32 `json:"closed_long_count"`
	ClosedShortCount int32 `json:"closed_short_count"`

	CollateralInCount  int32 `json:"collateral_in_count"`
	CollateralOutCount int32 `json:"collateral_out_count"`

	CumulativeCollateralIn     *big.Int        `json:"cumulative_collateral_in"`
	CumulativeCollateralOut    *big.Int        `json:"cumulative_collateral_out"`
	CumulativeCollateralInUSD  decimal.Decimal `json:"cumulative_collateral_in_usd"`
	CumulativeCollateralOutUSD decimal.Decimal `json:"cumulative_collateral_out_usd"`
}

// SmartMarginAccount links a proxy trading address to its owning account.
// Created once on the proxy-creation event, immutable thereafter.
type SmartMarginAccount struct {
	ID      string `json:"id"`
	Owner   string `json:"owner"`
	Version string `json:"version"`
}

// Pool is one on-chain market. Initialized exactly once; volume and
// position counters only ever grow.
type Pool struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Symbol      string   `json:"symbol"`
	Oracle      string   `json:"oracle"`
	Initialized bool     `json:"initialized"`
	InputTokens []string `json:"input_tokens"`

	// TemplateVersion records the market-revision classification made
	// when the market was added ("v1", "v2", or empty when the key
	// matched neither rule).
	TemplateVersion string `json:"template_version"`

	CumulativeInflowByToken          map[string]*big.Int `json:"cumulative_inflow_by_token"`
	CumulativeOutflowByToken         map[string]*big.Int `json:"cumulative_outflow_by_token"`
	CumulativeVolumeByToken          map[string]*big.Int `json:"cumulative_volume_by_token"`
	CumulativeProtocolRevenueByToken map[string]*big.Int `json:"cumulative_protocol_revenue_by_token"`
	CumulativeSupplyRevenueByToken   map[string]*big.Int `json:"cumulative_supply_revenue_by_token"`

	FundingRate decimal.Decimal `json:"funding_rate"`

	UserCount        int32 `json:"user_count"`
	OpenedLongCount  int32 `json:"opened_long_count"`
	OpenedShortCount int32 `json:"opened_short_count"`
	ClosedLongCount  int32 `json:"closed_long_count"`
	ClosedShortCount int32 `json:"closed_short_count"`
}

// FundingRate is one immutable funding snapshot in a pool's history.
type FundingRate struct {
	ID      string   `json:"id"`
	Pool    string   `json:"pool"`
	Index   int64    `json:"index"`
	Funding *big.Int `json:"funding"`
}

// PositionCounter allocates sequence numbers for successive positions of
// one (account, pool) pair.
type PositionCounter struct {
	ID        string `json:"id"`
	NextCount int32  `json:"next_count"`
}

// Position is an account's exposure in one pool, sequence-numbered to
// distinguish successive occupancies of the same slot.
type Position struct {
	ID         string `json:"id"`
	Account    string `json:"account"`
	Pool       string `json:"pool"`
	Asset      string `json:"asset"`
	Collateral string `json:"collateral"`
	Side       Side   `json:"side"`

	HashOpened      string `json:"hash_opened"`
	BlockOpened     int64  `json:"block_opened"`
	TimestampOpened int64  `json:"timestamp_opened"`

	Closed          bool   `json:"closed"`
	HashClosed      string `json:"hash_closed,omitempty"`
	BlockClosed     int64  `json:"block_closed,omitempty"`
	TimestampClosed int64  `json:"timestamp_closed,omitempty"`

	Price        *big.Int `json:"price"`
	Size         *big.Int `json:"size"`
	FundingIndex int64    `json:"funding_index"`

	FundingRateOpen   decimal.Decimal `json:"funding_rate_open"`
	FundingRateClosed decimal.Decimal `json:"funding_rate_closed"`
	Leverage          decimal.Decimal `json:"leverage"`

	Balance              *big.Int        `json:"balance"`
	BalanceUSD           decimal.Decimal `json:"balance_usd"`
	CollateralBalance    *big.Int        `json:"collateral_balance"`
	CollateralBalanceUSD decimal.Decimal `json:"collateral_balance_usd"`

	CloseBalanceUSD           decimal.Decimal  `json:"close_balance_usd"`
	CloseCollateralBalanceUSD decimal.Decimal  `json:"close_collateral_balance_usd"`
	RealizedPnlUSD            *decimal.Decimal `json:"realized_pnl_usd"`

	CollateralInCount  int32 `json:"collateral_in_count"`
	CollateralOutCount int32 `json:"collateral_out_count"`
	LiquidationCount   int32 `json:"liquidation_count"`
}

// Untouched reports whether the position has never been touched by a
// position-modify event (e.g. created implicitly by a margin transfer).
func (p *Position) Untouched() bool {
	return p.FundingIndex == 0 && fpmath.IsZero(p.Price) && fpmath.IsZero(p.Size)
}

// PositionSnapshot is an append-only audit record written on every
// position mutation.
type PositionSnapshot struct {
	ID          string `json:"id"`
	Position    string `json:"position"`
	Account     string `json:"account"`
	Hash        string `json:"hash"`
	LogIndex    int64  `json:"log_index"`
	BlockNumber int64  `json:"block_number"`
	Timestamp   int64  `json:"timestamp"`

	FundingRate          decimal.Decimal  `json:"funding_rate"`
	Balance              *big.Int         `json:"balance"`
	BalanceUSD           decimal.Decimal  `json:"balance_usd"`
	CollateralBalance    *big.Int         `json:"collateral_balance"`
	CollateralBalanceUSD decimal.Decimal  `json:"collateral_balance_usd"`
	RealizedPnlUSD       *decimal.Decimal `json:"realized_pnl_usd"`
}

// CollateralFlow is an append-only record of collateral entering or
// leaving an account's margin, including liquidation seizures.
type CollateralFlow struct {
	ID          string `json:"id"`
	FlowKind    string `json:"flow_kind"` // "in", "out", "liquidate"
	Account     string `json:"account"`
	Pool        string `json:"pool"`
	Position    string `json:"position"`
	Token       string `json:"token"`
	BlockNumber int64  `json:"block_number"`
	Timestamp   int64  `json:"timestamp"`
	Hash        string `json:"hash"`

	Amount    *big.Int        `json:"amount"`
	AmountUSD decimal.Decimal `json:"amount_usd"`

	Liquidator string           `json:"liquidator,omitempty"`
	PnlUSD     *decimal.Decimal `json:"pnl_usd,omitempty"`
}

// Protocol is the single global aggregate.
type Protocol struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`

	UserCount        int32 `json:"user_count"`
	OpenedLongCount  int32 `json:"opened_long_count"`
	OpenedShortCount int32 `json:"opened_short_count"`
	ClosedLongCount  int32 `json:"closed_long_count"`
	ClosedShortCount int32 `json:"closed_short_count"`
}

func cloneTotals(m map[string]*big.Int) map[string]*big.Int {
	if m == nil {
		return nil
	}
	out := make(map[string]*big.Int, len(m))
	for k, v := range m {
		out[k] = fpmath.Copy(v)
	}
	return out
}

func cloneDecimalPtr(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

func (t *Token) Clone() *Token {
	c := *t
	return &c
}

func (a *Account) Clone() *Account {
	c := *a
	c.CumulativeCollateralIn = fpmath.Copy(a.CumulativeCollateralIn)
	c.CumulativeCollateralOut = fpmath.Copy(a.CumulativeCollateralOut)
	return &c
}

func (s *SmartMarginAccount) Clone() *SmartMarginAccount {
	c := *s
	return &c
}

func (p *Pool) Clone() *Pool {
	c := *p
	c.InputTokens = append([]string(nil), p.InputTokens...)
	c.CumulativeInflowByToken = cloneTotals(p.CumulativeInflowByToken)
	c.CumulativeOutflowByToken = cloneTotals(p.CumulativeOutflowByToken)
	c.CumulativeVolumeByToken = cloneTotals(p.CumulativeVolumeByToken)
	c.CumulativeProtocolRevenueByToken = cloneTotals(p.CumulativeProtocolRevenueByToken)
	c.CumulativeSupplyRevenueByToken = cloneTotals(p.CumulativeSupplyRevenueByToken)
	return &c
}

func (f *FundingRate) Clone() *FundingRate {
	c := *f
	c.Funding = fpmath.Copy(f.Funding)
	return &c
}

func (pc *PositionCounter) Clone() *PositionCounter {
	c := *pc
	return &c
}

func (p *Position) Clone() *Position {
	c := *p
	c.Price = fpmath.Copy(p.Price)
	c.Size = fpmath.Copy(p.Size)
	c.Balance = fpmath.Copy(p.Balance)
	c.CollateralBalance = fpmath.Copy(p.CollateralBalance)
	c.RealizedPnlUSD = cloneDecimalPtr(p.RealizedPnlUSD)
	return &c
}

func (s *PositionSnapshot) Clone() *PositionSnapshot {
	c := *s
	c.Balance = fpmath.Copy(s.Balance)
	c.CollateralBalance = fpmath.Copy(s.CollateralBalance)
	c.RealizedPnlUSD = cloneDecimalPtr(s.RealizedPnlUSD)
	return &c
}

func (f *CollateralFlow) Clone() *CollateralFlow {
	c := *f
	c.Amount = fpmath.Copy(f.Amount)
	c.PnlUSD = cloneDecimalPtr(f.PnlUSD)
	return &c
}

func (p *Protocol) Clone() *Protocol {
	c := *p
	return &c
}
