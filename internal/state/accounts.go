package state

import (
	"math/big"

	"github.com/shopspring/decimal"

	"PerpIndexer/internal/ledger"
)

// AccountResult is the outcome of an account lookup; IsNew signals the
// caller to bump user counters on the protocol/pool aggregates.
type AccountResult struct {
	Account *ledger.Account
	IsNew   bool
}

// LoadAccount returns the account for a user address, creating it on
// first reference. Callers must resolve proxy addresses first; proxies
// never become accounts.
func (l *Ledger) LoadAccount(address string) AccountResult {
	id := ledger.AccountID(address)
	if a, ok := l.stage.Account(id); ok {
		return AccountResult{Account: a}
	}

	a := &ledger.Account{
		ID:                      id,
		CumulativeCollateralIn:  new(big.Int),
		CumulativeCollateralOut: new(big.Int),
	}
	l.stage.PutAccount(a)
	return AccountResult{Account: a, IsNew: true}
}

// ResolveOwner maps a smart-margin proxy address to its linked owner.
// An address with no recorded link is treated as the owner itself.
func (l *Ledger) ResolveOwner(address string) string {
	id := ledger.AccountID(address)
	if sm, ok := l.stage.SmartMarginAccount(id); ok {
		return sm.Owner
	}
	return address
}

// RegisterProxyAccount records a proxy-to-owner link once. Repeat events
// for the same proxy are ignored; the link is immutable.
func (l *Ledger) RegisterProxyAccount(proxy, creator, version string) {
	id := ledger.AccountID(proxy)
	if _, ok := l.stage.SmartMarginAccount(id); ok {
		return
	}

	res := l.LoadAccount(creator)
	if res.IsNew {
		l.AddProtocolUser()
	}

	l.stage.PutSmartMarginAccount(&ledger.SmartMarginAccount{
		ID:      id,
		Owner:   res.Account.ID,
		Version: version,
	})
}

// CollateralIn records a margin deposit against the account.
func (l *Ledger) CollateralIn(acct *ledger.Account, pool *ledger.Pool, positionID string, token *ledger.Token, amount *big.Int) {
	usd := l.pricer.UsdValue(token, amount)
	acct.CollateralInCount++
	acct.CumulativeCollateralIn.Add(acct.CumulativeCollateralIn, amount)
	acct.CumulativeCollateralInUSD = acct.CumulativeCollateralInUSD.Add(usd)
	l.stage.PutAccount(acct)

	l.recordFlow("in", acct, pool, positionID, token, amount, usd, "", nil)
}

// CollateralOut records a margin withdrawal against the account.
func (l *Ledger) CollateralOut(acct *ledger.Account, pool *ledger.Pool, positionID string, token *ledger.Token, amount *big.Int) {
	usd := l.pricer.UsdValue(token, amount)
	acct.CollateralOutCount++
	acct.CumulativeCollateralOut.Add(acct.CumulativeCollateralOut, amount)
	acct.CumulativeCollateralOutUSD = acct.CumulativeCollateralOutUSD.Add(usd)
	l.stage.PutAccount(acct)

	l.recordFlow("out", acct, pool, positionID, token, amount, usd, "", nil)
}

// RecordLiquidation writes the liquidation flow: the seized collateral,
// the liquidator, and the final PnL.
func (l *Ledger) RecordLiquidation(acct *ledger.Account, pool *ledger.Pool, positionID string, token *ledger.Token, amount *big.Int, liquidator string, pnl decimal.Decimal) {
	usd := l.pricer.UsdValue(token, amount)
	l.recordFlow("liquidate", acct, pool, positionID, token, amount, usd, ledger.AccountID(liquidator), &pnl)
}

func (l *Ledger) recordFlow(kind string, acct *ledger.Account, pool *ledger.Pool, positionID string, token *ledger.Token, amount *big.Int, usd decimal.Decimal, liquidator string, pnl *decimal.Decimal) {
	l.stage.PutCollateralFlow(&ledger.CollateralFlow{
		ID:          ledger.CollateralFlowID(l.ctx.TxHash, l.ctx.LogIndex, kind),
		FlowKind:    kind,
		Account:     acct.ID,
		Pool:        pool.ID,
		Position:    positionID,
		Token:       token.ID,
		BlockNumber: l.ctx.BlockNumber,
		Timestamp:   l.ctx.Timestamp,
		Hash:        l.ctx.TxHash,
		Amount:      new(big.Int).Set(amount),
		AmountUSD:   usd,
		Liquidator:  liquidator,
		PnlUSD:      pnl,
	})
}
