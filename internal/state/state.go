// Package state is the accounting core: account/pool registries, the
// funding ledger, and the position engine. All mutations go through a
// per-event Stage so that an event either commits fully or not at all.
package state

import (
	"math/big"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"PerpIndexer/internal/config"
	"PerpIndexer/internal/event"
	"PerpIndexer/internal/ledger"
	"PerpIndexer/internal/oracle"
)

const protocolID = "protocol"

// Ledger is the per-event view of the accounting state. One is built for
// each incoming event, bound to that event's context, and discarded after
// the stage commits.
type Ledger struct {
	stage    *ledger.Stage
	pricer   oracle.Pricer
	resolver oracle.TokenResolver
	net      config.Network
	ctx      event.Context
	log      zerolog.Logger
}

func New(
	stage *ledger.Stage,
	pricer oracle.Pricer,
	resolver oracle.TokenResolver,
	net config.Network,
	ctx event.Context,
	log zerolog.Logger,
) *Ledger {
	return &Ledger{
		stage:    stage,
		pricer:   pricer,
		resolver: resolver,
		net:      net,
		ctx:      ctx,
		log:      log,
	}
}

// Context returns the chain coordinates of the event being processed.
func (l *Ledger) Context() event.Context { return l.ctx }

// UsdValue prices a raw token amount in USD via the oracle.
func (l *Ledger) UsdValue(token *ledger.Token, amount *big.Int) decimal.Decimal {
	return l.pricer.UsdValue(token, amount)
}

// GetOrCreateToken resolves token metadata once per newly observed address.
func (l *Ledger) GetOrCreateToken(address string) (*ledger.Token, error) {
	id := ledger.TokenID(address)
	if t, ok := l.stage.Token(id); ok {
		return t, nil
	}

	params, err := l.resolver.Resolve(address)
	if err != nil {
		return nil, err
	}
	t := &ledger.Token{
		ID:       id,
		Name:     params.Name,
		Symbol:   params.Symbol,
		Decimals: params.Decimals,
	}
	l.stage.PutToken(t)
	return t, nil
}

// SettlementToken returns the network's settlement currency token.
func (l *Ledger) SettlementToken() (*ledger.Token, error) {
	return l.GetOrCreateToken(l.net.SettlementToken)
}

// Protocol returns the global aggregate, creating it on first touch.
func (l *Ledger) Protocol() *ledger.Protocol {
	p, ok := l.stage.Protocol(protocolID)
	if !ok {
		p = &ledger.Protocol{
			ID:   protocolID,
			Name: l.net.ProtocolName,
			Slug: l.net.ProtocolSlug,
		}
		l.stage.PutProtocol(p)
	}
	return p
}

// AddProtocolUser bumps the global user count.
func (l *Ledger) AddProtocolUser() {
	p := l.Protocol()
	p.UserCount++
	l.stage.PutProtocol(p)
}

// Opens without a resolved side are not attributed to a side bucket;
// the side becomes known when the first trade backfills it.
func (l *Ledger) openPositionAggregates(acct *ledger.Account, pool *ledger.Pool, side ledger.Side) {
	proto := l.Protocol()
	switch side {
	case ledger.SideLong:
		acct.OpenedLongCount++
		pool.OpenedLongCount++
		proto.OpenedLongCount++
	case ledger.SideShort:
		acct.OpenedShortCount++
		pool.OpenedShortCount++
		proto.OpenedShortCount++
	}
	l.stage.PutAccount(acct)
	l.stage.PutPool(pool)
	l.stage.PutProtocol(proto)
}

func (l *Ledger) closePositionAggregates(acct *ledger.Account, pool *ledger.Pool, side ledger.Side) {
	proto := l.Protocol()
	switch side {
	case ledger.SideLong:
		acct.ClosedLongCount++
		pool.ClosedLongCount++
		proto.ClosedLongCount++
	case ledger.SideShort:
		acct.ClosedShortCount++
		pool.ClosedShortCount++
		proto.ClosedShortCount++
	}
	l.stage.PutAccount(acct)
	l.stage.PutPool(pool)
	l.stage.PutProtocol(proto)
}
