package core

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"PerpIndexer/internal/config"
	"PerpIndexer/internal/event"
	"PerpIndexer/internal/ledger"
	"PerpIndexer/internal/observability"
	"PerpIndexer/internal/oracle"
	"PerpIndexer/internal/state"
)

// Output is the result of one committed event: the entities it dirtied,
// in write order, ready for persistence.
type Output struct {
	Kind     event.Kind
	Ctx      event.Context
	Market   string
	Entities []ledger.Dirty
}

// Router is the single-threaded event processor. Each event gets a
// fresh stage over the shared store; a handler error discards the stage
// so the event either commits fully or not at all.
type Router struct {
	store    *ledger.MemStore
	pricer   oracle.Pricer
	resolver oracle.TokenResolver
	net      config.Network
	guard    *OrderingGuard
	metrics  *observability.Metrics
	log      zerolog.Logger

	out chan<- Output
}

func NewRouter(
	store *ledger.MemStore,
	pricer oracle.Pricer,
	resolver oracle.TokenResolver,
	net config.Network,
	metrics *observability.Metrics,
	log zerolog.Logger,
	out chan<- Output,
) *Router {
	return &Router{
		store:    store,
		pricer:   pricer,
		resolver: resolver,
		net:      net,
		guard:    NewOrderingGuard(),
		metrics:  metrics,
		log:      log,
		out:      out,
	}
}

// Guard exposes the ordering guard for watermark restore on warm start.
func (r *Router) Guard() *OrderingGuard { return r.guard }

// Process applies one event. The returned error means the event was not
// applied and left no trace in the store.
func (r *Router) Process(evt event.Event) error {
	start := time.Now()
	kind := evt.Kind().String()
	ctx := evt.Context()

	if err := r.guard.Check(evt); err != nil {
		if r.metrics != nil {
			r.metrics.EventsRejected.WithLabelValues(kind, "out_of_order").Inc()
		}
		return err
	}

	stage := ledger.NewStage(r.store)
	led := state.New(stage, r.pricer, r.resolver, r.net, ctx, r.log)

	if err := r.dispatch(led, evt); err != nil {
		if r.metrics != nil {
			r.metrics.EventsRejected.WithLabelValues(kind, "handler_error").Inc()
		}
		return errors.Wrapf(err, "apply %s at block %d", kind, ctx.BlockNumber)
	}

	dirty := stage.Commit()
	r.guard.Advance(evt)

	if r.metrics != nil {
		r.metrics.EventsApplied.WithLabelValues(kind).Inc()
		r.metrics.EventDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		r.metrics.ChainHeadBlock.Set(float64(ctx.BlockNumber))
		for _, d := range dirty {
			r.metrics.EntitiesCommitted.WithLabelValues(string(d.Kind)).Inc()
		}
	}

	if r.out != nil {
		r.out <- Output{
			Kind:     evt.Kind(),
			Ctx:      ctx,
			Market:   evt.Market(),
			Entities: dirty,
		}
	}
	return nil
}

func (r *Router) dispatch(led *state.Ledger, evt event.Event) error {
	switch e := evt.(type) {
	case *event.MarketAdded:
		return r.handleMarketAdded(led, e)
	case *event.MarketRemoved:
		r.log.Info().Str("market", e.MarketAddress).Str("key", e.MarketKey).
			Msg("market removed from factory")
		return nil
	case *event.ProxyAccountCreated:
		led.RegisterProxyAccount(e.Proxy, e.Creator, e.Version)
		return nil
	case *event.MarginTransferred:
		return r.handleMarginTransferred(led, e)
	case *event.FundingRecomputed:
		led.RecordFundingRate(led.LoadPool(e.MarketAddress), e.Index, e.Funding)
		return nil
	case *event.PositionModified:
		return r.handlePositionModified(led, e)
	case *event.PositionModifiedV2:
		return r.handlePositionModified(led, e.Normalize())
	case *event.PositionLiquidated:
		return r.handlePositionLiquidated(led, e)
	case *event.PositionLiquidatedV2:
		return r.handlePositionLiquidated(led, e.Normalize())
	default:
		return errors.Errorf("unknown event type: %T", evt)
	}
}

// classifyMarketKey maps a market key to the contract revision it was
// deployed from: v2 keys end in "PERP" (sETHPERP), v1 keys are plain
// synth keys (sETH).
func classifyMarketKey(key string) string {
	switch {
	case strings.HasSuffix(key, "PERP"):
		return "v2"
	case strings.HasPrefix(key, "s"):
		return "v1"
	default:
		return ""
	}
}

func (r *Router) handleMarketAdded(led *state.Ledger, e *event.MarketAdded) error {
	token, err := led.SettlementToken()
	if err != nil {
		return err
	}

	pool := led.LoadPool(e.MarketAddress)
	led.InitializePool(pool, e.MarketKey, e.MarketKey, []*ledger.Token{token}, "chainlink")
	led.SetPoolTemplateVersion(pool, classifyMarketKey(e.MarketKey))

	r.log.Info().Str("market", e.MarketAddress).Str("key", e.MarketKey).
		Str("template", pool.TemplateVersion).Msg("market added")
	return nil
}

func (r *Router) handleMarginTransferred(led *state.Ledger, e *event.MarginTransferred) error {
	token, err := led.SettlementToken()
	if err != nil {
		return err
	}

	pool := led.LoadPool(e.MarketAddress)
	res := led.LoadAccount(led.ResolveOwner(e.Account))
	if res.IsNew {
		led.AddProtocolUser()
		led.AddPoolUser(pool)
	}
	return led.ApplyMarginTransfer(pool, res.Account, token, e.MarginDelta)
}

func (r *Router) handlePositionModified(led *state.Ledger, e *event.PositionModified) error {
	token, err := led.SettlementToken()
	if err != nil {
		return err
	}

	pool := led.LoadPool(e.MarketAddress)
	res := led.LoadAccount(led.ResolveOwner(e.Account))
	if res.IsNew {
		led.AddProtocolUser()
		led.AddPoolUser(pool)
	}
	return led.ApplyModification(pool, res.Account, token, state.Modification{
		Size:         e.Size,
		TradeSize:    e.TradeSize,
		LastPrice:    e.LastPrice,
		Margin:       e.Margin,
		Fee:          e.Fee,
		FundingIndex: e.FundingIndex,
	})
}

func (r *Router) handlePositionLiquidated(led *state.Ledger, e *event.PositionLiquidated) error {
	token, err := led.SettlementToken()
	if err != nil {
		return err
	}

	pool := led.LoadPool(e.MarketAddress)
	res := led.LoadAccount(led.ResolveOwner(e.Account))
	if res.IsNew {
		led.AddProtocolUser()
		led.AddPoolUser(pool)
	}
	return led.ApplyLiquidation(pool, res.Account, token, e.Liquidator, e.Fee)
}
