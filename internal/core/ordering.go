package core

import (
	"fmt"

	"PerpIndexer/internal/event"
	"PerpIndexer/internal/ledger"
)

// factoryPartition orders factory-scoped events (market add/remove,
// proxy creation), which carry no market address.
const factoryPartition = "factory"

// OutOfOrderError reports an event whose chain coordinates do not
// strictly follow the last applied event of its partition.
type OutOfOrderError struct {
	Partition string
	Last      event.Context
	Got       event.Context
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out-of-order event: partition=%s last=%d/%d/%d got=%d/%d/%d",
		e.Partition,
		e.Last.BlockNumber, e.Last.TxIndex, e.Last.LogIndex,
		e.Got.BlockNumber, e.Got.TxIndex, e.Got.LogIndex)
}

// OrderingGuard enforces per-partition delivery order by (block, tx
// index, log index). Each market is its own partition; factory-scoped
// events share one. Not thread-safe, the router is single-threaded.
type OrderingGuard struct {
	last map[string]event.Context
}

func NewOrderingGuard() *OrderingGuard {
	return &OrderingGuard{
		last: make(map[string]event.Context),
	}
}

func (g *OrderingGuard) partition(evt event.Event) string {
	if m := evt.Market(); m != "" {
		return ledger.PoolID(m)
	}
	return factoryPartition
}

// Check rejects an event that does not come strictly after the last
// applied event of its partition. Redelivered duplicates fail here too.
func (g *OrderingGuard) Check(evt event.Event) error {
	p := g.partition(evt)
	last, ok := g.last[p]
	if !ok {
		return nil
	}
	ctx := evt.Context()
	if !last.Before(ctx) {
		return &OutOfOrderError{Partition: p, Last: last, Got: ctx}
	}
	return nil
}

// Advance records the event as the partition's new high-water mark.
// Called only after the event committed.
func (g *OrderingGuard) Advance(evt event.Event) {
	g.last[g.partition(evt)] = evt.Context()
}

// Restore initializes a partition's high-water mark, used on warm start
// from the persisted watermark.
func (g *OrderingGuard) Restore(partition string, ctx event.Context) {
	g.last[partition] = ctx
}
