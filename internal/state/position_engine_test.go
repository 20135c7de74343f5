package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"PerpIndexer/internal/config"
	"PerpIndexer/internal/event"
	"PerpIndexer/internal/ledger"
	fpmath "PerpIndexer/internal/math"
	"PerpIndexer/internal/oracle"
)

const (
	testPool       = "0xp001"
	testUser       = "0xu001"
	testSettlement = "0x5050"
)

func testNetwork() config.Network {
	return config.Network{
		Name:            "testnet",
		ProtocolName:    "Kwenta Futures",
		ProtocolSlug:    "kwenta-futures",
		SettlementToken: testSettlement,
	}
}

// beginEvent opens a staged ledger view for one event. The settlement
// token resolves with zero decimals and a fixed price of 1 so raw
// amounts equal their USD values in assertions.
func beginEvent(store *ledger.MemStore, ctx event.Context) *Ledger {
	resolver := oracle.StaticResolver{
		testSettlement: {Name: "Synth sUSD", Symbol: "sUSD", Decimals: 0},
	}
	stage := ledger.NewStage(store)
	return New(stage, oracle.NewFixedPricer(decimal.NewFromInt(1)), resolver, testNetwork(), ctx, zerolog.Nop())
}

func ctxAt(block, ts int64, hash string) event.Context {
	return event.Context{BlockNumber: block, Timestamp: ts, TxHash: hash, TxIndex: 1, LogIndex: 1}
}

func mustToken(t *testing.T, l *Ledger) *ledger.Token {
	t.Helper()
	token, err := l.SettlementToken()
	if err != nil {
		t.Fatalf("settlement token: %v", err)
	}
	return token
}

func recordFunding(t *testing.T, store *ledger.MemStore, block int64, hash string, index int64, funding int64) {
	t.Helper()
	l := beginEvent(store, ctxAt(block, block*10, hash))
	pool := l.LoadPool(testPool)
	l.RecordFundingRate(pool, index, big.NewInt(funding))
	l.stage.Commit()
}

func modify(t *testing.T, store *ledger.MemStore, block int64, hash string, m Modification) error {
	t.Helper()
	l := beginEvent(store, ctxAt(block, block*10, hash))
	pool := l.LoadPool(testPool)
	acct := l.LoadAccount(testUser).Account
	token := mustToken(t, l)
	if err := l.ApplyModification(pool, acct, token, m); err != nil {
		return err
	}
	l.stage.Commit()
	return nil
}

func mustPosition(t *testing.T, store *ledger.MemStore, seq int32) *ledger.Position {
	t.Helper()
	id := ledger.PositionID(ledger.CounterKey(testUser, testPool), seq)
	p, ok := store.Position(id)
	if !ok {
		t.Fatalf("position %s not found", id)
	}
	return p
}

func TestLoadPositionLastIsStable(t *testing.T) {
	store := ledger.NewMemStore()
	l := beginEvent(store, ctxAt(1, 10, "0xt1"))
	pool := l.LoadPool(testPool)
	acct := l.LoadAccount(testUser).Account
	token := mustToken(t, l)

	first := l.LoadPosition(pool, acct, token, token, ledger.SideUnknown, nil, true)
	for i := 0; i < 3; i++ {
		again := l.LoadPosition(pool, acct, token, token, ledger.SideUnknown, nil, true)
		if again.ID() != first.ID() {
			t.Fatalf("repeated last-position load changed id: %q vs %q", again.ID(), first.ID())
		}
	}
}

func TestLoadPositionAdvanceAllocatesFreshIDs(t *testing.T) {
	store := ledger.NewMemStore()
	l := beginEvent(store, ctxAt(1, 10, "0xt1"))
	pool := l.LoadPool(testPool)
	acct := l.LoadAccount(testUser).Account
	token := mustToken(t, l)

	seen := map[string]bool{}
	last := l.LoadPosition(pool, acct, token, token, ledger.SideLong, nil, true)
	seen[last.ID()] = true

	for i := 0; i < 4; i++ {
		next := l.LoadPosition(pool, acct, token, token, ledger.SideLong, nil, false)
		if seen[next.ID()] {
			t.Fatalf("advance returned an already-used id %q", next.ID())
		}
		seen[next.ID()] = true
	}
}

func TestMarginTransferCreatesUntouchedPosition(t *testing.T) {
	store := ledger.NewMemStore()
	l := beginEvent(store, ctxAt(1, 10, "0xt1"))
	pool := l.LoadPool(testPool)
	acct := l.LoadAccount(testUser).Account
	token := mustToken(t, l)

	if err := l.ApplyMarginTransfer(pool, acct, token, big.NewInt(50)); err != nil {
		t.Fatalf("margin transfer: %v", err)
	}
	l.stage.Commit()

	pos := mustPosition(t, store, 0)
	if pos.Side != ledger.SideUnknown {
		t.Errorf("side = %q, want unknown", pos.Side)
	}
	if pos.CollateralInCount != 1 {
		t.Errorf("collateralInCount = %d, want 1", pos.CollateralInCount)
	}
	if !pos.Untouched() {
		t.Errorf("position created by margin transfer should be untouched")
	}

	p, _ := store.Pool(ledger.PoolID(testPool))
	if got := p.CumulativeInflowByToken[ledger.TokenID(testSettlement)]; got.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("pool inflow = %s, want 50", got)
	}
	if got := p.CumulativeVolumeByToken[ledger.TokenID(testSettlement)]; got.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("pool volume = %s, want 50", got)
	}

	a, _ := store.Account(ledger.AccountID(testUser))
	if a.CollateralInCount != 1 || a.CumulativeCollateralIn.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("account flow counters not updated: %+v", a)
	}

	flow, ok := store.CollateralFlow(ledger.CollateralFlowID("0xt1", 1, "in"))
	if !ok {
		t.Fatalf("collateral flow record missing")
	}
	if flow.Amount.Cmp(big.NewInt(50)) != 0 || flow.FlowKind != "in" {
		t.Errorf("flow = %+v", flow)
	}
}

func TestMarginTransferZeroDeltaIsNoop(t *testing.T) {
	store := ledger.NewMemStore()
	l := beginEvent(store, ctxAt(1, 10, "0xt1"))
	pool := l.LoadPool(testPool)
	acct := l.LoadAccount(testUser).Account
	token := mustToken(t, l)

	if err := l.ApplyMarginTransfer(pool, acct, token, big.NewInt(0)); err != nil {
		t.Fatalf("margin transfer: %v", err)
	}
	l.stage.Commit()

	id := ledger.PositionID(ledger.CounterKey(testUser, testPool), 0)
	if _, ok := store.Position(id); ok {
		t.Errorf("zero delta should not create a position")
	}
}

func TestFreshModificationOpensInPlace(t *testing.T) {
	store := ledger.NewMemStore()
	recordFunding(t, store, 1, "0xf0", 0, 0)
	recordFunding(t, store, 2, "0xf2", 2, 3)

	err := modify(t, store, 3, "0xt1", Modification{
		Size:         big.NewInt(5),
		TradeSize:    big.NewInt(5),
		LastPrice:    big.NewInt(110),
		Margin:       big.NewInt(550),
		Fee:          big.NewInt(1),
		FundingIndex: 2,
	})
	if err != nil {
		t.Fatalf("modification: %v", err)
	}

	pos := mustPosition(t, store, 0)
	if pos.Closed {
		t.Errorf("fresh open must not trigger a close")
	}
	if pos.Price.Cmp(big.NewInt(110)) != 0 || pos.Size.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("price/size = %s/%s, want 110/5", pos.Price, pos.Size)
	}
	if !pos.Leverage.Equal(decimal.NewFromInt(1)) {
		t.Errorf("leverage = %s, want 1", pos.Leverage)
	}
	if pos.Side != ledger.SideLong {
		t.Errorf("side = %q, want LONG", pos.Side)
	}

	// no second sequence allocated
	next := ledger.PositionID(ledger.CounterKey(testUser, testPool), 1)
	if _, ok := store.Position(next); ok {
		t.Errorf("fresh open allocated a spurious second position")
	}

	a, _ := store.Account(ledger.AccountID(testUser))
	if a.OpenedLongCount != 1 || a.ClosedLongCount != 0 {
		t.Errorf("opened/closed long = %d/%d, want 1/0", a.OpenedLongCount, a.ClosedLongCount)
	}
}

func TestCloseRealizesPnl(t *testing.T) {
	store := ledger.NewMemStore()
	recordFunding(t, store, 1, "0xf0", 0, 0)

	if err := modify(t, store, 2, "0xt1", Modification{
		Size: big.NewInt(4), TradeSize: big.NewInt(4),
		LastPrice: big.NewInt(100), Margin: big.NewInt(400),
		Fee: big.NewInt(0), FundingIndex: 0,
	}); err != nil {
		t.Fatalf("open: %v", err)
	}

	recordFunding(t, store, 3, "0xf1", 1, 2)

	if err := modify(t, store, 4, "0xt2", Modification{
		Size: big.NewInt(0), TradeSize: big.NewInt(4),
		LastPrice: big.NewInt(120), Margin: big.NewInt(400),
		Fee: big.NewInt(3), FundingIndex: 1,
	}); err != nil {
		t.Fatalf("close: %v", err)
	}

	pos := mustPosition(t, store, 0)
	if !pos.Closed {
		t.Fatalf("position should be closed")
	}
	// (120-100)*4 + (2-0)*4 - 3 = 85
	if pos.RealizedPnlUSD == nil || !pos.RealizedPnlUSD.Equal(decimal.NewFromInt(85)) {
		t.Errorf("realized pnl = %v, want 85", pos.RealizedPnlUSD)
	}
	if !pos.CloseBalanceUSD.Equal(decimal.NewFromInt(400)) {
		t.Errorf("close balance usd = %s, want 400", pos.CloseBalanceUSD)
	}
	if !pos.FundingRateClosed.Equal(fpmath.ToDecimal(big.NewInt(2), fpmath.WeiDecimals)) {
		t.Errorf("funding rate closed = %s", pos.FundingRateClosed)
	}
	if pos.HashClosed != "0xt2" || pos.BlockClosed != 4 {
		t.Errorf("close coordinates = %s/%d", pos.HashClosed, pos.BlockClosed)
	}

	a, _ := store.Account(ledger.AccountID(testUser))
	if a.ClosedLongCount != 1 {
		t.Errorf("closed long count = %d, want 1", a.ClosedLongCount)
	}
}

func TestSameSideContinuationKeepsID(t *testing.T) {
	store := ledger.NewMemStore()
	recordFunding(t, store, 1, "0xf0", 0, 0)
	recordFunding(t, store, 2, "0xf1", 1, 2)

	if err := modify(t, store, 3, "0xt1", Modification{
		Size: big.NewInt(4), TradeSize: big.NewInt(4),
		LastPrice: big.NewInt(100), Margin: big.NewInt(400),
		Fee: big.NewInt(0), FundingIndex: 0,
	}); err != nil {
		t.Fatalf("open: %v", err)
	}

	// increase size on the same side
	if err := modify(t, store, 4, "0xt2", Modification{
		Size: big.NewInt(6), TradeSize: big.NewInt(2),
		LastPrice: big.NewInt(105), Margin: big.NewInt(600),
		Fee: big.NewInt(1), FundingIndex: 1,
	}); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	pos := mustPosition(t, store, 0)
	if pos.Closed {
		t.Errorf("same-side adjustment must not close the position")
	}
	if pos.Size.Cmp(big.NewInt(6)) != 0 || pos.Price.Cmp(big.NewInt(105)) != 0 {
		t.Errorf("size/price = %s/%s, want 6/105", pos.Size, pos.Price)
	}

	next := ledger.PositionID(ledger.CounterKey(testUser, testPool), 1)
	if _, ok := store.Position(next); ok {
		t.Errorf("same-side continuation allocated a new position id")
	}
}

func TestCloseThenReopenAllocatesNewID(t *testing.T) {
	store := ledger.NewMemStore()
	recordFunding(t, store, 1, "0xf0", 0, 0)
	recordFunding(t, store, 2, "0xf1", 1, 2)

	open := Modification{
		Size: big.NewInt(4), TradeSize: big.NewInt(4),
		LastPrice: big.NewInt(100), Margin: big.NewInt(400),
		Fee: big.NewInt(0), FundingIndex: 0,
	}
	if err := modify(t, store, 3, "0xt1", open); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := modify(t, store, 4, "0xt2", Modification{
		Size: big.NewInt(0), TradeSize: big.NewInt(4),
		LastPrice: big.NewInt(120), Margin: big.NewInt(400),
		Fee: big.NewInt(0), FundingIndex: 1,
	}); err != nil {
		t.Fatalf("close: %v", err)
	}

	// reopen on the same side
	if err := modify(t, store, 5, "0xt3", Modification{
		Size: big.NewInt(3), TradeSize: big.NewInt(3),
		LastPrice: big.NewInt(110), Margin: big.NewInt(330),
		Fee: big.NewInt(0), FundingIndex: 1,
	}); err != nil {
		t.Fatalf("reopen: %v", err)
	}

	old := mustPosition(t, store, 0)
	if !old.Closed || old.HashClosed != "0xt2" {
		t.Errorf("old position close coordinates overwritten: %+v", old)
	}

	reopened := mustPosition(t, store, 1)
	if reopened.Closed {
		t.Errorf("reopened position should be open")
	}
	if reopened.Size.Cmp(big.NewInt(3)) != 0 {
		t.Errorf("reopened size = %s, want 3", reopened.Size)
	}

	a, _ := store.Account(ledger.AccountID(testUser))
	if a.OpenedLongCount != 2 || a.ClosedLongCount != 1 {
		t.Errorf("opened/closed long = %d/%d, want 2/1", a.OpenedLongCount, a.ClosedLongCount)
	}
}

func TestSideFlipClosesOldAndOpensNew(t *testing.T) {
	store := ledger.NewMemStore()
	recordFunding(t, store, 1, "0xf0", 0, 0)
	recordFunding(t, store, 2, "0xf1", 1, 2)

	if err := modify(t, store, 3, "0xt1", Modification{
		Size: big.NewInt(4), TradeSize: big.NewInt(4),
		LastPrice: big.NewInt(100), Margin: big.NewInt(400),
		Fee: big.NewInt(0), FundingIndex: 0,
	}); err != nil {
		t.Fatalf("open long: %v", err)
	}

	if err := modify(t, store, 4, "0xt2", Modification{
		Size: big.NewInt(-2), TradeSize: big.NewInt(6),
		LastPrice: big.NewInt(120), Margin: big.NewInt(200),
		Fee: big.NewInt(3), FundingIndex: 1,
	}); err != nil {
		t.Fatalf("flip: %v", err)
	}

	old := mustPosition(t, store, 0)
	if !old.Closed {
		t.Fatalf("flip must close the old position")
	}
	// (120-100)*4 + (2-0)*4 - 3 = 85
	if old.RealizedPnlUSD == nil || !old.RealizedPnlUSD.Equal(decimal.NewFromInt(85)) {
		t.Errorf("old realized pnl = %v, want 85", old.RealizedPnlUSD)
	}

	flipped := mustPosition(t, store, 1)
	if flipped.Side != ledger.SideShort {
		t.Errorf("flipped side = %q, want SHORT", flipped.Side)
	}
	if flipped.Size.Cmp(big.NewInt(-2)) != 0 {
		t.Errorf("flipped size = %s, want -2", flipped.Size)
	}
	// 120 * -2 / 200 = -1.2
	if !flipped.Leverage.Equal(decimal.RequireFromString("-1.2")) {
		t.Errorf("flipped leverage = %s, want -1.2", flipped.Leverage)
	}

	a, _ := store.Account(ledger.AccountID(testUser))
	if a.OpenedShortCount != 1 || a.ClosedLongCount != 1 {
		t.Errorf("opened short/closed long = %d/%d, want 1/1", a.OpenedShortCount, a.ClosedLongCount)
	}
}

func TestModificationMissingFundingSnapshotFails(t *testing.T) {
	store := ledger.NewMemStore()
	// no funding snapshots recorded

	err := modify(t, store, 2, "0xt1", Modification{
		Size: big.NewInt(4), TradeSize: big.NewInt(4),
		LastPrice: big.NewInt(100), Margin: big.NewInt(400),
		Fee: big.NewInt(0), FundingIndex: 0,
	})
	var missing *MissingFundingSnapshotError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingFundingSnapshotError", err)
	}
}

func TestModificationZeroMarginFails(t *testing.T) {
	store := ledger.NewMemStore()
	recordFunding(t, store, 1, "0xf0", 0, 0)

	err := modify(t, store, 2, "0xt1", Modification{
		Size: big.NewInt(4), TradeSize: big.NewInt(4),
		LastPrice: big.NewInt(100), Margin: big.NewInt(0),
		Fee: big.NewInt(0), FundingIndex: 0,
	})
	if !errors.Is(err, ErrZeroMargin) {
		t.Fatalf("err = %v, want ErrZeroMargin", err)
	}
}

func TestZeroTradeSizeStillAttributesFee(t *testing.T) {
	store := ledger.NewMemStore()

	if err := modify(t, store, 2, "0xt1", Modification{
		Size: big.NewInt(4), TradeSize: big.NewInt(0),
		LastPrice: big.NewInt(100), Margin: big.NewInt(400),
		Fee: big.NewInt(7), FundingIndex: 0,
	}); err != nil {
		t.Fatalf("modification: %v", err)
	}

	p, _ := store.Pool(ledger.PoolID(testPool))
	if got := p.CumulativeSupplyRevenueByToken[ledger.TokenID(testSettlement)]; got.Cmp(big.NewInt(7)) != 0 {
		t.Errorf("supply revenue = %s, want 7", got)
	}
	if got := p.CumulativeProtocolRevenueByToken[ledger.TokenID(testSettlement)]; got.Sign() != 0 {
		t.Errorf("protocol revenue = %s, want 0", got)
	}
}

func TestLiquidationSkipsCloseLifecycle(t *testing.T) {
	store := ledger.NewMemStore()
	recordFunding(t, store, 1, "0xf0", 0, 0)

	if err := modify(t, store, 2, "0xt1", Modification{
		Size: big.NewInt(4), TradeSize: big.NewInt(4),
		LastPrice: big.NewInt(100), Margin: big.NewInt(400),
		Fee: big.NewInt(0), FundingIndex: 0,
	}); err != nil {
		t.Fatalf("open: %v", err)
	}

	l := beginEvent(store, ctxAt(3, 30, "0xt2"))
	pool := l.LoadPool(testPool)
	acct := l.LoadAccount(testUser).Account
	token := mustToken(t, l)
	if err := l.ApplyLiquidation(pool, acct, token, "0xliq", big.NewInt(10)); err != nil {
		t.Fatalf("liquidation: %v", err)
	}
	l.stage.Commit()

	pos := mustPosition(t, store, 0)
	if pos.LiquidationCount != 1 {
		t.Errorf("liquidation count = %d, want 1", pos.LiquidationCount)
	}
	// realized pnl was never set, so pnl = 0 - 10
	if pos.RealizedPnlUSD == nil || !pos.RealizedPnlUSD.Equal(decimal.NewFromInt(-10)) {
		t.Errorf("realized pnl = %v, want -10", pos.RealizedPnlUSD)
	}
	if !pos.CloseBalanceUSD.IsZero() || !pos.CloseCollateralBalanceUSD.IsZero() {
		t.Errorf("liquidation must zero closing balances")
	}
	if pos.Closed {
		t.Errorf("liquidation must not stamp close coordinates")
	}

	a, _ := store.Account(ledger.AccountID(testUser))
	if a.ClosedLongCount != 0 {
		t.Errorf("liquidation must not bump closed counters, got %d", a.ClosedLongCount)
	}

	flow, ok := store.CollateralFlow(ledger.CollateralFlowID("0xt2", 1, "liquidate"))
	if !ok {
		t.Fatalf("liquidation flow record missing")
	}
	if flow.Liquidator != "0xliq" || flow.Amount.Cmp(big.NewInt(400)) != 0 {
		t.Errorf("flow = %+v", flow)
	}
	if flow.PnlUSD == nil || !flow.PnlUSD.Equal(decimal.NewFromInt(-10)) {
		t.Errorf("flow pnl = %v, want -10", flow.PnlUSD)
	}
}

func TestBackfillCompletesMarginTransferPosition(t *testing.T) {
	store := ledger.NewMemStore()
	recordFunding(t, store, 1, "0xf0", 0, 0)
	recordFunding(t, store, 2, "0xf1", 2, 3)

	// implicit creation by margin transfer
	l := beginEvent(store, ctxAt(3, 30, "0xt1"))
	pool := l.LoadPool(testPool)
	acct := l.LoadAccount(testUser).Account
	token := mustToken(t, l)
	if err := l.ApplyMarginTransfer(pool, acct, token, big.NewInt(550)); err != nil {
		t.Fatalf("margin transfer: %v", err)
	}
	l.stage.Commit()

	if err := modify(t, store, 4, "0xt2", Modification{
		Size: big.NewInt(5), TradeSize: big.NewInt(5),
		LastPrice: big.NewInt(110), Margin: big.NewInt(550),
		Fee: big.NewInt(1), FundingIndex: 2,
	}); err != nil {
		t.Fatalf("modification: %v", err)
	}

	pos := mustPosition(t, store, 0)
	if pos.Side != ledger.SideLong || pos.Size.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("backfilled side/size = %q/%s, want LONG/5", pos.Side, pos.Size)
	}
	if pos.CollateralInCount != 1 {
		t.Errorf("collateral-in count lost on backfill: %d", pos.CollateralInCount)
	}

	// still one position for the pair
	next := ledger.PositionID(ledger.CounterKey(testUser, testPool), 1)
	if _, ok := store.Position(next); ok {
		t.Errorf("backfill allocated a duplicate position")
	}
}

func TestReentrantCloseIsNoop(t *testing.T) {
	store := ledger.NewMemStore()
	l := beginEvent(store, ctxAt(1, 10, "0xt1"))
	pool := l.LoadPool(testPool)
	acct := l.LoadAccount(testUser).Account
	token := mustToken(t, l)

	pos := l.LoadPosition(pool, acct, token, token, ledger.SideLong, nil, true)
	pos.Close()
	firstHash := pos.pos.HashClosed

	// same handle, later context would differ; close again must not touch it
	pos.Close()
	if pos.pos.HashClosed != firstHash {
		t.Errorf("reentrant close overwrote close hash")
	}
	l.stage.Commit()

	a, _ := store.Account(ledger.AccountID(testUser))
	if a.ClosedLongCount != 1 {
		t.Errorf("closed long count = %d, want 1", a.ClosedLongCount)
	}
}

func TestPositionMutationsAppendSnapshots(t *testing.T) {
	store := ledger.NewMemStore()
	recordFunding(t, store, 1, "0xf0", 0, 0)

	if err := modify(t, store, 2, "0xt1", Modification{
		Size: big.NewInt(4), TradeSize: big.NewInt(4),
		LastPrice: big.NewInt(100), Margin: big.NewInt(400),
		Fee: big.NewInt(0), FundingIndex: 0,
	}); err != nil {
		t.Fatalf("open: %v", err)
	}

	id := ledger.PositionID(ledger.CounterKey(testUser, testPool), 0)
	snap, ok := store.PositionSnapshot(ledger.PositionSnapshotID(id, "0xt1", 1))
	if !ok {
		t.Fatalf("snapshot for tx 0xt1 missing")
	}
	if snap.Balance.Cmp(big.NewInt(400)) != 0 {
		t.Errorf("snapshot balance = %s, want 400", snap.Balance)
	}
	if snap.BlockNumber != 2 {
		t.Errorf("snapshot block = %d, want 2", snap.BlockNumber)
	}
}
