package tests

import (
	"testing"

	"github.com/emyemy89/decentralized-exchange/pkg/app/core/book"
	"github.com/emyemy89/decentralized-exchange/pkg/app/core/events"
	"github.com/emyemy89/decentralized-exchange/pkg/app/core/token"
	"github.com/emyemy89/decentralized-exchange/pkg/app/dex"
)

func TestMatchSettlesAtMakerPrice(t *testing.T) {
	ex := newTestExchange(t)

	ex.mustDeposit(t, alice, ex.tkb, wad(100))
	ex.mustDeposit(t, bob, ex.tka, wad(100))

	// Alice's bid rests first, so it is the maker and its price wins even
	// though bob would have sold for 1.
	buyID, _ := ex.engine.CreateBuyOrder(alice, ex.tka, ex.tkb, wad(10), wad(2))
	sellID, _ := ex.engine.CreateSellOrder(bob, ex.tka, ex.tkb, wad(10), wad(1))

	trades, err := ex.engine.MatchOrders(ex.tka)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if trades != 1 {
		t.Fatalf("trades: got %d, want 1", trades)
	}

	if got := ex.engine.BalanceOf(ex.tka, alice); got.Cmp(wad(10)) != 0 {
		t.Errorf("alice base: got %s, want %s", got, wad(10))
	}
	if got := ex.engine.BalanceOf(ex.tkb, bob); got.Cmp(wad(20)) != 0 {
		t.Errorf("bob quote: got %s, want %s", got, wad(20))
	}

	for _, id := range []uint64{buyID, sellID} {
		o, _ := ex.engine.OrderByID(id)
		if o.Status != book.StatusFilled {
			t.Errorf("order %d status: got %v, want filled", id, o.Status)
		}
		if o.Amount.Sign() != 0 || o.Escrow.Sign() != 0 {
			t.Errorf("order %d not drained: amount %s escrow %s", id, o.Amount, o.Escrow)
		}
	}

	evs := ex.rec.OfType(events.TypeTradeExecuted)
	if len(evs) != 1 {
		t.Fatalf("expected 1 trade event, got %d", len(evs))
	}
	ev := evs[0].(events.TradeExecuted)
	if ev.BuyOrderID != buyID || ev.SellOrderID != sellID {
		t.Errorf("trade ids: got %d/%d, want %d/%d", ev.BuyOrderID, ev.SellOrderID, buyID, sellID)
	}
	if ev.Amount.Cmp(wad(10)) != 0 || ev.Price.Cmp(wad(2)) != 0 {
		t.Errorf("trade terms: amount %s price %s", ev.Amount, ev.Price)
	}
	ex.checkConservation(t)
}

func TestTakerPriceImprovementRefundsEscrow(t *testing.T) {
	ex := newTestExchange(t)

	ex.mustDeposit(t, alice, ex.tkb, wad(100))
	ex.mustDeposit(t, bob, ex.tka, wad(100))

	// Bob's ask at 1 rests first; alice's bid at 2 takes and settles at 1.
	// Her order escrowed 20 but only 10 is consumed, so the rest comes back
	// when the order fills.
	ex.engine.CreateSellOrder(bob, ex.tka, ex.tkb, wad(10), wad(1))
	ex.engine.CreateBuyOrder(alice, ex.tka, ex.tkb, wad(10), wad(2))

	trades, err := ex.engine.MatchOrders(ex.tka)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if trades != 1 {
		t.Fatalf("trades: got %d, want 1", trades)
	}

	ev := ex.rec.OfType(events.TypeTradeExecuted)[0].(events.TradeExecuted)
	if ev.Price.Cmp(wad(1)) != 0 {
		t.Errorf("settle price: got %s, want %s", ev.Price, wad(1))
	}
	if got := ex.engine.BalanceOf(ex.tkb, alice); got.Cmp(wad(90)) != 0 {
		t.Errorf("alice quote after refund: got %s, want %s", got, wad(90))
	}
	if got := ex.engine.BalanceOf(ex.tkb, bob); got.Cmp(wad(10)) != 0 {
		t.Errorf("bob quote: got %s, want %s", got, wad(10))
	}
	ex.checkConservation(t)
}

func TestPartialFillLeavesRemainderOpen(t *testing.T) {
	ex := newTestExchange(t)

	ex.mustDeposit(t, alice, ex.tkb, wad(100))
	ex.mustDeposit(t, bob, ex.tka, wad(100))

	buyID, _ := ex.engine.CreateBuyOrder(alice, ex.tka, ex.tkb, wad(10), wad(2))
	sellID, _ := ex.engine.CreateSellOrder(bob, ex.tka, ex.tkb, wad(4), wad(2))

	trades, err := ex.engine.MatchOrders(ex.tka)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if trades != 1 {
		t.Fatalf("trades: got %d, want 1", trades)
	}

	sell, _ := ex.engine.OrderByID(sellID)
	if sell.Status != book.StatusFilled {
		t.Errorf("sell status: got %v, want filled", sell.Status)
	}
	buy, _ := ex.engine.OrderByID(buyID)
	if buy.Status != book.StatusPartiallyFilled {
		t.Errorf("buy status: got %v, want partially filled", buy.Status)
	}
	if buy.Amount.Cmp(wad(6)) != 0 {
		t.Errorf("buy remaining: got %s, want %s", buy.Amount, wad(6))
	}
	if buy.Escrow.Cmp(wad(12)) != 0 {
		t.Errorf("buy escrow: got %s, want %s", buy.Escrow, wad(12))
	}

	// Nothing left to cross against the remainder.
	trades, err = ex.engine.MatchOrders(ex.tka)
	if err != nil {
		t.Fatalf("second match: %v", err)
	}
	if trades != 0 {
		t.Errorf("second match executed %d trades", trades)
	}
	ex.checkConservation(t)
}

func TestMatchFindsNothingWithoutCross(t *testing.T) {
	ex := newTestExchange(t)

	ex.mustDeposit(t, alice, ex.tkb, wad(100))
	ex.mustDeposit(t, bob, ex.tka, wad(100))

	// Bid 1, ask 2: spread never crosses.
	buyID, _ := ex.engine.CreateBuyOrder(alice, ex.tka, ex.tkb, wad(10), wad(1))
	sellID, _ := ex.engine.CreateSellOrder(bob, ex.tka, ex.tkb, wad(10), wad(2))

	trades, err := ex.engine.MatchOrders(ex.tka)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if trades != 0 {
		t.Fatalf("trades: got %d, want 0", trades)
	}
	for _, id := range []uint64{buyID, sellID} {
		o, _ := ex.engine.OrderByID(id)
		if o.Status != book.StatusOpen {
			t.Errorf("order %d status: got %v, want open", id, o.Status)
		}
	}
	if evs := ex.rec.OfType(events.TypeTradeExecuted); len(evs) != 0 {
		t.Errorf("no-cross match emitted %d trade events", len(evs))
	}
}

func TestMatchIsIdempotentOnceSettled(t *testing.T) {
	ex := newTestExchange(t)

	ex.mustDeposit(t, alice, ex.tkb, wad(100))
	ex.mustDeposit(t, bob, ex.tka, wad(100))

	ex.engine.CreateBuyOrder(alice, ex.tka, ex.tkb, wad(10), wad(2))
	ex.engine.CreateSellOrder(bob, ex.tka, ex.tkb, wad(10), wad(2))

	if trades, _ := ex.engine.MatchOrders(ex.tka); trades != 1 {
		t.Fatalf("first match: got %d trades, want 1", trades)
	}
	aliceBase := ex.engine.BalanceOf(ex.tka, alice)
	bobQuote := ex.engine.BalanceOf(ex.tkb, bob)

	if trades, _ := ex.engine.MatchOrders(ex.tka); trades != 0 {
		t.Fatalf("second match: got %d trades, want 0", trades)
	}
	if got := ex.engine.BalanceOf(ex.tka, alice); got.Cmp(aliceBase) != 0 {
		t.Errorf("alice base moved on idle match: %s -> %s", aliceBase, got)
	}
	if got := ex.engine.BalanceOf(ex.tkb, bob); got.Cmp(bobQuote) != 0 {
		t.Errorf("bob quote moved on idle match: %s -> %s", bobQuote, got)
	}
}

func TestCancelledOrderNeverMatches(t *testing.T) {
	ex := newTestExchange(t)

	ex.mustDeposit(t, alice, ex.tkb, wad(100))
	ex.mustDeposit(t, bob, ex.tka, wad(100))

	buyID, _ := ex.engine.CreateBuyOrder(alice, ex.tka, ex.tkb, wad(10), wad(2))
	if err := ex.engine.CancelOrder(alice, ex.tka, buyID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	ex.engine.CreateSellOrder(bob, ex.tka, ex.tkb, wad(10), wad(1))

	trades, err := ex.engine.MatchOrders(ex.tka)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if trades != 0 {
		t.Errorf("cancelled order matched: %d trades", trades)
	}
	ex.checkConservation(t)
}

func TestPricePriorityThenLowerID(t *testing.T) {
	ex := newTestExchange(t)

	ex.mustDeposit(t, alice, ex.tkb, wad(100))
	ex.mustDeposit(t, bob, ex.tka, wad(100))

	// Two asks: the cheaper one must fill first regardless of arrival order.
	expensive, _ := ex.engine.CreateSellOrder(bob, ex.tka, ex.tkb, wad(5), wad(3))
	cheap, _ := ex.engine.CreateSellOrder(bob, ex.tka, ex.tkb, wad(5), wad(1))
	ex.engine.CreateBuyOrder(alice, ex.tka, ex.tkb, wad(5), wad(3))

	if trades, _ := ex.engine.MatchOrders(ex.tka); trades != 1 {
		t.Fatalf("expected 1 trade")
	}
	cheapOrder, _ := ex.engine.OrderByID(cheap)
	if cheapOrder.Status != book.StatusFilled {
		t.Errorf("cheapest ask not filled first")
	}
	expOrder, _ := ex.engine.OrderByID(expensive)
	if expOrder.Status != book.StatusOpen {
		t.Errorf("expensive ask touched: %v", expOrder.Status)
	}

	// Same price: earlier id wins the tie.
	ex2 := newTestExchange(t)
	ex2.mustDeposit(t, alice, ex2.tkb, wad(100))
	ex2.mustDeposit(t, bob, ex2.tka, wad(100))
	first, _ := ex2.engine.CreateSellOrder(bob, ex2.tka, ex2.tkb, wad(5), wad(2))
	second, _ := ex2.engine.CreateSellOrder(bob, ex2.tka, ex2.tkb, wad(5), wad(2))
	ex2.engine.CreateBuyOrder(alice, ex2.tka, ex2.tkb, wad(5), wad(2))

	if trades, _ := ex2.engine.MatchOrders(ex2.tka); trades != 1 {
		t.Fatalf("expected 1 trade")
	}
	firstOrder, _ := ex2.engine.OrderByID(first)
	secondOrder, _ := ex2.engine.OrderByID(second)
	if firstOrder.Status != book.StatusFilled || secondOrder.Status != book.StatusOpen {
		t.Errorf("tie-break: first=%v second=%v", firstOrder.Status, secondOrder.Status)
	}
}

func TestMatchCapBoundsTradesPerCall(t *testing.T) {
	ex := newTestExchange(t)

	capped, err := dex.New(dex.Options{
		Tokens:           ex.tokens,
		Custody:          custody,
		MaxTradesPerCall: 1,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	if err := capped.Deposit(alice, ex.tkb, wad(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := capped.Deposit(bob, ex.tka, wad(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	capped.CreateBuyOrder(alice, ex.tka, ex.tkb, wad(5), wad(2))
	capped.CreateBuyOrder(alice, ex.tka, ex.tkb, wad(5), wad(2))
	capped.CreateSellOrder(bob, ex.tka, ex.tkb, wad(5), wad(2))
	capped.CreateSellOrder(bob, ex.tka, ex.tkb, wad(5), wad(2))

	if trades, _ := capped.MatchOrders(ex.tka); trades != 1 {
		t.Fatalf("capped match: got %d trades, want 1", trades)
	}
	if trades, _ := capped.MatchOrders(ex.tka); trades != 1 {
		t.Fatalf("second capped match: got %d trades, want 1", trades)
	}
	if trades, _ := capped.MatchOrders(ex.tka); trades != 0 {
		t.Fatalf("drained book matched: %d trades", trades)
	}
}

func TestOnlyExactPairsCross(t *testing.T) {
	ex := newTestExchange(t)

	tkc := token.NewAssetToken(deployer, "Token C", "TKC", wad(1_000_000))
	if err := ex.tokens.Register(tkc); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := tkc.Transfer(deployer, bob, wad(1000)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	tkc.Approve(bob, custody, wad(1000))

	ex.mustDeposit(t, alice, ex.tkb, wad(100))
	ex.mustDeposit(t, bob, tkc.Address(), wad(100))

	// Alice wants TKA priced in TKB; bob offers TKA priced in TKC. Both
	// reference TKA but the pairs differ, so they must not cross.
	ex.engine.CreateBuyOrder(alice, ex.tka, ex.tkb, wad(10), wad(2))
	ex.engine.CreateSellOrder(bob, tkc.Address(), ex.tka, wad(10), wad(1))

	trades, err := ex.engine.MatchOrders(ex.tka)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if trades != 0 {
		t.Errorf("mismatched pairs crossed: %d trades", trades)
	}
}

func TestDepthAggregatesLevels(t *testing.T) {
	ex := newTestExchange(t)

	ex.mustDeposit(t, alice, ex.tkb, wad(100))
	ex.mustDeposit(t, bob, ex.tka, wad(100))

	ex.engine.CreateBuyOrder(alice, ex.tka, ex.tkb, wad(2), wad(1))
	ex.engine.CreateBuyOrder(alice, ex.tka, ex.tkb, wad(3), wad(1))
	ex.engine.CreateBuyOrder(alice, ex.tka, ex.tkb, wad(1), wad(2))
	ex.engine.CreateSellOrder(bob, ex.tka, ex.tkb, wad(4), wad(5))

	bids, asks := ex.engine.Depth(ex.tka, ex.tkb)
	if len(bids) != 2 || len(asks) != 1 {
		t.Fatalf("levels: got %d bids %d asks, want 2/1", len(bids), len(asks))
	}
	// Bids descend: the 2-priced level leads, then the aggregated 1-level.
	if bids[0].Price.Cmp(wad(2)) != 0 || bids[0].Amount.Cmp(wad(1)) != 0 {
		t.Errorf("top bid: price %s amount %s", bids[0].Price, bids[0].Amount)
	}
	if bids[1].Price.Cmp(wad(1)) != 0 || bids[1].Amount.Cmp(wad(5)) != 0 {
		t.Errorf("second bid: price %s amount %s", bids[1].Price, bids[1].Amount)
	}
	if asks[0].Price.Cmp(wad(5)) != 0 || asks[0].Amount.Cmp(wad(4)) != 0 {
		t.Errorf("ask: price %s amount %s", asks[0].Price, asks[0].Amount)
	}
}
