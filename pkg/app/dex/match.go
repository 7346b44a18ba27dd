package dex

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/emyemy89/decentralized-exchange/pkg/app/core/book"
	"github.com/emyemy89/decentralized-exchange/pkg/app/core/events"
)

// pairKey identifies one market: base is the asset changing hands, quote is
// what it is priced in. A buy and a sell are candidates only when their
// token pairs invert each other exactly.
type pairKey struct {
	base  common.Address
	quote common.Address
}

// MatchOrders crosses resting orders referencing asset until no crossable
// pair remains (or the per-call trade cap is hit) and returns the number of
// trades executed. Finding nothing to match is success, not failure; anyone
// may call this.
func (e *Engine) MatchOrders(asset common.Address) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	trades := 0
	for e.matchCap == 0 || trades < e.matchCap {
		buy, sell, ok := e.bestCrossable(asset)
		if !ok {
			break
		}
		if err := e.executeTrade(buy, sell); err != nil {
			return trades, err
		}
		trades++
	}
	return trades, nil
}

// bestCrossable scans the open orders for asset, partitions them per exact
// token pair, and returns the highest-priority crossing pair: best price
// first, earlier id breaking ties. Naive O(n^2) over open orders; the
// per-call cap bounds total work on large books.
func (e *Engine) bestCrossable(asset common.Address) (buy, sell *book.Order, ok bool) {
	open := e.book.Open(asset)

	buys := make(map[pairKey][]*book.Order)
	sells := make(map[pairKey][]*book.Order)
	for _, o := range open {
		if o.IsBuy {
			k := pairKey{base: o.BuyToken, quote: o.SellToken}
			buys[k] = append(buys[k], o)
		} else {
			k := pairKey{base: o.SellToken, quote: o.BuyToken}
			sells[k] = append(sells[k], o)
		}
	}

	// Deterministic pair order: engines replaying the log must cross the
	// same orders in the same sequence.
	keys := make([]pairKey, 0, len(buys))
	for k := range buys {
		if len(sells[k]) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if c := keys[i].base.Cmp(keys[j].base); c != 0 {
			return c < 0
		}
		return keys[i].quote.Cmp(keys[j].quote) < 0
	})

	for _, k := range keys {
		bestBuy := bestOfSide(buys[k], true)
		bestSell := bestOfSide(sells[k], false)
		if bestBuy.Price.Cmp(bestSell.Price) >= 0 { // bid >= ask
			return bestBuy, bestSell, true
		}
	}
	return nil, nil, false
}

// bestOfSide picks the best-priced order, lower id winning ties. Buys want
// the highest bid, sells the lowest ask.
func bestOfSide(orders []*book.Order, isBuy bool) *book.Order {
	best := orders[0]
	for _, o := range orders[1:] {
		c := o.Price.Cmp(best.Price)
		if isBuy {
			if c > 0 || (c == 0 && o.ID < best.ID) {
				best = o
			}
		} else {
			if c < 0 || (c == 0 && o.ID < best.ID) {
				best = o
			}
		}
	}
	return best
}

// executeTrade settles one crossing pair at the maker's price. The earlier
// of the two orders is the maker. Base quantity moves from the seller's
// escrow to the buyer's balance; the quote value at maker price moves from
// the buyer's escrow to the seller's balance. An order whose remaining
// amount hits zero closes, and any residual escrow (price improvement on a
// taker buy) is refunded on the spot.
func (e *Engine) executeTrade(buy, sell *book.Order) error {
	makerPrice := buy.Price
	if sell.ID < buy.ID {
		makerPrice = sell.Price
	}

	qty := new(big.Int).Set(buy.Amount)
	if sell.Amount.Cmp(qty) < 0 {
		qty.Set(sell.Amount)
	}
	quote := quoteAmount(qty, makerPrice)

	baseAsset := buy.BuyToken
	quoteAsset := buy.SellToken

	// Seller's escrow holds the base quantity; buyer's escrow covers at
	// least the quote value because their limit price bounds makerPrice.
	if err := e.book.ConsumeEscrow(sell.ID, qty); err != nil {
		return fmt.Errorf("trade %d/%d: %w", buy.ID, sell.ID, err)
	}
	if err := e.book.ConsumeEscrow(buy.ID, quote); err != nil {
		return fmt.Errorf("trade %d/%d: %w", buy.ID, sell.ID, err)
	}
	e.ledger.Credit(baseAsset, buy.Trader, qty)
	e.ledger.Credit(quoteAsset, sell.Trader, quote)

	if err := e.book.ReduceAmount(buy.ID, qty); err != nil {
		return fmt.Errorf("trade %d/%d: %w", buy.ID, sell.ID, err)
	}
	if err := e.book.ReduceAmount(sell.ID, qty); err != nil {
		return fmt.Errorf("trade %d/%d: %w", buy.ID, sell.ID, err)
	}

	for _, o := range []*book.Order{buy, sell} {
		if o.Amount.Sign() != 0 {
			continue
		}
		residual, err := e.book.Close(o.ID, book.StatusFilled)
		if err != nil {
			return fmt.Errorf("close %d: %w", o.ID, err)
		}
		if residual.Sign() > 0 {
			e.ledger.Credit(o.SellToken, o.Trader, residual)
		}
	}

	e.tradeSeq++
	ev := events.TradeExecuted{
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Amount:      qty,
		Price:       new(big.Int).Set(makerPrice),
	}

	if e.store != nil {
		b := e.store.NewBatch()
		b.PutOrder(buy)
		b.PutOrder(sell)
		b.PutBalance(baseAsset, buy.Trader, e.ledger.BalanceOf(baseAsset, buy.Trader))
		b.PutBalance(quoteAsset, sell.Trader, e.ledger.BalanceOf(quoteAsset, sell.Trader))
		// Residual refunds touch the traders' quote/base balances too.
		b.PutBalance(buy.SellToken, buy.Trader, e.ledger.BalanceOf(buy.SellToken, buy.Trader))
		b.PutBalance(sell.SellToken, sell.Trader, e.ledger.BalanceOf(sell.SellToken, sell.Trader))
		b.PutTrade(e.tradeSeq, ev)
		b.PutTradeSeq(e.tradeSeq)
		if err := b.Commit(); err != nil {
			return fmt.Errorf("persist trade: %w", err)
		}
	}

	e.log.Infow("trade_executed", "buy", buy.ID, "sell", sell.ID,
		"qty", qty.String(), "price", makerPrice.String())
	e.emitter.Emit(ev)
	return nil
}

// PriceLevel aggregates open quantity resting at one price.
type PriceLevel struct {
	Price  *big.Int `json:"price"`
	Amount *big.Int `json:"amount"`
}

// Depth aggregates the open orders of one market into price levels: bids
// sorted high to low, asks low to high.
func (e *Engine) Depth(base, quote common.Address) (bids, asks []PriceLevel) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bidAgg := make(map[string]*PriceLevel)
	askAgg := make(map[string]*PriceLevel)
	for _, o := range e.book.Open(base) {
		var agg map[string]*PriceLevel
		switch {
		case o.IsBuy && o.BuyToken == base && o.SellToken == quote:
			agg = bidAgg
		case !o.IsBuy && o.SellToken == base && o.BuyToken == quote:
			agg = askAgg
		default:
			continue
		}
		key := o.Price.String()
		lvl, ok := agg[key]
		if !ok {
			lvl = &PriceLevel{Price: new(big.Int).Set(o.Price), Amount: new(big.Int)}
			agg[key] = lvl
		}
		lvl.Amount.Add(lvl.Amount, o.Amount)
	}

	for _, lvl := range bidAgg {
		bids = append(bids, *lvl)
	}
	for _, lvl := range askAgg {
		asks = append(asks, *lvl)
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.Cmp(bids[j].Price) > 0 })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.Cmp(asks[j].Price) < 0 })
	return bids, asks
}
