// Package dex wires the custody ledger, order book and matching engine into
// one exchange facade. Every state-changing operation is serialized under a
// single mutex and commits all-or-nothing: all validation happens before the
// first mutation, so a failed call leaves balances, orders and events
// untouched.
package dex

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/emyemy89/decentralized-exchange/pkg/app/core/book"
	"github.com/emyemy89/decentralized-exchange/pkg/app/core/events"
	"github.com/emyemy89/decentralized-exchange/pkg/app/core/ledger"
	"github.com/emyemy89/decentralized-exchange/pkg/storage"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrNotOrderOwner = errors.New("caller is not the order trader")
)

// wad is the implicit fixed-point scale: all amounts and prices carry 18
// decimal places.
var wad = big.NewInt(1e18)

// quoteAmount converts a base-asset quantity to its quote-asset value at
// price, flooring: amount * price / 1e18.
func quoteAmount(amount, price *big.Int) *big.Int {
	q := new(big.Int).Mul(amount, price)
	return q.Div(q, wad)
}

// Options configures an Engine. Store and Emitter are optional; Logger
// defaults to a nop logger.
type Options struct {
	Tokens  ledger.Lookup
	Custody common.Address
	Emitter events.Emitter
	Store   *storage.Store
	Logger  *zap.SugaredLogger

	// MaxTradesPerCall bounds how many trades one MatchOrders call may
	// execute. Zero means unbounded (loop to fixpoint).
	MaxTradesPerCall int
}

// Engine is the exchange. State-changing calls run strictly one at a time.
type Engine struct {
	mu sync.Mutex

	ledger   *ledger.Ledger
	book     *book.Book
	emitter  events.Emitter
	store    *storage.Store
	log      *zap.SugaredLogger
	matchCap int

	tradeSeq uint64
}

// New builds an engine. If a store is supplied and holds a previous
// snapshot, the full ledger and book state is reloaded from it.
func New(opts Options) (*Engine, error) {
	if opts.Tokens == nil {
		return nil, fmt.Errorf("token lookup is required")
	}
	if opts.Emitter == nil {
		opts.Emitter = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	e := &Engine{
		ledger:   ledger.New(opts.Tokens, opts.Custody),
		book:     book.New(),
		emitter:  opts.Emitter,
		store:    opts.Store,
		log:      opts.Logger,
		matchCap: opts.MaxTradesPerCall,
	}

	if e.store != nil {
		snap, err := e.store.Load()
		if err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
		restored, err := book.Restore(snap.Orders)
		if err != nil {
			return nil, fmt.Errorf("restore book: %w", err)
		}
		e.book = restored
		for asset, owners := range snap.Balances {
			for owner, amount := range owners {
				e.ledger.Restore(asset, owner, amount)
			}
		}
		for asset, t := range snap.Totals {
			e.ledger.RestoreTotals(asset, t.Deposited, t.Withdrawn)
		}
		e.tradeSeq = snap.TradeSeq
		if len(snap.Orders) > 0 || len(snap.Balances) > 0 {
			e.log.Infow("state_restored", "orders", len(snap.Orders), "assets", len(snap.Balances), "trades", e.tradeSeq)
		}
	}

	return e, nil
}

// Deposit pulls amount of asset from owner's external token account into
// custody and credits the internal balance.
func (e *Engine) Deposit(owner, asset common.Address, amount *big.Int) error {
	if err := requirePositive(amount, "amount"); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ledger.Deposit(asset, owner, amount); err != nil {
		return err
	}
	if err := e.persistBalance(asset, owner, true); err != nil {
		return err
	}

	e.log.Infow("deposit", "owner", owner.Hex(), "asset", asset.Hex(), "amount", amount.String())
	e.emitter.Emit(events.Deposit{Owner: owner, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

// Withdraw debits owner's internal balance and pushes amount back out.
func (e *Engine) Withdraw(owner, asset common.Address, amount *big.Int) error {
	if err := requirePositive(amount, "amount"); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ledger.Withdraw(asset, owner, amount); err != nil {
		return err
	}
	if err := e.persistBalance(asset, owner, true); err != nil {
		return err
	}

	e.log.Infow("withdraw", "owner", owner.Hex(), "asset", asset.Hex(), "amount", amount.String())
	e.emitter.Emit(events.Withdraw{Owner: owner, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

// BalanceOf reports owner's available custodied balance. Never fails.
func (e *Engine) BalanceOf(asset, owner common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.BalanceOf(asset, owner)
}

// CreateBuyOrder escrows floor(amount*price/1e18) of sellToken and appends a
// buy order for amount of buyToken at the given quote-per-base price.
func (e *Engine) CreateBuyOrder(trader, buyToken, sellToken common.Address, amount, price *big.Int) (uint64, error) {
	return e.createOrder(trader, buyToken, sellToken, amount, price, true)
}

// CreateSellOrder escrows amount of sellToken directly and appends a sell
// order offering it at the given quote-per-base price.
func (e *Engine) CreateSellOrder(trader, sellToken, buyToken common.Address, amount, price *big.Int) (uint64, error) {
	return e.createOrder(trader, buyToken, sellToken, amount, price, false)
}

func (e *Engine) createOrder(trader, buyToken, sellToken common.Address, amount, price *big.Int, isBuy bool) (uint64, error) {
	if err := requirePositive(amount, "amount"); err != nil {
		return 0, err
	}
	if err := requirePositive(price, "price"); err != nil {
		return 0, err
	}
	if buyToken == sellToken {
		return 0, fmt.Errorf("%w: buy and sell token must differ", ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Buys lock the quote-asset value of the order; sells lock the base
	// quantity itself, no price multiplication.
	var escrow *big.Int
	if isBuy {
		escrow = quoteAmount(amount, price)
	} else {
		escrow = new(big.Int).Set(amount)
	}
	if err := e.ledger.Debit(sellToken, trader, escrow); err != nil {
		return 0, err
	}

	o := &book.Order{
		Trader:    trader,
		IsBuy:     isBuy,
		BuyToken:  buyToken,
		SellToken: sellToken,
		Amount:    new(big.Int).Set(amount),
		Price:     new(big.Int).Set(price),
		Escrow:    escrow,
	}
	id := e.book.Append(o)

	if e.store != nil {
		b := e.store.NewBatch()
		b.PutOrder(o)
		b.PutNextID(e.book.NextID())
		b.PutBalance(sellToken, trader, e.ledger.BalanceOf(sellToken, trader))
		if err := b.Commit(); err != nil {
			return 0, fmt.Errorf("persist order: %w", err)
		}
	}

	e.log.Infow("new_order", "id", id, "trader", trader.Hex(), "buy", isBuy,
		"amount", amount.String(), "price", price.String(), "escrow", escrow.String())
	e.emitter.Emit(events.NewOrder{
		ID:        id,
		Trader:    trader,
		IsBuy:     isBuy,
		BuyToken:  buyToken,
		SellToken: sellToken,
		Amount:    new(big.Int).Set(amount),
		Price:     new(big.Int).Set(price),
	})
	return id, nil
}

// CancelOrder closes an open order owned by trader and refunds its remaining
// escrow. asset must be one of the order's two tokens (the enumeration
// surface addresses orders per asset).
func (e *Engine) CancelOrder(trader, asset common.Address, orderID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.book.Get(orderID)
	if err != nil {
		return err
	}
	if !o.References(asset) {
		return fmt.Errorf("%w: order %d does not reference asset %s", book.ErrOrderNotFound, orderID, asset.Hex())
	}
	if o.Trader != trader {
		return fmt.Errorf("%w: order %d belongs to %s", ErrNotOrderOwner, orderID, o.Trader.Hex())
	}
	if o.Status.Terminal() {
		return fmt.Errorf("%w: id %d", book.ErrOrderClosed, orderID)
	}

	refundAsset := o.SellToken
	refund, err := e.book.Close(orderID, book.StatusCancelled)
	if err != nil {
		return err
	}
	e.ledger.Credit(refundAsset, trader, refund)

	if e.store != nil {
		b := e.store.NewBatch()
		b.PutOrder(o)
		b.PutBalance(refundAsset, trader, e.ledger.BalanceOf(refundAsset, trader))
		if err := b.Commit(); err != nil {
			return fmt.Errorf("persist cancel: %w", err)
		}
	}

	e.log.Infow("order_canceled", "id", orderID, "trader", trader.Hex(), "refund", refund.String())
	e.emitter.Emit(events.OrderCanceled{
		ID:           orderID,
		Trader:       trader,
		RefundAsset:  refundAsset,
		RefundAmount: refund,
	})
	return nil
}

// NextOrderID returns the id the next created order will get. Callers can
// reconstruct the whole book by scanning 0..NextOrderID-1.
func (e *Engine) NextOrderID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.NextID()
}

// OrderByID returns a copy of the order with the given id.
func (e *Engine) OrderByID(id uint64) (*book.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, err := e.book.Get(id)
	if err != nil {
		return nil, err
	}
	return o.Clone(), nil
}

// GetOrder returns a copy of the index-th order referencing asset, in
// creation order.
func (e *Engine) GetOrder(asset common.Address, index uint64) (*book.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, err := e.book.ByAssetIndex(asset, index)
	if err != nil {
		return nil, err
	}
	return o.Clone(), nil
}

// AssetOrderCount returns how many orders ever referenced asset.
func (e *Engine) AssetOrderCount(asset common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.AssetOrderCount(asset)
}

// OpenOrders returns copies of all open orders referencing asset.
func (e *Engine) OpenOrders(asset common.Address) []*book.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	open := e.book.Open(asset)
	out := make([]*book.Order, len(open))
	for i, o := range open {
		out[i] = o.Clone()
	}
	return out
}

// CheckConservation verifies that custodied supply of asset equals the sum
// of all balances plus all open-order escrow of that asset.
func (e *Engine) CheckConservation(asset common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	totals := e.ledger.AssetTotals(asset)
	custodied := new(big.Int).Sub(totals.Deposited, totals.Withdrawn)

	held := new(big.Int)
	for _, b := range e.ledger.BalancesForAsset(asset) {
		held.Add(held, b)
	}
	held.Add(held, e.book.OpenEscrowTotal(asset))

	if custodied.Cmp(held) != 0 {
		return fmt.Errorf("conservation violated for %s: custodied %s, accounted %s",
			asset.Hex(), custodied.String(), held.String())
	}
	return nil
}

// persistBalance writes one balance entry, optionally with the asset's
// cumulative totals, through a single batch.
func (e *Engine) persistBalance(asset, owner common.Address, withTotals bool) error {
	if e.store == nil {
		return nil
	}
	b := e.store.NewBatch()
	b.PutBalance(asset, owner, e.ledger.BalanceOf(asset, owner))
	if withTotals {
		t := e.ledger.AssetTotals(asset)
		b.PutTotals(asset, t.Deposited, t.Withdrawn)
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("persist balance: %w", err)
	}
	return nil
}

func requirePositive(v *big.Int, name string) error {
	if v == nil || v.Sign() <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrValidation, name)
	}
	return nil
}
