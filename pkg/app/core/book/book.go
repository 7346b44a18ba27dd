// Package book is the append-only order store. Orders get monotonically
// increasing ids that are never reused, stay addressable by id forever, and
// are enumerable per asset in creation order. Terminal orders are kept, not
// deleted, so the book can always be audited and replayed.
package book

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderClosed   = errors.New("order already closed")
)

// Book holds every order ever created, arena style: one id counter plus an
// id-indexed slice, never freed or recycled. A secondary per-asset index
// mirrors the external enumeration surface (an order shows up under both of
// its assets).
type Book struct {
	nextID  uint64
	orders  []*Order
	byAsset map[common.Address][]uint64
}

func New() *Book {
	return &Book{byAsset: make(map[common.Address][]uint64)}
}

// NextID returns the id the next appended order will get.
func (b *Book) NextID() uint64 { return b.nextID }

// Append assigns the order its id and stores it. The order's Amount, Price
// and Escrow must already be set; Status is forced to open.
func (b *Book) Append(o *Order) uint64 {
	o.ID = b.nextID
	o.Status = StatusOpen
	b.nextID++

	b.orders = append(b.orders, o)
	b.byAsset[o.BuyToken] = append(b.byAsset[o.BuyToken], o.ID)
	if o.SellToken != o.BuyToken {
		b.byAsset[o.SellToken] = append(b.byAsset[o.SellToken], o.ID)
	}
	return o.ID
}

// Get returns the order with the given id, or ErrOrderNotFound.
func (b *Book) Get(id uint64) (*Order, error) {
	if id >= uint64(len(b.orders)) {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	return b.orders[id], nil
}

// ByAssetIndex returns the index-th order referencing asset, in creation
// order. Mirrors the orderBook(token, i) read surface.
func (b *Book) ByAssetIndex(asset common.Address, index uint64) (*Order, error) {
	ids := b.byAsset[asset]
	if index >= uint64(len(ids)) {
		return nil, fmt.Errorf("%w: asset %s index %d", ErrOrderNotFound, asset.Hex(), index)
	}
	return b.orders[ids[index]], nil
}

// AssetOrderCount returns how many orders reference asset.
func (b *Book) AssetOrderCount(asset common.Address) uint64 {
	return uint64(len(b.byAsset[asset]))
}

// Open returns all non-terminal orders referencing asset, in creation order.
func (b *Book) Open(asset common.Address) []*Order {
	var out []*Order
	for _, id := range b.byAsset[asset] {
		if o := b.orders[id]; !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out
}

// ReduceAmount decrements the order's remaining quantity after a fill.
func (b *Book) ReduceAmount(id uint64, delta *big.Int) error {
	o, err := b.Get(id)
	if err != nil {
		return err
	}
	if o.Status.Terminal() {
		return fmt.Errorf("%w: id %d", ErrOrderClosed, id)
	}
	if o.Amount.Cmp(delta) < 0 {
		return fmt.Errorf("reduce exceeds remaining amount: id %d, remaining %s, delta %s",
			id, o.Amount.String(), delta.String())
	}
	o.Amount.Sub(o.Amount, delta)
	if o.Status == StatusOpen && o.Amount.Sign() > 0 {
		o.Status = StatusPartiallyFilled
	}
	return nil
}

// ConsumeEscrow releases delta from the order's remaining escrow. The caller
// is responsible for crediting that value somewhere; the book only accounts.
func (b *Book) ConsumeEscrow(id uint64, delta *big.Int) error {
	o, err := b.Get(id)
	if err != nil {
		return err
	}
	if o.Escrow.Cmp(delta) < 0 {
		return fmt.Errorf("escrow underflow: id %d, escrow %s, delta %s",
			id, o.Escrow.String(), delta.String())
	}
	o.Escrow.Sub(o.Escrow, delta)
	return nil
}

// Close moves the order to a terminal status and zeroes its remaining
// amount and escrow. Returns the escrow that was still held, which the
// caller must refund to the trader.
func (b *Book) Close(id uint64, status Status) (*big.Int, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("close with non-terminal status %s", status)
	}
	o, err := b.Get(id)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, fmt.Errorf("%w: id %d", ErrOrderClosed, id)
	}
	residual := new(big.Int).Set(o.Escrow)
	o.Escrow.SetInt64(0)
	o.Amount.SetInt64(0)
	o.Status = status
	return residual, nil
}

// OpenEscrowTotal sums the remaining escrow of open orders whose escrowed
// asset (SellToken) is asset. One side of the conservation invariant.
func (b *Book) OpenEscrowTotal(asset common.Address) *big.Int {
	total := new(big.Int)
	for _, id := range b.byAsset[asset] {
		o := b.orders[id]
		if o.SellToken == asset && !o.Status.Terminal() {
			total.Add(total, o.Escrow)
		}
	}
	return total
}

// All returns every order ever created, in id order.
func (b *Book) All() []*Order {
	return b.orders
}

// Restore rebuilds the book from persisted orders. Orders must be supplied
// in id order with no gaps; nextID continues after the last one.
func Restore(orders []*Order) (*Book, error) {
	b := New()
	for _, o := range orders {
		if o.ID != b.nextID {
			return nil, fmt.Errorf("order id gap: want %d, got %d", b.nextID, o.ID)
		}
		b.orders = append(b.orders, o)
		b.byAsset[o.BuyToken] = append(b.byAsset[o.BuyToken], o.ID)
		if o.SellToken != o.BuyToken {
			b.byAsset[o.SellToken] = append(b.byAsset[o.SellToken], o.ID)
		}
		b.nextID++
	}
	return b, nil
}
