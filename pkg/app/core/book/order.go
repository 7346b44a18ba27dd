package book

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the lifecycle state of an order.
type Status int8

const (
	StatusOpen Status = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final. Terminal orders never trade
// again and cannot be cancelled.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Order is a resting limit order. Amount is the remaining quantity in base
// units (BuyToken units for buys, SellToken units for sells); Price is the
// quote-per-base rate at 1e18 scale. Escrow is what remains locked of the
// trader's SellToken balance backing this order.
//
// Everything except Amount, Escrow and Status is immutable after creation.
type Order struct {
	ID        uint64         `json:"id"`
	Trader    common.Address `json:"trader"`
	IsBuy     bool           `json:"isBuyOrder"`
	BuyToken  common.Address `json:"buyToken"`
	SellToken common.Address `json:"sellToken"`
	Amount    *big.Int       `json:"amount"`
	Price     *big.Int       `json:"price"`
	Escrow    *big.Int       `json:"escrow"`
	Status    Status         `json:"status"`
}

// IsFilled is the single-flag external surface: true for both fully matched
// and cancelled orders.
func (o *Order) IsFilled() bool {
	return o.Status.Terminal()
}

// References reports whether the order mentions asset on either side.
func (o *Order) References(asset common.Address) bool {
	return o.BuyToken == asset || o.SellToken == asset
}

// Clone returns a deep copy, so callers can hand orders out without
// exposing book-internal state to mutation.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Amount = new(big.Int).Set(o.Amount)
	cp.Price = new(big.Int).Set(o.Price)
	cp.Escrow = new(big.Int).Set(o.Escrow)
	return &cp
}
