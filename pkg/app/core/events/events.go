// Package events defines the exchange's append-only notification surface.
// Every committed state change produces exactly one event; emitters fan the
// stream out to logs, the audit journal, and WebSocket subscribers.
package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Type identifies an event kind. Values double as WebSocket channel names.
type Type string

const (
	TypeDeposit       Type = "deposit"
	TypeWithdraw      Type = "withdraw"
	TypeNewOrder      Type = "new_order"
	TypeOrderCanceled Type = "order_canceled"
	TypeTradeExecuted Type = "trade_executed"
)

// Event is implemented by every notification payload.
type Event interface {
	EventType() Type
}

type Deposit struct {
	Owner  common.Address `json:"owner"`
	Asset  common.Address `json:"asset"`
	Amount *big.Int       `json:"amount"`
}

func (Deposit) EventType() Type { return TypeDeposit }

type Withdraw struct {
	Owner  common.Address `json:"owner"`
	Asset  common.Address `json:"asset"`
	Amount *big.Int       `json:"amount"`
}

func (Withdraw) EventType() Type { return TypeWithdraw }

type NewOrder struct {
	ID        uint64         `json:"id"`
	Trader    common.Address `json:"trader"`
	IsBuy     bool           `json:"isBuyOrder"`
	BuyToken  common.Address `json:"buyToken"`
	SellToken common.Address `json:"sellToken"`
	Amount    *big.Int       `json:"amount"`
	Price     *big.Int       `json:"price"`
}

func (NewOrder) EventType() Type { return TypeNewOrder }

type OrderCanceled struct {
	ID           uint64         `json:"id"`
	Trader       common.Address `json:"trader"`
	RefundAsset  common.Address `json:"refundAsset"`
	RefundAmount *big.Int       `json:"refundAmount"`
}

func (OrderCanceled) EventType() Type { return TypeOrderCanceled }

type TradeExecuted struct {
	BuyOrderID  uint64   `json:"buyOrderId"`
	SellOrderID uint64   `json:"sellOrderId"`
	Amount      *big.Int `json:"amount"`
	Price       *big.Int `json:"price"` // maker price the pair settled at
}

func (TradeExecuted) EventType() Type { return TypeTradeExecuted }
