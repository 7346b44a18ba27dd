package api

// Request/response types for the REST endpoints and WebSocket messages.
// Amounts and prices travel as decimal strings (1e18 fixed-point), matching
// what wallet tooling produces for 18-decimal tokens.

// ==============================
// Requests
// ==============================

type DepositRequest struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type WithdrawRequest struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type OrderRequest struct {
	Trader    string `json:"trader"`
	Side      string `json:"side"` // "buy" or "sell"
	BuyToken  string `json:"buyToken"`
	SellToken string `json:"sellToken"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
}

type CancelRequest struct {
	Trader  string `json:"trader"`
	Asset   string `json:"asset"`
	OrderID uint64 `json:"orderId"`
}

type MatchRequest struct {
	Asset string `json:"asset"`
}

// ==============================
// Responses
// ==============================

type TokenInfo struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	TotalSupply string `json:"totalSupply"`
}

type BalanceResponse struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Balance string `json:"balance"`
}

type OrderInfo struct {
	ID        uint64 `json:"id"`
	Trader    string `json:"trader"`
	IsBuy     bool   `json:"isBuyOrder"`
	BuyToken  string `json:"buyToken"`
	SellToken string `json:"sellToken"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
	Escrow    string `json:"escrow"`
	Status    string `json:"status"`
	IsFilled  bool   `json:"isFilled"`
}

type OrderCreatedResponse struct {
	OrderID uint64 `json:"orderId"`
}

type MatchResponse struct {
	Asset  string `json:"asset"`
	Trades int    `json:"trades"`
}

type OrderBookResponse struct {
	Asset      string      `json:"asset"`
	NextID     uint64      `json:"nextOrderId"`
	OrderCount uint64      `json:"orderCount"`
	Open       []OrderInfo `json:"open"`
}

type PriceLevelInfo struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

type DepthResponse struct {
	Base  string           `json:"base"`
	Quote string           `json:"quote"`
	Bids  []PriceLevelInfo `json:"bids"` // sorted high to low
	Asks  []PriceLevelInfo `json:"asks"` // sorted low to high
}

type StateHashResponse struct {
	Hash string `json:"hash"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ==============================
// WebSocket messages
// ==============================

// WSSubscribeRequest selects event channels; channel names are the event
// type strings ("deposit", "new_order", "trade_executed", ...).
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSEvent is the envelope broadcast to subscribers.
type WSEvent struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}
