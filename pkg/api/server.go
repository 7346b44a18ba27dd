package api

import (
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/emyemy89/decentralized-exchange/pkg/app/core/book"
	"github.com/emyemy89/decentralized-exchange/pkg/app/core/ledger"
	"github.com/emyemy89/decentralized-exchange/pkg/app/core/token"
	"github.com/emyemy89/decentralized-exchange/pkg/app/dex"
)

// Server exposes the exchange over REST plus a WebSocket event stream.
// Trader identity is caller-supplied: authentication lives outside the
// engine boundary.
type Server struct {
	engine *dex.Engine
	tokens *token.Registry
	router *mux.Router
	hub    *Hub
}

func NewServer(engine *dex.Engine, tokens *token.Registry) *Server {
	s := &Server{
		engine: engine,
		tokens: tokens,
		router: mux.NewRouter(),
		hub:    NewHub(),
	}
	s.setupRoutes()
	return s
}

// Hub returns the WebSocket hub, so the engine's emitter fan-out can include
// the event broadcaster.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Read surface
	api.HandleFunc("/tokens", s.handleListTokens).Methods("GET")
	api.HandleFunc("/balances/{asset}/{owner}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/orderbook/{asset}", s.handleGetOrderBook).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/markets/{base}/{quote}/depth", s.handleGetDepth).Methods("GET")
	api.HandleFunc("/state/hash", s.handleStateHash).Methods("GET")

	// Operations
	api.HandleFunc("/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdraw", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/match", s.handleMatch).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and blocks serving HTTP.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// Handlers
// ==============================

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.tokens.List()
	out := make([]TokenInfo, len(tokens))
	for i, t := range tokens {
		out[i] = TokenInfo{
			Address:     t.Address().Hex(),
			Name:        t.Name(),
			Symbol:      t.Symbol(),
			TotalSupply: t.TotalSupply().String(),
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	asset, ok := parseAddress(vars["asset"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset address", vars["asset"])
		return
	}
	owner, ok := parseAddress(vars["owner"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid owner address", vars["owner"])
		return
	}
	respondJSON(w, BalanceResponse{
		Asset:   asset.Hex(),
		Owner:   owner.Hex(),
		Balance: s.engine.BalanceOf(asset, owner).String(),
	})
}

func (s *Server) handleGetOrderBook(w http.ResponseWriter, r *http.Request) {
	asset, ok := parseAddress(mux.Vars(r)["asset"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset address", mux.Vars(r)["asset"])
		return
	}

	open := s.engine.OpenOrders(asset)
	infos := make([]OrderInfo, len(open))
	for i, o := range open {
		infos[i] = orderInfo(o)
	}
	respondJSON(w, OrderBookResponse{
		Asset:      asset.Hex(),
		NextID:     s.engine.NextOrderID(),
		OrderCount: s.engine.AssetOrderCount(asset),
		Open:       infos,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", mux.Vars(r)["id"])
		return
	}
	o, err := s.engine.OrderByID(id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetDepth(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	base, ok := parseAddress(vars["base"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid base address", vars["base"])
		return
	}
	quote, ok := parseAddress(vars["quote"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid quote address", vars["quote"])
		return
	}

	bids, asks := s.engine.Depth(base, quote)
	resp := DepthResponse{Base: base.Hex(), Quote: quote.Hex()}
	for _, l := range bids {
		resp.Bids = append(resp.Bids, PriceLevelInfo{Price: l.Price.String(), Amount: l.Amount.String()})
	}
	for _, l := range asks {
		resp.Asks = append(resp.Asks, PriceLevelInfo{Price: l.Price.String(), Amount: l.Amount.String()})
	}
	respondJSON(w, resp)
}

func (s *Server) handleStateHash(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, StateHashResponse{Hash: s.engine.StateHash().Hex()})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	owner, asset, amount, ok := parseMove(w, req.Owner, req.Asset, req.Amount)
	if !ok {
		return
	}
	if err := s.engine.Deposit(owner, asset, amount); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	owner, asset, amount, ok := parseMove(w, req.Owner, req.Asset, req.Amount)
	if !ok {
		return
	}
	if err := s.engine.Withdraw(owner, asset, amount); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	trader, ok := parseAddress(req.Trader)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid trader address", req.Trader)
		return
	}
	buyToken, ok := parseAddress(req.BuyToken)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid buyToken address", req.BuyToken)
		return
	}
	sellToken, ok := parseAddress(req.SellToken)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid sellToken address", req.SellToken)
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid amount", req.Amount)
		return
	}
	price, ok := parseAmount(req.Price)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid price", req.Price)
		return
	}

	var id uint64
	var err error
	switch req.Side {
	case "buy":
		id, err = s.engine.CreateBuyOrder(trader, buyToken, sellToken, amount, price)
	case "sell":
		id, err = s.engine.CreateSellOrder(trader, sellToken, buyToken, amount, price)
	default:
		respondError(w, http.StatusBadRequest, "side must be buy or sell", req.Side)
		return
	}
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, OrderCreatedResponse{OrderID: id})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	trader, ok := parseAddress(req.Trader)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid trader address", req.Trader)
		return
	}
	asset, ok := parseAddress(req.Asset)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset address", req.Asset)
		return
	}
	if err := s.engine.CancelOrder(trader, asset, req.OrderID); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	asset, ok := parseAddress(req.Asset)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset address", req.Asset)
		return
	}
	trades, err := s.engine.MatchOrders(asset)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, MatchResponse{Asset: asset.Hex(), Trades: trades})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func orderInfo(o *book.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Trader:    o.Trader.Hex(),
		IsBuy:     o.IsBuy,
		BuyToken:  o.BuyToken.Hex(),
		SellToken: o.SellToken.Hex(),
		Amount:    o.Amount.String(),
		Price:     o.Price.String(),
		Escrow:    o.Escrow.String(),
		Status:    o.Status.String(),
		IsFilled:  o.IsFilled(),
	}
}

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseAmount(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

func parseMove(w http.ResponseWriter, ownerStr, assetStr, amountStr string) (owner, asset common.Address, amount *big.Int, ok bool) {
	owner, ok = parseAddress(ownerStr)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid owner address", ownerStr)
		return
	}
	asset, ok = parseAddress(assetStr)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset address", assetStr)
		return
	}
	amount, ok = parseAmount(amountStr)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid amount", amountStr)
		return
	}
	return owner, asset, amount, true
}

// respondEngineError maps the engine error taxonomy onto HTTP statuses.
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dex.ErrValidation):
		respondError(w, http.StatusBadRequest, "validation failed", err.Error())
	case errors.Is(err, dex.ErrNotOrderOwner):
		respondError(w, http.StatusForbidden, "not order owner", err.Error())
	case errors.Is(err, book.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order not found", err.Error())
	case errors.Is(err, book.ErrOrderClosed):
		respondError(w, http.StatusConflict, "order already closed", err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		respondError(w, http.StatusConflict, "insufficient funds", err.Error())
	case errors.Is(err, token.ErrInsufficientAllowance):
		respondError(w, http.StatusConflict, "insufficient allowance", err.Error())
	case errors.Is(err, ledger.ErrExternalTransfer):
		respondError(w, http.StatusBadGateway, "external transfer failed", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Details: details})
}
