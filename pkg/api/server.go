package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/tegro-connector/pkg/connector"
	"github.com/uhyunpark/tegro-connector/pkg/storage"
	"github.com/uhyunpark/tegro-connector/pkg/tracker"
)

// Trader is the order entry surface the server drives.
type Trader interface {
	PlaceOrder(ctx context.Context, clientOrderID, tradingPair string, side connector.TradeType,
		orderType connector.OrderType, amount, price decimal.Decimal) (string, error)
	CancelOrder(ctx context.Context, clientOrderID string) (bool, error)
	Market(ctx context.Context, tradingPair string) (connector.MarketInfo, error)
	LastTradedPrice(ctx context.Context, tradingPair string) (decimal.Decimal, error)
	Balances(ctx context.Context) ([]connector.Balance, error)
	CheckNetwork(ctx context.Context) error
}

// OrderSource exposes the order ledger.
type OrderSource interface {
	Order(clientOrderID string) (connector.TrackedOrder, bool)
	Orders() []connector.TrackedOrder
}

// FillHistory lists the trades recorded against an exchange order.
type FillHistory interface {
	Fills(exchangeOrderID string) ([]storage.FillRecord, error)
}

// Server handles REST API and WebSocket connections
type Server struct {
	trader Trader
	orders OrderSource
	fills  FillHistory
	router *mux.Router
	hub    *Hub
	logger *zap.SugaredLogger
}

func NewServer(trader Trader, orders OrderSource, fills FillHistory, logger *zap.SugaredLogger) *Server {
	s := &Server{
		trader: trader,
		orders: orders,
		fills:  fills,
		router: mux.NewRouter(),
		hub:    NewHub(logger.Named("ws")),
		logger: logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Orders
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods("DELETE")
	api.HandleFunc("/orders/{id}/fills", s.handleGetOrderFills).Methods("GET")

	// Market data and account
	api.HandleFunc("/markets/{pair}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/balances", s.handleGetBalances).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Hub returns the WebSocket hub; it must be running for /ws to accept clients.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves on addr until ctx ends.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Infow("api_server_starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Publish forwards a ledger event to WebSocket subscribers. Register it
// with tracker.AddListener.
func (s *Server) Publish(ev tracker.Event) {
	switch ev.Kind {
	case tracker.EventUntrackedFill:
		if ev.Fill == nil {
			return
		}
		s.hub.BroadcastToChannel(ChannelFills, WSMessage{Type: "fill", Data: FillUpdate{
			TradeID:     ev.Fill.ExchangeTradeID,
			OrderID:     ev.Fill.OrderID,
			TradingPair: ev.Fill.TradingPair,
			Side:        ev.Fill.TradeType.String(),
			Price:       ev.Fill.Price,
			Amount:      ev.Fill.Amount,
			Timestamp:   ev.Fill.Timestamp,
		}})
		return
	case tracker.EventOrderFilled:
		if ev.Trade != nil {
			s.hub.BroadcastToChannel(ChannelTrades, WSMessage{Type: "trade", Data: TradeUpdate{
				TradeID:         ev.Trade.TradeID,
				ClientOrderID:   ev.Trade.ClientOrderID,
				ExchangeOrderID: ev.Trade.ExchangeOrderID,
				TradingPair:     ev.Trade.TradingPair,
				Price:           ev.Trade.FillPrice,
				BaseAmount:      ev.Trade.FillBaseAmount,
				QuoteAmount:     ev.Trade.FillQuoteAmount,
				Timestamp:       ev.Trade.FillTimestamp,
			}})
		}
	}
	s.hub.BroadcastToChannel(ChannelOrders, WSMessage{Type: "order", Data: OrderUpdate{
		Event: string(ev.Kind),
		Order: orderInfo(ev.Order),
	}})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.orders.Orders()
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order, ok := s.orders.Order(id)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", id)
		return
	}
	respondJSON(w, http.StatusOK, orderInfo(order))
}

func (s *Server) handleGetOrderFills(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order, ok := s.orders.Order(id)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", id)
		return
	}
	response := []FillInfo{}
	if order.ExchangeOrderID == "" || order.ExchangeOrderID == connector.UnknownExchangeOrderID {
		respondJSON(w, http.StatusOK, response)
		return
	}
	records, err := s.fills.Fills(order.ExchangeOrderID)
	if err != nil {
		s.logger.Errorw("fill_history_failed", "client_order_id", id, "err", err)
		respondError(w, http.StatusInternalServerError, "fill history unavailable", err.Error())
		return
	}
	for _, f := range records {
		response = append(response, FillInfo{TradeID: f.TradeID, ExchangeOrderID: f.ExchangeOrderID, Timestamp: f.Timestamp})
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.TradingPair == "" {
		respondError(w, http.StatusBadRequest, "missing tradingPair", "")
		return
	}
	side, err := connector.ParseTradeType(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	orderType, err := connector.ParseOrderType(req.Type)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid type", err.Error())
		return
	}
	if !req.Amount.IsPositive() || !req.Price.IsPositive() {
		respondError(w, http.StatusBadRequest, "amount and price must be positive", "")
		return
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = connector.NewClientOrderID(side, req.TradingPair)
	} else if _, exists := s.orders.Order(req.ClientOrderID); exists {
		respondError(w, http.StatusConflict, "duplicate clientOrderId", req.ClientOrderID)
		return
	}

	exchangeOrderID, err := s.trader.PlaceOrder(r.Context(), req.ClientOrderID, req.TradingPair, side, orderType, req.Amount, req.Price)
	if err != nil {
		s.logger.Warnw("place_order_rejected", "client_order_id", req.ClientOrderID, "err", err)
		respondJSON(w, statusFor(err), PlaceOrderResponse{
			Status:        "rejected",
			ClientOrderID: req.ClientOrderID,
			Message:       err.Error(),
		})
		return
	}

	s.logger.Infow("order_submitted", "client_order_id", req.ClientOrderID, "exchange_order_id", exchangeOrderID)
	respondJSON(w, http.StatusCreated, PlaceOrderResponse{
		Status:          "submitted",
		ClientOrderID:   req.ClientOrderID,
		ExchangeOrderID: exchangeOrderID,
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	canceled, err := s.trader.CancelOrder(r.Context(), id)
	if err != nil {
		respondError(w, statusFor(err), "cancel failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, CancelOrderResponse{ClientOrderID: id, Canceled: canceled})
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	pair := mux.Vars(r)["pair"]
	market, err := s.trader.Market(r.Context(), pair)
	if err != nil {
		respondError(w, statusFor(err), "market unavailable", err.Error())
		return
	}
	price, err := s.trader.LastTradedPrice(r.Context(), pair)
	if err != nil {
		// Metadata is still useful without a ticker.
		s.logger.Warnw("last_traded_price_failed", "pair", pair, "err", err)
	}

	respondJSON(w, http.StatusOK, MarketInfo{
		ID:              market.ID,
		Symbol:          market.Symbol,
		TradingPair:     market.TradingPair,
		ChainID:         market.ChainID,
		BaseAsset:       market.BaseSymbol,
		QuoteAsset:      market.QuoteSymbol,
		BaseContract:    market.BaseContract.Hex(),
		QuoteContract:   market.QuoteContract.Hex(),
		BasePrecision:   market.BasePrecision,
		QuotePrecision:  market.QuotePrecision,
		LastTradedPrice: price,
	})
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := s.trader.Balances(r.Context())
	if err != nil {
		respondError(w, statusFor(err), "balances unavailable", err.Error())
		return
	}
	response := make([]BalanceInfo, len(balances))
	for i, b := range balances {
		response[i] = BalanceInfo{Asset: b.Asset, Address: b.Address, Total: b.Total, Decimals: b.Decimals}
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.trader.CheckNetwork(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ==============================
// Helper Functions
// ==============================

func statusFor(err error) int {
	var upstream *connector.UpstreamError
	switch {
	case errors.Is(err, connector.ErrOrderNotFound), errors.Is(err, connector.ErrMarketNotFound):
		return http.StatusNotFound
	case errors.Is(err, connector.ErrAmbiguousMarket):
		return http.StatusConflict
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}
