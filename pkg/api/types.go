package api

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tegro-connector/pkg/connector"
)

// ==============================
// REST Response Types
// ==============================

// OrderInfo is the ledger view of one order
type OrderInfo struct {
	ClientOrderID   string          `json:"clientOrderId"`
	ExchangeOrderID string          `json:"exchangeOrderId,omitempty"`
	TradingPair     string          `json:"tradingPair"`
	Side            string          `json:"side"` // "buy" or "sell"
	Type            string          `json:"type"` // "LIMIT", "LIMIT_MAKER", "MARKET"
	Price           decimal.Decimal `json:"price"`
	Amount          decimal.Decimal `json:"amount"`
	Executed        decimal.Decimal `json:"executed"`
	Status          string          `json:"status"`
	CreatedAt       float64         `json:"createdAt"` // Unix seconds
}

func orderInfo(o connector.TrackedOrder) OrderInfo {
	return OrderInfo{
		ClientOrderID:   o.ClientOrderID,
		ExchangeOrderID: o.ExchangeOrderID,
		TradingPair:     o.TradingPair,
		Side:            o.Side.String(),
		Type:            o.Type.String(),
		Price:           o.Price,
		Amount:          o.Amount,
		Executed:        o.ExecutedAmount,
		Status:          o.State.String(),
		CreatedAt:       o.CreationTimestamp,
	}
}

// FillInfo is one trade recorded against an order
type FillInfo struct {
	TradeID         string  `json:"tradeId"`
	ExchangeOrderID string  `json:"exchangeOrderId"`
	Timestamp       float64 `json:"timestamp"` // Unix seconds
}

// MarketInfo is the resolved exchange market for a trading pair
type MarketInfo struct {
	ID              string          `json:"id"`
	Symbol          string          `json:"symbol"`
	TradingPair     string          `json:"tradingPair"`
	ChainID         int64           `json:"chainId"`
	BaseAsset       string          `json:"baseAsset"`
	QuoteAsset      string          `json:"quoteAsset"`
	BaseContract    string          `json:"baseContract"`
	QuoteContract   string          `json:"quoteContract"`
	BasePrecision   int32           `json:"basePrecision"`
	QuotePrecision  int32           `json:"quotePrecision"`
	LastTradedPrice decimal.Decimal `json:"lastTradedPrice"`
}

type BalanceInfo struct {
	Asset    string          `json:"asset"`
	Address  string          `json:"address"`
	Total    decimal.Decimal `json:"total"`
	Decimals int             `json:"decimals"`
}

type HealthResponse struct {
	Status string `json:"status"` // "ok" or "degraded"
	Error  string `json:"error,omitempty"`
}

// ==============================
// REST Request Types
// ==============================

// PlaceOrderRequest is the payload for POST /api/v1/orders
type PlaceOrderRequest struct {
	ClientOrderID string          `json:"clientOrderId,omitempty"` // generated when empty
	TradingPair   string          `json:"tradingPair"`
	Side          string          `json:"side"`
	Type          string          `json:"type,omitempty"` // defaults to LIMIT
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
}

// PlaceOrderResponse is the response from order submission
type PlaceOrderResponse struct {
	Status          string `json:"status"` // "submitted", "rejected"
	ClientOrderID   string `json:"clientOrderId"`
	ExchangeOrderID string `json:"exchangeOrderId,omitempty"`
	Message         string `json:"message,omitempty"`
}

type CancelOrderResponse struct {
	ClientOrderID string `json:"clientOrderId"`
	Canceled      bool   `json:"canceled"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type string      `json:"type"` // "order", "trade", "fill", "subscribed"
	Data interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orders", "trades", "fills"]
}

// OrderUpdate is broadcast on the orders channel when a tracked order changes
type OrderUpdate struct {
	Event string    `json:"event"`
	Order OrderInfo `json:"order"`
}

// TradeUpdate is broadcast on the trades channel for fills of tracked orders
type TradeUpdate struct {
	TradeID         string          `json:"tradeId"`
	ClientOrderID   string          `json:"clientOrderId"`
	ExchangeOrderID string          `json:"exchangeOrderId"`
	TradingPair     string          `json:"tradingPair"`
	Price           decimal.Decimal `json:"price"`
	BaseAmount      decimal.Decimal `json:"baseAmount"`
	QuoteAmount     decimal.Decimal `json:"quoteAmount"`
	Timestamp       float64         `json:"timestamp"`
}

// FillUpdate is broadcast on the fills channel for fills recreated from
// trade history
type FillUpdate struct {
	TradeID     string          `json:"tradeId"`
	OrderID     string          `json:"orderId"`
	TradingPair string          `json:"tradingPair"`
	Side        string          `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	Timestamp   float64         `json:"timestamp"`
}
