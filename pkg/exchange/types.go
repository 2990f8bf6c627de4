package exchange

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
)

// FlexID decodes identifiers the API sends either as JSON strings or numbers.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
	case len(data) > 0 && data[0] == '"':
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		*f = FlexID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*f = FlexID(n.String())
	}
	return nil
}

func (f FlexID) String() string { return string(f) }

// Market is one row of the market listing and the market detail response.
type Market struct {
	ID                   string          `json:"id"`
	Symbol               string          `json:"symbol"`
	ChainID              int64           `json:"chain_id"`
	ChainIDCamel         int64           `json:"chainId"` // older listing rows
	BaseContractAddress  string          `json:"base_contract_address"`
	BaseSymbol           string          `json:"base_symbol"`
	BaseDecimal          int             `json:"base_decimal"`
	BasePrecision        int32           `json:"base_precision"`
	QuoteContractAddress string          `json:"quote_contract_address"`
	QuoteSymbol          string          `json:"quote_symbol"`
	QuoteDecimal         int             `json:"quote_decimal"`
	QuotePrecision       int32           `json:"quote_precision"`
	Ticker               Ticker          `json:"ticker"`
	MinOrderValue        decimal.Decimal `json:"min_order_value"`
}

// Chain returns the chain id regardless of which spelling the row used.
func (m Market) Chain() int64 {
	if m.ChainID != 0 {
		return m.ChainID
	}
	return m.ChainIDCamel
}

type Ticker struct {
	Price     decimal.Decimal `json:"price"`
	BidHigh   decimal.Decimal `json:"bid_high"`
	AskLow    decimal.Decimal `json:"ask_low"`
	Volume24h decimal.Decimal `json:"volume_24h"`
}

type ChainInfo struct {
	ID               FlexID `json:"id"`
	Name             string `json:"name"`
	ExchangeContract string `json:"exchange_contract"`
	Active           bool   `json:"active"`
}

type TokenBalance struct {
	Symbol   string          `json:"symbol"`
	Address  string          `json:"address"`
	Type     string          `json:"type"`
	Balance  decimal.Decimal `json:"balance"`
	Decimals int             `json:"decimal"`
}

// SignData is the typed-data envelope the exchange hands back for signing.
type SignData struct {
	Types       apitypes.Types         `json:"types"`
	PrimaryType string                 `json:"primaryType,omitempty"`
	Domain      map[string]interface{} `json:"domain"`
	Message     map[string]interface{} `json:"message"`
}

type GenerateOrderRequest struct {
	ChainID       int64  `json:"chain_id"`
	MarketSymbol  string `json:"market_symbol"`
	Side          string `json:"side"` // "buy" | "sell"
	WalletAddress string `json:"wallet_address"`
	Price         string `json:"price"`
	Amount        string `json:"amount"`
}

// LimitOrder fields are echoed back verbatim in PlaceOrderRequest.
type LimitOrder struct {
	ChainID         int64           `json:"chain_id"`
	BaseAsset       string          `json:"base_asset"`
	QuoteAsset      string          `json:"quote_asset"`
	Side            json.RawMessage `json:"side"`
	VolumePrecision json.RawMessage `json:"volume_precision"`
	PricePrecision  json.RawMessage `json:"price_precision"`
	OrderHash       string          `json:"order_hash"`
	RawOrderData    string          `json:"raw_order_data"`
	MarketID        string          `json:"market_id"`
}

type GenerateOrderResponse struct {
	LimitOrder LimitOrder `json:"limit_order"`
	SignData   SignData   `json:"sign_data"`
}

// PlaceOrderRequest is immutable once built and posted as is.
type PlaceOrderRequest struct {
	ChainID         int64           `json:"chain_id"`
	BaseAsset       string          `json:"base_asset"`
	QuoteAsset      string          `json:"quote_asset"`
	Side            json.RawMessage `json:"side"`
	VolumePrecision json.RawMessage `json:"volume_precision"`
	PricePrecision  json.RawMessage `json:"price_precision"`
	OrderHash       string          `json:"order_hash"`
	RawOrderData    string          `json:"raw_order_data"`
	Signature       string          `json:"signature"`
	SignedOrderType string          `json:"signed_order_type"`
	MarketID        string          `json:"market_id"`
	MarketSymbol    string          `json:"market_symbol"`
}

type PlaceOrderResponse struct {
	OrderID   FlexID `json:"order_id"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"` // ms
}

type GenerateCancelRequest struct {
	OrderIDs    []string `json:"order_ids"`
	UserAddress string   `json:"user_address"`
}

type GenerateCancelResponse struct {
	SignData SignData `json:"sign_data"`
}

type CancelOrderRequest struct {
	UserAddress string   `json:"user_address"`
	OrderIDs    []string `json:"order_ids"`
	Signature   string   `json:"Signature"`
}

type CancelOrderResponse struct {
	CancelledOrderIDs []FlexID `json:"cancelled_order_ids"`
}

// UserOrder is an entry of the user order list and the single order lookup.
type UserOrder struct {
	OrderID        FlexID          `json:"order_id"`
	OrderHash      string          `json:"order_hash"`
	MarketID       string          `json:"market_id"`
	Side           string          `json:"side"`
	BaseCurrency   string          `json:"base_currency"`
	QuoteCurrency  string          `json:"quote_currency"`
	Quantity       decimal.Decimal `json:"quantity"`
	QuantityFilled decimal.Decimal `json:"quantity_filled"`
	Price          decimal.Decimal `json:"price"`
	Status         string          `json:"status"`
	Timestamp      int64           `json:"timestamp"` // ms
	Time           string          `json:"time"`
}

// TradeFill is one settled trade. Trade ids are unique per exchange.
type TradeFill struct {
	ID             FlexID          `json:"id"`
	OrderID        FlexID          `json:"order_id"`
	Symbol         string          `json:"symbol"`
	MarketID       string          `json:"market_id"`
	Price          decimal.Decimal `json:"price"`
	Amount         decimal.Decimal `json:"amount"`
	State          string          `json:"state"`
	TxHash         string          `json:"txHash"`
	Timestamp      int64           `json:"timestamp"` // ms
	Time           string          `json:"time"`
	TakerType      string          `json:"taker_type"`
	TakerTypeCamel string          `json:"takerType"`
	Taker          string          `json:"taker"`
	Maker          string          `json:"maker"`
}

// TakerIsBuyer reports whether the aggressor bought.
func (t TradeFill) TakerIsBuyer() bool {
	side := t.TakerType
	if side == "" {
		side = t.TakerTypeCamel
	}
	return side == "buy"
}

// StreamMessage is the user stream envelope.
type StreamMessage struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
	Code   json.RawMessage `json:"code,omitempty"`
}

// HasCode reports whether the server attached a status code to the message.
func (m StreamMessage) HasCode() bool { return len(m.Code) > 0 }

// OrderEvent is the payload of order_submitted / order_trade_processed.
type OrderEvent struct {
	OrderID   FlexID `json:"order_id"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"` // ms
	Time      string `json:"time"`
}

// User stream actions.
const (
	ActionTradeCreated        = "trade_created"
	ActionTradeUpdated        = "trade_updated"
	ActionOrderSubmitted      = "order_submitted"
	ActionOrderTradeProcessed = "order_trade_processed"
)
