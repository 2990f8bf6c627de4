package connector

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type TradeType int

const (
	Buy TradeType = iota + 1
	Sell
)

func (t TradeType) String() string {
	switch t {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}

func ParseTradeType(s string) (TradeType, error) {
	switch strings.ToLower(s) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

type OrderType int

const (
	Limit OrderType = iota + 1
	LimitMaker
	Market
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "LIMIT"
	case LimitMaker:
		return "LIMIT_MAKER"
	case Market:
		return "MARKET"
	}
	return "UNKNOWN"
}

func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToUpper(s) {
	case "LIMIT", "":
		return Limit, nil
	case "LIMIT_MAKER":
		return LimitMaker, nil
	case "MARKET":
		return Market, nil
	}
	return 0, fmt.Errorf("unknown order type %q", s)
}

// OrderState is the lifecycle of a tracked order:
// PENDING_CREATE -> OPEN -> PARTIALLY_FILLED* -> FILLED | CANCELED | FAILED.
type OrderState int

const (
	PendingCreate OrderState = iota + 1
	Open
	PartiallyFilled
	Filled
	Canceled
	Failed
)

func (s OrderState) String() string {
	switch s {
	case PendingCreate:
		return "PENDING_CREATE"
	case Open:
		return "OPEN"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Canceled:
		return "CANCELED"
	case Failed:
		return "FAILED"
	}
	return "UNKNOWN"
}

func (s OrderState) IsDone() bool {
	return s == Filled || s == Canceled || s == Failed
}

func (s OrderState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseOrderState maps an exchange order status to a lifecycle state.
func ParseOrderState(status string) (OrderState, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending":
		return PendingCreate, nil
	case "open", "active":
		return Open, nil
	case "partial", "partially_filled", "partiallyfilled":
		return PartiallyFilled, nil
	case "closed", "completed", "filled", "matched":
		return Filled, nil
	case "cancelled", "canceled", "expired":
		return Canceled, nil
	case "failed", "rejected":
		return Failed, nil
	}
	return 0, fmt.Errorf("unknown order status %q", status)
}

// TrackedOrder is the host ledger's view of one order. Read only here.
type TrackedOrder struct {
	ClientOrderID     string
	ExchangeOrderID   string
	TradingPair       string
	Side              TradeType
	Type              OrderType
	Price             decimal.Decimal
	Amount            decimal.Decimal
	ExecutedAmount    decimal.Decimal
	State             OrderState
	CreationTimestamp float64
}

// MarketInfo is the exchange metadata needed to sign for one trading pair.
type MarketInfo struct {
	ID             string
	Symbol         string
	TradingPair    string
	ChainID        int64
	BaseSymbol     string
	QuoteSymbol    string
	BaseContract   common.Address
	QuoteContract  common.Address
	BasePrecision  int32
	QuotePrecision int32
	BaseDecimals   int
	QuoteDecimals  int
}

type TradingRule struct {
	TradingPair            string
	MinOrderSize           decimal.Decimal
	MinPriceIncrement      decimal.Decimal
	MinBaseAmountIncrement decimal.Decimal
}

type OrderUpdate struct {
	ClientOrderID   string
	ExchangeOrderID string
	TradingPair     string
	NewState        OrderState
	Timestamp       float64
}

type TokenAmount struct {
	Token  string
	Amount decimal.Decimal
}

// TradeFee is informational only; the exchange settles net quantities.
type TradeFee struct {
	PercentToken string
	FlatFees     []TokenAmount
}

type TradeUpdate struct {
	TradeID         string
	ClientOrderID   string
	ExchangeOrderID string
	TradingPair     string
	Fee             TradeFee
	FillBaseAmount  decimal.Decimal
	FillQuoteAmount decimal.Decimal
	FillPrice       decimal.Decimal
	FillTimestamp   float64
}

// OrderFilledEvent reports a fill of an order that is no longer tracked.
type OrderFilledEvent struct {
	Timestamp       float64
	OrderID         string
	TradingPair     string
	TradeType       TradeType
	OrderType       OrderType
	Price           decimal.Decimal
	Amount          decimal.Decimal
	Fee             TradeFee
	ExchangeTradeID string
}

type Balance struct {
	Asset    string
	Address  string
	Total    decimal.Decimal
	Decimals int
}

// zeroBaseFee tags a zero flat fee with the base asset of an exchange symbol.
func zeroBaseFee(symbol string) TradeFee {
	base := strings.SplitN(symbol, "_", 2)[0]
	return TradeFee{
		PercentToken: base,
		FlatFees:     []TokenAmount{{Token: base, Amount: decimal.Zero}},
	}
}
