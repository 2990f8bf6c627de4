package connector

import (
	"context"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// APIRequester sends one REST call. Failures are *exchange.UpstreamError.
type APIRequester interface {
	Do(ctx context.Context, method, path string, params url.Values, body interface{}, out interface{}) error
}

// Signer signs exchange-provided typed data with the wallet key.
type Signer interface {
	SignTypedData(domain map[string]interface{}, types apitypes.Types, primaryType string, message map[string]interface{}) (string, error)
	Address() common.Address
}

// OrderTracker is the host ledger. All methods must be safe for concurrent
// use and idempotent; illegal transitions are rejected by the tracker.
type OrderTracker interface {
	FillableOrders() []TrackedOrder
	FillableOrderByExchangeID(exchangeOrderID string) (TrackedOrder, bool)
	ProcessOrderUpdate(update OrderUpdate)
	ProcessTradeUpdate(update TradeUpdate)
	ProcessOrderNotFound(clientOrderID string)
}

// EventBus receives fills of orders the tracker no longer knows about.
type EventBus interface {
	TriggerOrderFilled(event OrderFilledEvent)
}

// EventQueue yields raw user stream messages, blocking until one is available.
type EventQueue interface {
	Next(ctx context.Context) ([]byte, error)
}

// FillRecorder remembers which client order id an exchange order id belonged
// to and which trade ids have been reported.
type FillRecorder interface {
	RecordOrder(exchangeOrderID, clientOrderID string) error
	ClientOrderID(exchangeOrderID string) (string, bool, error)
	// MarkTrade records tradeID and reports whether it was new.
	MarkTrade(tradeID, exchangeOrderID string, timestamp float64) (bool, error)
}

// AllowanceApprover grants spender an allowance over each token on chain.
type AllowanceApprover interface {
	Approve(ctx context.Context, spender common.Address, tokens []common.Address) error
}
