package exchange

import "fmt"

// REST paths, relative to the configured API base URL.
const (
	ChainListPath               = "/v1/chains"
	PingPath                    = ChainListPath
	GenerateOrderTypedDataPath  = "/v1/trading/market/orders/typedData/generate"
	PlaceOrderPath              = "/v1/trading/market/orders/place"
	GenerateCancelTypedDataPath = "/v1/trading/market/orders/cancel/typedData/generate"
	CancelOrderPath             = "/v1/trading/market/orders/cancel"
)

// SignedOrderType tags every order posted by this connector.
const SignedOrderType = "tegro"

func MarketListPath(chainID int64) string {
	return fmt.Sprintf("/v1/exchange/%d/market/list", chainID)
}

// MarketDetailPath also carries the market ticker.
func MarketDetailPath(chainID int64, marketID string) string {
	return fmt.Sprintf("/v1/exchange/%d/market/%s", chainID, marketID)
}

func AccountsPath(chainID int64, wallet string) string {
	return fmt.Sprintf("/v1/accounts/%d/%s/portfolio", chainID, wallet)
}

func UserOrdersPath(wallet string) string {
	return fmt.Sprintf("/v1/trading/market/orders/user/%s", wallet)
}

func TradesForOrderPath(orderID string) string {
	return fmt.Sprintf("/v1/trading/market/orders/trades/%s", orderID)
}
