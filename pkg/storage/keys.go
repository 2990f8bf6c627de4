package storage

import "fmt"

// Key schema:
//   ord:<exchangeOrderID>               → client order id
//   fill:<tradeID>                      → FillRecord (JSON)
//   ofill:<exchangeOrderID>:<tradeID>   → empty, per-order index of fills
const (
	prefixOrder      = "ord:"
	prefixFill       = "fill:"
	prefixOrderFills = "ofill:"
)

func orderKey(exchangeOrderID string) []byte {
	return []byte(prefixOrder + exchangeOrderID)
}

func fillKey(tradeID string) []byte {
	return []byte(prefixFill + tradeID)
}

func orderFillKey(exchangeOrderID, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrderFills, exchangeOrderID, tradeID))
}

// orderFillPrefix returns the prefix for all fills of one order
// Format: "ofill:{exchangeOrderID}:"
func orderFillPrefix(exchangeOrderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrderFills, exchangeOrderID))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
