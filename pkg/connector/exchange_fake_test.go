package connector

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"

	"github.com/uhyunpark/tegro-connector/pkg/exchange"
)

// fakeOrderBook serves the user order list, single order lookups and per
// order trade history for testWallet.
type fakeOrderBook struct {
	mu          sync.Mutex
	orders      []string          // rows of the user order list
	listCode    int
	lookups     map[string]string // order id -> lookup body
	lookupCode  map[string]int
	trades      map[string]string // order id -> trades body
	tradeCode   map[string]int
	listCalls   int32
	tradeCalls  int32
	lookupCalls int32
}

func newFakeOrderBook(t *testing.T, r *mux.Router) *fakeOrderBook {
	b := &fakeOrderBook{
		lookups:    make(map[string]string),
		lookupCode: make(map[string]int),
		trades:     make(map[string]string),
		tradeCode:  make(map[string]int),
	}
	r.HandleFunc(exchange.UserOrdersPath(testWallet.Hex()), func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		if q.Get("chain_id") != "84532" {
			t.Errorf("user orders chain_id = %q", q.Get("chain_id"))
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if id := q.Get("order_id"); id != "" {
			atomic.AddInt32(&b.lookupCalls, 1)
			code, ok := b.lookupCode[id]
			if !ok {
				code = http.StatusOK
			}
			body, ok := b.lookups[id]
			if !ok {
				body = "[]"
			}
			writeJSON(w, code, body)
			return
		}
		atomic.AddInt32(&b.listCalls, 1)
		if b.listCode != 0 {
			writeJSON(w, b.listCode, `{"message":"upstream unavailable"}`)
			return
		}
		writeJSON(w, http.StatusOK, "["+strings.Join(b.orders, ",")+"]")
	})
	r.HandleFunc(exchange.TradesForOrderPath("{id}"), func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&b.tradeCalls, 1)
		id := mux.Vars(req)["id"]
		b.mu.Lock()
		defer b.mu.Unlock()
		code, ok := b.tradeCode[id]
		if !ok {
			code = http.StatusOK
		}
		body, ok := b.trades[id]
		if !ok {
			body = "[]"
		}
		writeJSON(w, code, body)
	})
	return b
}

func (b *fakeOrderBook) setOrders(rows ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = rows
}

// failList makes the user order list answer code; zero restores it.
func (b *fakeOrderBook) failList(code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCode = code
}

func (b *fakeOrderBook) setTrades(orderID, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trades[orderID] = body
}

func (b *fakeOrderBook) setLookup(orderID string, code int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lookups[orderID] = body
	b.lookupCode[orderID] = code
}

const (
	trackedOrderRow = `{"order_id":"100234","side":"buy","price":"9999","quantity":"2","status":"Active","timestamp":1499865549000}`
	trackedTrades   = `[{"id":28457,"order_id":"100234","symbol":"WETH_USDC","price":"9999","amount":1,` +
		`"timestamp":1499865549590,"taker_type":"buy"}]`
)
