package connector

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/uhyunpark/tegro-connector/pkg/exchange"
	"github.com/uhyunpark/tegro-connector/pkg/storage"
)

const (
	testChainID = int64(84532)
	wethAddr    = "0x4200000000000000000000000000000000000006"
	usdcAddr    = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	testMarket  = "84532_0x4200000000000000000000000000000000000006_0x036cbd53842c5426634e7929541ec2318f3dcf7e"
	cowKey      = "c85ef7d79691fe79573b1a7064c19c1a9819ebdbd1faaab1a8ec92344438aaf4"
)

var testWallet = common.HexToAddress("0xCD2a3d9F938E13CD947Ec05AbC7FE734Df8DD826")

func marketRow(chainID int64, symbol string) string {
	return fmt.Sprintf(`{"id":%q,"symbol":%q,"chain_id":%d,"base_contract_address":%q,"base_symbol":"WETH","base_decimal":18,`+
		`"base_precision":4,"quote_contract_address":%q,"quote_symbol":"USDC","quote_decimal":6,"quote_precision":2,`+
		`"ticker":{"price":"2500.5"}}`, testMarket, symbol, chainID, wethAddr, usdcAddr)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// handleMarkets serves a single verified WETH_USDC listing and its detail.
func handleMarkets(r *mux.Router) {
	r.HandleFunc(exchange.MarketListPath(testChainID), func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, "["+marketRow(testChainID, "WETH_USDC")+"]")
	})
	r.HandleFunc(exchange.MarketDetailPath(testChainID, testMarket), func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, marketRow(testChainID, "WETH_USDC"))
	})
}

func newTestAPI(t *testing.T, r *mux.Router) *exchange.Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return exchange.NewClient(srv.URL, 0, 2*time.Second, zap.NewNop().Sugar())
}

func decodeBody(t *testing.T, req *http.Request, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		t.Errorf("decode request body: %v", err)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(sec int64) *fakeClock { return &fakeClock{now: time.Unix(sec, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// After fires immediately.
func (c *fakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

type signCall struct {
	primaryType string
	domain      map[string]interface{}
	types       apitypes.Types
	message     map[string]interface{}
}

type fakeSigner struct {
	mu    sync.Mutex
	addr  common.Address
	calls []signCall
	err   error
}

const fakeSignature = "0xfeedface"

func (s *fakeSigner) SignTypedData(domain map[string]interface{}, types apitypes.Types, primaryType string, message map[string]interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, signCall{primaryType: primaryType, domain: domain, types: types, message: message})
	if s.err != nil {
		return "", s.err
	}
	return fakeSignature, nil
}

func (s *fakeSigner) Address() common.Address { return s.addr }

// fakeTracker records everything it is told and applies the minimum state
// needed for lookups.
type fakeTracker struct {
	mu       sync.Mutex
	orders   map[string]TrackedOrder
	updates  []OrderUpdate
	trades   []TradeUpdate
	notFound []string
	filled   []OrderFilledEvent
}

func newFakeTracker(orders ...TrackedOrder) *fakeTracker {
	t := &fakeTracker{orders: make(map[string]TrackedOrder)}
	for _, o := range orders {
		t.orders[o.ClientOrderID] = o
	}
	return t
}

func (t *fakeTracker) StartTracking(o TrackedOrder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders[o.ClientOrderID] = o
}

func (t *fakeTracker) Order(id string) (TrackedOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[id]
	return o, ok
}

func (t *fakeTracker) FillableOrders() []TrackedOrder {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []TrackedOrder
	for _, o := range t.orders {
		if !o.State.IsDone() {
			out = append(out, o)
		}
	}
	return out
}

func (t *fakeTracker) FillableOrderByExchangeID(id string) (TrackedOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range t.orders {
		if id != "" && o.ExchangeOrderID == id && !o.State.IsDone() {
			return o, true
		}
	}
	return TrackedOrder{}, false
}

func (t *fakeTracker) ProcessOrderUpdate(u OrderUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates = append(t.updates, u)
	if o, ok := t.orders[u.ClientOrderID]; ok {
		o.State = u.NewState
		if u.ExchangeOrderID != "" {
			o.ExchangeOrderID = u.ExchangeOrderID
		}
		t.orders[u.ClientOrderID] = o
	}
}

func (t *fakeTracker) ProcessTradeUpdate(u TradeUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trades = append(t.trades, u)
}

func (t *fakeTracker) ProcessOrderNotFound(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notFound = append(t.notFound, id)
}

func (t *fakeTracker) TriggerOrderFilled(ev OrderFilledEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filled = append(t.filled, ev)
}

func (t *fakeTracker) snapshot() ([]OrderUpdate, []TradeUpdate, []string, []OrderFilledEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]OrderUpdate(nil), t.updates...), append([]TradeUpdate(nil), t.trades...),
		append([]string(nil), t.notFound...), append([]OrderFilledEvent(nil), t.filled...)
}

func testEngineConfig() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.ChainID = testChainID
	cfg.Wallet = testWallet
	cfg.MaxConcurrentFetches = 4
	return cfg
}

func newTestEngine(api APIRequester, tracker *fakeTracker, fills *storage.MemoryStore, clock *fakeClock) *Engine {
	return NewEngine(api, tracker, tracker, fills, DefaultClassifier(), clock, zap.NewNop().Sugar(), testEngineConfig())
}

func openOrder(clientID, exchangeID string) TrackedOrder {
	return TrackedOrder{
		ClientOrderID:   clientID,
		ExchangeOrderID: exchangeID,
		TradingPair:     "WETH-USDC",
		Side:            Buy,
		Type:            Limit,
		State:           Open,
	}
}

func lower(a common.Address) string { return strings.ToLower(a.Hex()) }
