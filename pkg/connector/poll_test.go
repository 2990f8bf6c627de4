package connector

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/tegro-connector/pkg/storage"
)

type pollFixture struct {
	engine  *Engine
	book    *fakeOrderBook
	tracker *fakeTracker
	fills   *storage.MemoryStore
	clock   *fakeClock
}

func newPollFixture(t *testing.T, orders ...TrackedOrder) *pollFixture {
	r := mux.NewRouter()
	f := &pollFixture{
		book:    newFakeOrderBook(t, r),
		tracker: newFakeTracker(orders...),
		fills:   storage.NewMemoryStore(),
		clock:   newFakeClock(1000),
	}
	f.engine = newTestEngine(newTestAPI(t, r), f.tracker, f.fills, f.clock)
	return f
}

func (f *pollFixture) poll(t *testing.T) bool {
	t.Helper()
	ran, err := f.engine.PollTick(context.Background())
	if err != nil {
		t.Fatalf("PollTick: %v", err)
	}
	return ran
}

func TestPollCadence(t *testing.T) {
	tests := []struct {
		name    string
		orders  []TrackedOrder
		advance []time.Duration
		want    []bool
	}{
		{
			name:    "idle polls on long boundaries only",
			advance: []time.Duration{0, 5 * time.Second, 11 * time.Second, 100 * time.Second},
			// t = 1000, 1005, 1016, 1116 against 120s ticks: 8, 8, 8, 9
			want: []bool{true, false, false, true},
		},
		{
			name:    "active orders poll on short boundaries",
			orders:  []TrackedOrder{openOrder("OID1", "100234")},
			advance: []time.Duration{0, 5 * time.Second, 5 * time.Second, 3 * time.Second},
			// t = 1000, 1005, 1010, 1013 against 10s ticks: 100, 100, 101, 101
			want: []bool{true, false, true, false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPollFixture(t, tt.orders...)
			for i, d := range tt.advance {
				f.clock.Advance(d)
				if got := f.poll(t); got != tt.want[i] {
					t.Errorf("poll %d ran = %v, want %v", i, got, tt.want[i])
				}
			}
			var runs int32
			for _, w := range tt.want {
				if w {
					runs++
				}
			}
			if got := atomic.LoadInt32(&f.book.listCalls); got != runs {
				t.Errorf("order list fetched %d times, want %d", got, runs)
			}
		})
	}
}

func TestPollReportsTrackedTradeOnce(t *testing.T) {
	f := newPollFixture(t, openOrder("OID1", "100234"))
	f.book.setOrders(trackedOrderRow)
	f.book.setTrades("100234", trackedTrades)

	f.poll(t)
	f.clock.Advance(10 * time.Second)
	f.poll(t)

	_, trades, _, filled := f.tracker.snapshot()
	if len(trades) != 1 {
		t.Fatalf("got %d trade updates, want 1", len(trades))
	}
	if trades[0].TradeID != "28457" || trades[0].ClientOrderID != "OID1" {
		t.Errorf("trade update = %+v", trades[0])
	}
	if len(filled) != 0 {
		t.Errorf("tracked trade was also backfilled")
	}
}

func TestPollBackfillsRecordedOrder(t *testing.T) {
	f := newPollFixture(t)
	if err := f.fills.RecordOrder("99999", "OID99"); err != nil {
		t.Fatal(err)
	}
	f.book.setOrders(`{"order_id":99999}`, `{"order_id":"12345"}`)
	f.book.setTrades("99999", `[{"id":30000,"order_id":99999,"symbol":"WETH_USDC","price":"4.00000100",`+
		`"amount":"12.00000000","timestamp":1000000,"taker_type":"buy"}]`)
	// not recorded, not tracked: never reported
	f.book.setTrades("12345", `[{"id":30001,"order_id":"12345","symbol":"WETH_USDC","price":"1","amount":"1","timestamp":1000000}]`)

	f.poll(t)
	f.clock.Advance(120 * time.Second)
	f.poll(t)

	_, trades, _, filled := f.tracker.snapshot()
	if len(trades) != 0 {
		t.Errorf("untracked trades produced %d trade updates", len(trades))
	}
	if len(filled) != 1 {
		t.Fatalf("got %d fill events, want 1", len(filled))
	}
	ev := filled[0]
	if ev.OrderID != "OID99" || ev.TradingPair != "WETH-USDC" || ev.TradeType != Buy || ev.OrderType != Limit ||
		ev.ExchangeTradeID != "30000" || ev.Timestamp != 1000 {
		t.Errorf("fill event = %+v", ev)
	}
	if !ev.Price.Equal(decimal.RequireFromString("4.000001")) || !ev.Amount.Equal(decimal.NewFromInt(12)) {
		t.Errorf("fill price/amount = %s/%s", ev.Price, ev.Amount)
	}
	if ev.Fee.PercentToken != "WETH" {
		t.Errorf("fee = %+v", ev.Fee)
	}
}

func TestPollSkipsTradesBeforeLookback(t *testing.T) {
	f := newPollFixture(t, openOrder("OID1", "100234"))
	f.book.setOrders(trackedOrderRow)
	f.poll(t) // t = 1000

	// 1000 - 120 = 880 is the cutoff for the next poll
	f.book.setTrades("100234", `[`+
		`{"id":1,"order_id":"100234","symbol":"WETH_USDC","price":"1","amount":"1","timestamp":879000},`+
		`{"id":2,"order_id":"100234","symbol":"WETH_USDC","price":"1","amount":"1","timestamp":881000}]`)
	f.clock.Advance(10 * time.Second)
	f.poll(t)

	_, trades, _, _ := f.tracker.snapshot()
	if len(trades) != 1 || trades[0].TradeID != "2" {
		t.Fatalf("trades = %+v, want only trade 2", trades)
	}
	if isNew, _ := f.fills.MarkTrade("1", "100234", 879); !isNew {
		t.Errorf("trade before the cutoff should not have been marked")
	}
}

func TestUserTradesSkipsFailedOrders(t *testing.T) {
	f := newPollFixture(t)
	f.book.setOrders(`{"order_id":"1"}`, `{"order_id":"2"}`, `{"order_id":"3"}`)
	f.book.setTrades("1", `[{"id":10,"symbol":"WETH_USDC","price":"1","amount":"1"}]`)
	f.book.setTrades("2", `{"message":"boom"}`)
	f.book.tradeCode["2"] = http.StatusInternalServerError
	f.book.setTrades("3", `[{"id":30,"order_id":"3","symbol":"WETH_USDC","price":"1","amount":"1"},{"id":31,"order_id":"3","symbol":"WETH_USDC","price":"1","amount":"2"}]`)

	trades, err := f.engine.UserTrades(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, tr := range trades {
		got = append(got, tr.ID.String()+"@"+tr.OrderID.String())
	}
	want := []string{"10@1", "30@3", "31@3"}
	if len(got) != len(want) {
		t.Fatalf("trades = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("trade %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	unknown := openOrder("OID4", UnknownExchangeOrderID)
	unknown.Price = decimal.RequireFromString("10.005")
	unknown.Amount = decimal.RequireFromString("2")
	unknown.CreationTimestamp = 1000

	f := newPollFixture(t,
		openOrder("OID1", "100234"),
		openOrder("OID2", "555"),
		openOrder("OID3", "666"),
		unknown,
	)
	f.fills.RecordOrder("100234", "OID1")
	f.book.setLookup("100234", http.StatusOK, `[{"order_id":"100234","status":"Matched","timestamp":1001000}]`)
	f.book.setLookup("666", http.StatusNotFound, `{"message":"Order not found"}`)
	f.book.setOrders(
		`{"order_id":"100234","side":"buy","price":"10","quantity":"2","status":"Active"}`,
		`{"order_id":"776","side":"sell","price":"10","quantity":"2","status":"Active","timestamp":1000500}`,
		`{"order_id":"777","side":"buy","price":"10","quantity":"2","status":"Active","timestamp":1000500}`,
	)

	f.engine.UpdateOrderStatus(context.Background())

	updates, _, notFound, _ := f.tracker.snapshot()
	byClient := make(map[string]OrderUpdate)
	for _, u := range updates {
		byClient[u.ClientOrderID] = u
	}
	if u := byClient["OID1"]; u.NewState != Filled || u.Timestamp != 1001 {
		t.Errorf("OID1 update = %+v", u)
	}
	if u := byClient["OID4"]; u.ExchangeOrderID != "777" || u.NewState != Open {
		t.Errorf("OID4 update = %+v", u)
	}
	if id, ok, _ := f.fills.ClientOrderID("777"); !ok || id != "OID4" {
		t.Errorf("discovered order not recorded")
	}
	if len(notFound) != 2 {
		t.Fatalf("not found = %v, want OID2 and OID3", notFound)
	}
	seen := map[string]bool{}
	for _, id := range notFound {
		seen[id] = true
	}
	if !seen["OID2"] || !seen["OID3"] {
		t.Errorf("not found = %v", notFound)
	}
}

func TestRequestOrderStatusNotFound(t *testing.T) {
	f := newPollFixture(t)
	_, err := f.engine.RequestOrderStatus(context.Background(), openOrder("OID2", "555"))
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestAllTradeUpdatesForOrder(t *testing.T) {
	f := newPollFixture(t)
	f.book.setTrades("100234", trackedTrades)

	updates, err := f.engine.AllTradeUpdatesForOrder(context.Background(), openOrder("OID1", "100234"))
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 1 || updates[0].TradeID != "28457" || updates[0].ClientOrderID != "OID1" {
		t.Fatalf("updates = %+v", updates)
	}

	none, err := f.engine.AllTradeUpdatesForOrder(context.Background(), openOrder("OID2", UnknownExchangeOrderID))
	if err != nil || len(none) != 0 {
		t.Fatalf("placeholder order = %+v, %v", none, err)
	}
}

func TestGatherKeepsIndexAndLimit(t *testing.T) {
	var inFlight, peak int32
	results := gather(context.Background(), 10, 3, func(ctx context.Context, i int) (int, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		if i == 4 {
			return 0, errors.New("branch failed")
		}
		return i * i, nil
	})
	if peak > 3 {
		t.Errorf("peak concurrency %d exceeds limit", peak)
	}
	for i, r := range results {
		if i == 4 {
			if r.err == nil {
				t.Errorf("branch 4 should fail")
			}
			continue
		}
		if r.err != nil || r.value != i*i {
			t.Errorf("result %d = %+v", i, r)
		}
	}
}

func TestPollWindowHoldsAcrossFailedPolls(t *testing.T) {
	f := newPollFixture(t)
	if err := f.fills.RecordOrder("99999", "OID99"); err != nil {
		t.Fatal(err)
	}
	f.poll(t) // t = 1000, nothing traded yet

	f.book.setOrders(`{"order_id":99999}`)
	f.book.setTrades("99999", `[{"id":30000,"order_id":99999,"symbol":"WETH_USDC","price":"1","amount":"1",`+
		`"timestamp":1250000,"taker_type":"sell"}]`)
	f.book.failList(http.StatusInternalServerError)
	for _, at := range []time.Duration{320 * time.Second, 120 * time.Second} { // t = 1320, 1440
		f.clock.Advance(at)
		ran, err := f.engine.PollTick(context.Background())
		if !ran || err == nil {
			t.Fatalf("failing poll ran = %v, err = %v", ran, err)
		}
	}

	f.book.failList(0)
	f.clock.Advance(120 * time.Second) // t = 1560
	if !f.poll(t) {
		t.Fatal("poll did not run")
	}
	f.clock.Advance(120 * time.Second)
	f.poll(t)

	_, _, _, filled := f.tracker.snapshot()
	if len(filled) != 1 || filled[0].ExchangeTradeID != "30000" || filled[0].Timestamp != 1250 {
		t.Fatalf("fills = %+v, want trade 30000 once", filled)
	}
}

func TestPollSkipsTradesOlderThanFillRetention(t *testing.T) {
	r := mux.NewRouter()
	book := newFakeOrderBook(t, r)
	api := newTestAPI(t, r)
	fills := storage.NewMemoryStore()
	if err := fills.RecordOrder("99999", "OID99"); err != nil {
		t.Fatal(err)
	}
	book.setOrders(`{"order_id":99999}`)
	book.setTrades("99999", `[{"id":30000,"order_id":99999,"symbol":"WETH_USDC","price":"1","amount":"1",`+
		`"timestamp":1000000,"taker_type":"buy"}]`)

	cfg := testEngineConfig()
	cfg.FillRetention = 300 * time.Second

	first := newFakeTracker()
	e := NewEngine(api, first, first, fills, DefaultClassifier(), newFakeClock(1100), zap.NewNop().Sugar(), cfg)
	if _, err := e.PollTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, _, _, filled := first.snapshot(); len(filled) != 1 {
		t.Fatalf("first run reported %d fills, want 1", len(filled))
	}

	// restart at t = 1400 after pruning records older than the retention
	if _, err := fills.PruneFills(1400 - cfg.FillRetention.Seconds()); err != nil {
		t.Fatal(err)
	}
	restarted := newFakeTracker()
	e = NewEngine(api, restarted, restarted, fills, DefaultClassifier(), newFakeClock(1400), zap.NewNop().Sugar(), cfg)
	if _, err := e.PollTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, _, _, filled := restarted.snapshot(); len(filled) != 0 {
		t.Errorf("pruned trade reported again after restart: %+v", filled)
	}
}

func TestTradeCutoff(t *testing.T) {
	cfg := EngineConfig{TradeLookback: 120 * time.Second, FillRetention: 600 * time.Second}
	tests := []struct {
		name       string
		since, now float64
		retention  time.Duration
		want       float64
	}{
		{"first poll without retention", 0, 5000, 0, 0},
		{"first poll with retention", 0, 5000, cfg.FillRetention, 4400},
		{"lookback wins", 4900, 5000, cfg.FillRetention, 4780},
		{"retention wins after a long outage", 1000, 5000, cfg.FillRetention, 4400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			c.FillRetention = tt.retention
			if got := tradeCutoff(tt.since, tt.now, c); got != tt.want {
				t.Errorf("tradeCutoff(%v, %v) = %v, want %v", tt.since, tt.now, got, tt.want)
			}
		})
	}
}
