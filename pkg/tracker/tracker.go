package tracker

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/tegro-connector/pkg/connector"
)

// DefaultLostOrderLimit is how many consecutive not-found answers turn an
// order FAILED.
const DefaultLostOrderLimit = 3

type EventKind string

const (
	EventOrderCreated   EventKind = "order_created"
	EventOrderUpdated   EventKind = "order_updated"
	EventOrderFilled    EventKind = "order_filled"
	EventOrderCompleted EventKind = "order_completed"
	EventOrderCanceled  EventKind = "order_canceled"
	EventOrderFailed    EventKind = "order_failed"
	// EventUntrackedFill reports a fill of an order no longer in the ledger.
	EventUntrackedFill EventKind = "untracked_fill"
)

type Event struct {
	Kind  EventKind
	Order connector.TrackedOrder
	Trade *connector.TradeUpdate
	Fill  *connector.OrderFilledEvent
}

type Listener func(Event)

type entry struct {
	order    connector.TrackedOrder
	trades   map[string]bool
	notFound int
}

// Tracker is an in-memory order ledger. It implements connector.Ledger and
// connector.EventBus.
type Tracker struct {
	mu         sync.RWMutex
	orders     map[string]*entry // client order id -> entry
	byExchange map[string]string // exchange order id -> client order id
	listeners  []Listener
	lostLimit  int
	logger     *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger) *Tracker {
	return &Tracker{
		orders:     make(map[string]*entry),
		byExchange: make(map[string]string),
		lostLimit:  DefaultLostOrderLimit,
		logger:     logger,
	}
}

// AddListener registers fn for every ledger event. Listeners run on the
// caller's goroutine, after the ledger lock is released.
func (t *Tracker) AddListener(fn Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

func (t *Tracker) StartTracking(order connector.TrackedOrder) {
	t.mu.Lock()
	if _, exists := t.orders[order.ClientOrderID]; exists {
		t.mu.Unlock()
		t.logger.Warnw("order_already_tracked", "client_order_id", order.ClientOrderID)
		return
	}
	if order.State == 0 {
		order.State = connector.PendingCreate
	}
	t.orders[order.ClientOrderID] = &entry{order: order, trades: make(map[string]bool)}
	t.indexLocked(order)
	t.mu.Unlock()

	t.emit(Event{Kind: EventOrderCreated, Order: order})
}

func (t *Tracker) indexLocked(order connector.TrackedOrder) {
	if order.ExchangeOrderID != "" && order.ExchangeOrderID != connector.UnknownExchangeOrderID {
		t.byExchange[order.ExchangeOrderID] = order.ClientOrderID
	}
}

func (t *Tracker) Order(clientOrderID string) (connector.TrackedOrder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.orders[clientOrderID]
	if !ok {
		return connector.TrackedOrder{}, false
	}
	return e.order, true
}

// Orders returns every order ever tracked, oldest first.
func (t *Tracker) Orders() []connector.TrackedOrder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.collectLocked(func(connector.TrackedOrder) bool { return true })
}

// FillableOrders returns the orders that can still receive fills.
func (t *Tracker) FillableOrders() []connector.TrackedOrder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.collectLocked(func(o connector.TrackedOrder) bool { return !o.State.IsDone() })
}

func (t *Tracker) collectLocked(keep func(connector.TrackedOrder) bool) []connector.TrackedOrder {
	out := make([]connector.TrackedOrder, 0, len(t.orders))
	for _, e := range t.orders {
		if keep(e.order) {
			out = append(out, e.order)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreationTimestamp != out[j].CreationTimestamp {
			return out[i].CreationTimestamp < out[j].CreationTimestamp
		}
		return out[i].ClientOrderID < out[j].ClientOrderID
	})
	return out
}

func (t *Tracker) FillableOrderByExchangeID(exchangeOrderID string) (connector.TrackedOrder, bool) {
	if exchangeOrderID == "" {
		return connector.TrackedOrder{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	clientID, ok := t.byExchange[exchangeOrderID]
	if !ok {
		return connector.TrackedOrder{}, false
	}
	e := t.orders[clientID]
	if e.order.State.IsDone() {
		return connector.TrackedOrder{}, false
	}
	return e.order, true
}

// lookupLocked finds the entry an update refers to, by client id first.
func (t *Tracker) lookupLocked(clientOrderID, exchangeOrderID string) *entry {
	if e, ok := t.orders[clientOrderID]; ok {
		return e
	}
	if clientID, ok := t.byExchange[exchangeOrderID]; ok {
		return t.orders[clientID]
	}
	return nil
}

// validTransition reports whether an order may move from one state to another.
// Terminal states are final and no order goes back to PENDING_CREATE or OPEN.
func validTransition(from, to connector.OrderState) bool {
	switch {
	case from.IsDone():
		return false
	case to == connector.PendingCreate:
		return from == connector.PendingCreate
	case to == connector.Open:
		return from == connector.PendingCreate || from == connector.Open
	}
	return true
}

func (t *Tracker) ProcessOrderUpdate(update connector.OrderUpdate) {
	t.mu.Lock()
	e := t.lookupLocked(update.ClientOrderID, update.ExchangeOrderID)
	if e == nil {
		t.mu.Unlock()
		t.logger.Debugw("ignoring_update_for_untracked_order", "client_order_id", update.ClientOrderID,
			"exchange_order_id", update.ExchangeOrderID)
		return
	}
	e.notFound = 0

	idChanged := false
	if update.ExchangeOrderID != "" && update.ExchangeOrderID != e.order.ExchangeOrderID &&
		(e.order.ExchangeOrderID == "" || e.order.ExchangeOrderID == connector.UnknownExchangeOrderID) {
		e.order.ExchangeOrderID = update.ExchangeOrderID
		t.indexLocked(e.order)
		idChanged = true
	}

	from := e.order.State
	if from == update.NewState || !validTransition(from, update.NewState) {
		order := e.order
		t.mu.Unlock()
		if from != update.NewState {
			t.logger.Debugw("rejected_order_transition", "client_order_id", order.ClientOrderID,
				"from", from, "to", update.NewState)
		}
		if idChanged {
			t.emit(Event{Kind: EventOrderUpdated, Order: order})
		}
		return
	}
	e.order.State = update.NewState
	order := e.order
	t.mu.Unlock()

	t.logger.Infow("order_state_changed", "client_order_id", order.ClientOrderID,
		"exchange_order_id", order.ExchangeOrderID, "from", from, "to", order.State)
	t.emit(Event{Kind: stateEvent(order.State), Order: order})
}

func stateEvent(s connector.OrderState) EventKind {
	switch s {
	case connector.Filled:
		return EventOrderCompleted
	case connector.Canceled:
		return EventOrderCanceled
	case connector.Failed:
		return EventOrderFailed
	}
	return EventOrderUpdated
}

// ProcessTradeUpdate applies a fill once per trade id. The order completes
// when its executed amount reaches the ordered amount.
func (t *Tracker) ProcessTradeUpdate(trade connector.TradeUpdate) {
	t.mu.Lock()
	e := t.lookupLocked(trade.ClientOrderID, trade.ExchangeOrderID)
	if e == nil || e.trades[trade.TradeID] {
		t.mu.Unlock()
		return
	}
	e.trades[trade.TradeID] = true
	e.order.ExecutedAmount = e.order.ExecutedAmount.Add(trade.FillBaseAmount)

	changed := false
	if !e.order.State.IsDone() {
		next := connector.PartiallyFilled
		if e.order.Amount.IsPositive() && e.order.ExecutedAmount.GreaterThanOrEqual(e.order.Amount) {
			next = connector.Filled
		}
		changed = e.order.State != next
		e.order.State = next
	}
	order := e.order
	t.mu.Unlock()

	t.logger.Infow("order_fill", "client_order_id", order.ClientOrderID, "trade_id", trade.TradeID,
		"amount", trade.FillBaseAmount, "price", trade.FillPrice)
	t.emit(Event{Kind: EventOrderFilled, Order: order, Trade: &trade})
	if changed {
		t.emit(Event{Kind: stateEvent(order.State), Order: order})
	}
}

// ProcessOrderNotFound counts a not-found answer and fails the order once
// the lost order limit is reached.
func (t *Tracker) ProcessOrderNotFound(clientOrderID string) {
	t.mu.Lock()
	e, ok := t.orders[clientOrderID]
	if !ok || e.order.State.IsDone() {
		t.mu.Unlock()
		return
	}
	e.notFound++
	if e.notFound < t.lostLimit {
		n := e.notFound
		t.mu.Unlock()
		t.logger.Warnw("order_not_found", "client_order_id", clientOrderID, "count", n)
		return
	}
	e.order.State = connector.Failed
	order := e.order
	t.mu.Unlock()

	t.logger.Warnw("order_lost", "client_order_id", clientOrderID, "exchange_order_id", order.ExchangeOrderID)
	t.emit(Event{Kind: EventOrderFailed, Order: order})
}

// TriggerOrderFilled publishes a fill of an order the ledger no longer holds.
func (t *Tracker) TriggerOrderFilled(event connector.OrderFilledEvent) {
	t.logger.Infow("untracked_order_fill", "client_order_id", event.OrderID, "trade_id", event.ExchangeTradeID)
	t.emit(Event{Kind: EventUntrackedFill, Fill: &event})
}

func (t *Tracker) emit(ev Event) {
	t.mu.RLock()
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

var (
	_ connector.Ledger   = (*Tracker)(nil)
	_ connector.EventBus = (*Tracker)(nil)
)
