package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tegro-connector/pkg/exchange"
	"github.com/uhyunpark/tegro-connector/pkg/util"
)

// PollTick runs the trade poll when it is due and reports whether it ran.
// Due means a long-interval boundary was crossed since the last poll, or a
// short-interval boundary was crossed while orders are being tracked.
// The trade window only advances past a poll that succeeded.
func (e *Engine) PollTick(ctx context.Context) (bool, error) {
	now := util.Seconds(e.clock.Now())

	e.mu.Lock()
	if !e.pollDueLocked(now) {
		e.mu.Unlock()
		return false, nil
	}
	since := e.lastTradesPoll
	e.lastPoll = now
	e.mu.Unlock()

	if err := e.updateOrderFills(ctx, since, now); err != nil {
		return true, err
	}
	e.mu.Lock()
	if now > e.lastTradesPoll {
		e.lastTradesPoll = now
	}
	e.mu.Unlock()
	return true, nil
}

func (e *Engine) pollDueLocked(now float64) bool {
	long := e.cfg.LongPollInterval.Seconds()
	short := e.cfg.ShortPollInterval.Seconds()
	if tick(now, long) > tick(e.lastPoll, long) {
		return true
	}
	return tick(now, short) > tick(e.lastPoll, short) && len(e.tracker.FillableOrders()) > 0
}

func tick(ts, period float64) int64 {
	if period <= 0 {
		return 0
	}
	return int64(ts / period)
}

func (e *Engine) updateOrderFills(ctx context.Context, since, now float64) error {
	tracked := make(map[string]TrackedOrder)
	for _, o := range e.tracker.FillableOrders() {
		if o.ExchangeOrderID != "" {
			tracked[o.ExchangeOrderID] = o
		}
	}

	trades, err := e.UserTrades(ctx)
	if err != nil {
		return err
	}

	cutoff := tradeCutoff(since, now, e.cfg)
	e.logger.Debugw("polling_order_fills", "trades", len(trades), "tracked", len(tracked), "cutoff", cutoff)

	for _, t := range trades {
		if cutoff > 0 && util.FromMillis(t.Timestamp) <= cutoff {
			continue
		}
		if order, ok := tracked[t.OrderID.String()]; ok {
			e.emitTradeUpdate(t, order)
			continue
		}
		e.backfill(t)
	}
	return nil
}

// tradeCutoff is the newest trade time a poll ignores. Trades older than
// FillRetention are ignored even on the first poll, since their dedup
// records may already be pruned.
func tradeCutoff(since, now float64, cfg EngineConfig) float64 {
	var cutoff float64
	if since > 0 {
		cutoff = since - cfg.TradeLookback.Seconds()
	}
	if cfg.FillRetention > 0 {
		if floor := now - cfg.FillRetention.Seconds(); floor > cutoff {
			cutoff = floor
		}
	}
	return cutoff
}

// backfill reports a fill of an order recorded earlier but no longer tracked,
// for example after a restart.
func (e *Engine) backfill(t exchange.TradeFill) {
	exchangeOrderID := t.OrderID.String()
	clientOrderID, ok, err := e.fills.ClientOrderID(exchangeOrderID)
	if err != nil {
		e.logger.Errorw("lookup_recorded_order_failed", "exchange_order_id", exchangeOrderID, "err", err)
		return
	}
	if !ok {
		return
	}
	ts := e.eventTime(t.Timestamp, t.Time)
	isNew, err := e.fills.MarkTrade(t.ID.String(), exchangeOrderID, ts)
	if err != nil {
		e.logger.Errorw("mark_trade_failed", "trade_id", t.ID, "err", err)
		return
	}
	if !isNew {
		return
	}

	tradeType := Sell
	if t.TakerIsBuyer() {
		tradeType = Buy
	}
	e.events.TriggerOrderFilled(OrderFilledEvent{
		Timestamp:       ts,
		OrderID:         clientOrderID,
		TradingPair:     TradingPairFromSymbol(t.Symbol),
		TradeType:       tradeType,
		OrderType:       Limit,
		Price:           t.Price,
		Amount:          t.Amount,
		Fee:             zeroBaseFee(t.Symbol),
		ExchangeTradeID: t.ID.String(),
	})
	e.logger.Infow("recreating_missing_trade_fill", "trade_id", t.ID, "client_order_id", clientOrderID,
		"exchange_order_id", exchangeOrderID, "symbol", t.Symbol, "price", t.Price, "amount", t.Amount)
}

// UserOrders lists the wallet's most recent orders on this chain.
func (e *Engine) UserOrders(ctx context.Context) ([]exchange.UserOrder, error) {
	params := url.Values{
		"chain_id":  {strconv.FormatInt(e.cfg.ChainID, 10)},
		"page_size": {"100"},
	}
	var orders []exchange.UserOrder
	if err := e.api.Do(ctx, http.MethodGet, exchange.UserOrdersPath(e.cfg.Wallet.Hex()), params, nil, &orders); err != nil {
		return nil, fmt.Errorf("failed to fetch user orders: %w", err)
	}
	return orders, nil
}

// UserTrades fetches the trades of every user order concurrently. A failed
// per-order fetch is logged and skipped. Results keep order-list order.
func (e *Engine) UserTrades(ctx context.Context) ([]exchange.TradeFill, error) {
	orders, err := e.UserOrders(ctx)
	if err != nil {
		return nil, err
	}

	results := gather(ctx, len(orders), e.cfg.MaxConcurrentFetches, func(ctx context.Context, i int) ([]exchange.TradeFill, error) {
		var trades []exchange.TradeFill
		err := e.api.Do(ctx, http.MethodGet, exchange.TradesForOrderPath(orders[i].OrderID.String()), nil, nil, &trades)
		return trades, err
	})

	var out []exchange.TradeFill
	for i, r := range results {
		orderID := orders[i].OrderID.String()
		if r.err != nil {
			e.logger.Warnw("fetch_order_trades_failed", "exchange_order_id", orderID, "err", r.err)
			continue
		}
		for _, t := range r.value {
			if t.OrderID == "" {
				t.OrderID = exchange.FlexID(orderID)
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// AllTradeUpdatesForOrder returns every fill the exchange reports for order.
func (e *Engine) AllTradeUpdatesForOrder(ctx context.Context, order TrackedOrder) ([]TradeUpdate, error) {
	if order.ExchangeOrderID == "" || order.ExchangeOrderID == UnknownExchangeOrderID {
		return nil, nil
	}
	var trades []exchange.TradeFill
	if err := e.api.Do(ctx, http.MethodGet, exchange.TradesForOrderPath(order.ExchangeOrderID), nil, nil, &trades); err != nil {
		return nil, fmt.Errorf("failed to fetch trades for %s: %w", order.ExchangeOrderID, err)
	}
	updates := make([]TradeUpdate, 0, len(trades))
	for _, t := range trades {
		symbol := t.Symbol
		if symbol == "" {
			symbol = SymbolFromTradingPair(order.TradingPair)
		}
		updates = append(updates, newTradeUpdate(t, order, symbol, e.eventTime(t.Timestamp, t.Time)))
	}
	return updates, nil
}

// RequestOrderStatus looks up one order on the exchange.
func (e *Engine) RequestOrderStatus(ctx context.Context, order TrackedOrder) (OrderUpdate, error) {
	params := url.Values{
		"chain_id": {strconv.FormatInt(e.cfg.ChainID, 10)},
		"order_id": {order.ExchangeOrderID},
	}
	var found []exchange.UserOrder
	if err := e.api.Do(ctx, http.MethodGet, exchange.UserOrdersPath(e.cfg.Wallet.Hex()), params, nil, &found); err != nil {
		return OrderUpdate{}, fmt.Errorf("failed to fetch order %s: %w", order.ExchangeOrderID, err)
	}
	if len(found) == 0 {
		return OrderUpdate{}, fmt.Errorf("%w: %s", ErrOrderNotFound, order.ExchangeOrderID)
	}
	state, err := ParseOrderState(found[0].Status)
	if err != nil {
		return OrderUpdate{}, err
	}
	return OrderUpdate{
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: found[0].OrderID.String(),
		TradingPair:     order.TradingPair,
		NewState:        state,
		Timestamp:       e.eventTime(found[0].Timestamp, found[0].Time),
	}, nil
}

// UpdateOrderStatus refreshes the state of every fillable order. Orders
// placed during an overload are matched against the open order list to learn
// their exchange id.
func (e *Engine) UpdateOrderStatus(ctx context.Context) {
	var known, unknown []TrackedOrder
	for _, o := range e.tracker.FillableOrders() {
		switch o.ExchangeOrderID {
		case "":
		case UnknownExchangeOrderID:
			unknown = append(unknown, o)
		default:
			known = append(known, o)
		}
	}

	results := gather(ctx, len(known), e.cfg.MaxConcurrentFetches, func(ctx context.Context, i int) (OrderUpdate, error) {
		return e.RequestOrderStatus(ctx, known[i])
	})
	for i, r := range results {
		if r.err == nil {
			e.tracker.ProcessOrderUpdate(r.value)
			continue
		}
		if errors.Is(r.err, ErrOrderNotFound) || e.classifier.Classify(OpStatus, r.err) == KindOrderNotFound {
			e.tracker.ProcessOrderNotFound(known[i].ClientOrderID)
			continue
		}
		e.logger.Warnw("order_status_update_failed", "client_order_id", known[i].ClientOrderID, "err", r.err)
	}

	if len(unknown) > 0 {
		e.discoverExchangeIDs(ctx, unknown)
	}
}

// orderMatchSlack is how far before local creation an exchange timestamp may be.
const orderMatchSlack = 60.0

func (e *Engine) discoverExchangeIDs(ctx context.Context, pending []TrackedOrder) {
	orders, err := e.UserOrders(ctx)
	if err != nil {
		e.logger.Warnw("discover_exchange_ids_failed", "err", err)
		return
	}
	claimed := make(map[string]bool)
	for _, o := range pending {
		for _, candidate := range orders {
			id := candidate.OrderID.String()
			if claimed[id] || !matchesOrder(o, candidate) {
				continue
			}
			if e.knownExchangeID(id) {
				continue
			}
			if candidate.Timestamp > 0 && util.FromMillis(candidate.Timestamp) < o.CreationTimestamp-orderMatchSlack {
				continue
			}
			state, err := ParseOrderState(candidate.Status)
			if err != nil {
				continue
			}
			claimed[id] = true
			e.logger.Infow("exchange_order_id_discovered", "client_order_id", o.ClientOrderID, "exchange_order_id", id)
			e.tracker.ProcessOrderUpdate(OrderUpdate{
				ClientOrderID:   o.ClientOrderID,
				ExchangeOrderID: id,
				TradingPair:     o.TradingPair,
				NewState:        state,
				Timestamp:       e.eventTime(candidate.Timestamp, candidate.Time),
			})
			if err := e.fills.RecordOrder(id, o.ClientOrderID); err != nil {
				e.logger.Warnw("record_order_failed", "client_order_id", o.ClientOrderID, "err", err)
			}
			break
		}
	}
}

// knownExchangeID reports whether id already belongs to some client order.
func (e *Engine) knownExchangeID(id string) bool {
	if _, tracked := e.tracker.FillableOrderByExchangeID(id); tracked {
		return true
	}
	_, recorded, err := e.fills.ClientOrderID(id)
	return err != nil || recorded
}

func matchesOrder(o TrackedOrder, candidate exchange.UserOrder) bool {
	return strings.EqualFold(candidate.Side, o.Side.String()) &&
		sameQuantity(o.Price, candidate.Price) &&
		sameQuantity(o.Amount, candidate.Quantity)
}

// sameQuantity compares a local value with the exchange's truncated echo of it.
func sameQuantity(local, reported decimal.Decimal) bool {
	places := -reported.Exponent()
	if places < 0 {
		places = 0
	}
	return local.Truncate(places).Equal(reported)
}
