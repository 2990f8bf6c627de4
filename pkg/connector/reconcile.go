package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tegro-connector/pkg/exchange"
	"github.com/uhyunpark/tegro-connector/pkg/util"
)

type EngineConfig struct {
	ChainID int64
	Wallet  common.Address
	// ShortPollInterval applies while the tracker has fillable orders.
	ShortPollInterval time.Duration
	LongPollInterval  time.Duration
	ErrorBackoff      time.Duration
	// TradeLookback widens the trade timestamp filter to absorb late
	// settlement of trades executed just before the previous poll.
	TradeLookback time.Duration
	// FillRetention matches how long the FillRecorder keeps trade ids.
	// Zero disables the retention floor.
	FillRetention        time.Duration
	MaxConcurrentFetches int
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ShortPollInterval:    10 * time.Second,
		LongPollInterval:     120 * time.Second,
		ErrorBackoff:         5 * time.Second,
		TradeLookback:        120 * time.Second,
		FillRetention:        7 * 24 * time.Hour,
		MaxConcurrentFetches: 8,
	}
}

// Engine merges user stream pushes and periodic trade polls into order and
// trade updates for the tracker. It holds no order state of its own.
type Engine struct {
	api        APIRequester
	tracker    OrderTracker
	events     EventBus
	fills      FillRecorder
	classifier ErrorClassifier
	clock      util.Clock
	logger     *zap.SugaredLogger
	cfg        EngineConfig

	mu             sync.Mutex
	lastPoll       float64
	lastTradesPoll float64
}

func NewEngine(api APIRequester, tracker OrderTracker, events EventBus, fills FillRecorder, classifier ErrorClassifier,
	clock util.Clock, logger *zap.SugaredLogger, cfg EngineConfig) *Engine {
	return &Engine{
		api:        api,
		tracker:    tracker,
		events:     events,
		fills:      fills,
		classifier: classifier,
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
	}
}

// ListenUserStream drains queue until ctx is cancelled. Errors never end the
// loop; each one is logged and followed by ErrorBackoff.
func (e *Engine) ListenUserStream(ctx context.Context, queue EventQueue) error {
	for {
		raw, err := queue.Next(ctx)
		if err == nil {
			err = e.handleStreamMessage(ctx, raw)
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Errorw("user_stream_listener_error", "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(e.cfg.ErrorBackoff):
		}
	}
}

func (e *Engine) handleStreamMessage(ctx context.Context, raw []byte) error {
	var msg exchange.StreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("malformed user stream message: %w", err)
	}

	switch msg.Action {
	case exchange.ActionTradeCreated, exchange.ActionTradeUpdated:
		return e.processTradeMessage(ctx, msg.Data)
	case exchange.ActionOrderSubmitted, exchange.ActionOrderTradeProcessed:
		return e.processOrderMessage(msg.Data)
	}
	if !msg.HasCode() {
		e.logger.Errorw("unexpected_user_stream_message", "message", string(raw))
	}
	return nil
}

func (e *Engine) processTradeMessage(ctx context.Context, data json.RawMessage) error {
	var trade exchange.TradeFill
	if err := json.Unmarshal(data, &trade); err != nil {
		return fmt.Errorf("malformed trade message: %w", err)
	}
	if trade.ID == "" {
		return fmt.Errorf("trade message has no id")
	}

	exchangeOrderID, err := e.orderIDForTrade(ctx, trade.ID.String())
	if err != nil {
		return err
	}
	if exchangeOrderID == "" {
		exchangeOrderID = trade.OrderID.String()
	}
	order, ok := e.tracker.FillableOrderByExchangeID(exchangeOrderID)
	if exchangeOrderID == "" || !ok {
		e.logger.Debugw("ignoring_trade_message", "trade_id", trade.ID, "exchange_order_id", exchangeOrderID)
		return nil
	}
	trade.OrderID = exchange.FlexID(exchangeOrderID)
	e.emitTradeUpdate(trade, order)
	return nil
}

// orderIDForTrade finds the exchange order id of tradeID in the user's trade
// history. Trade pushes do not reliably carry it.
func (e *Engine) orderIDForTrade(ctx context.Context, tradeID string) (string, error) {
	trades, err := e.UserTrades(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve trade %s: %w", tradeID, err)
	}
	for _, t := range trades {
		if t.ID.String() == tradeID {
			return t.OrderID.String(), nil
		}
	}
	return "", nil
}

func (e *Engine) processOrderMessage(data json.RawMessage) error {
	var ev exchange.OrderEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("malformed order message: %w", err)
	}
	order, ok := e.tracker.FillableOrderByExchangeID(ev.OrderID.String())
	if !ok {
		e.logger.Debugw("ignoring_order_message", "exchange_order_id", ev.OrderID)
		return nil
	}
	state, err := ParseOrderState(ev.Status)
	if err != nil {
		return err
	}
	e.tracker.ProcessOrderUpdate(OrderUpdate{
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: ev.OrderID.String(),
		TradingPair:     order.TradingPair,
		NewState:        state,
		Timestamp:       e.eventTime(ev.Timestamp, ev.Time),
	})
	return nil
}

// emitTradeUpdate reports trade against order once per trade id.
func (e *Engine) emitTradeUpdate(trade exchange.TradeFill, order TrackedOrder) {
	isNew, err := e.fills.MarkTrade(trade.ID.String(), trade.OrderID.String(), util.FromMillis(trade.Timestamp))
	if err != nil {
		e.logger.Errorw("mark_trade_failed", "trade_id", trade.ID, "err", err)
		return
	}
	if !isNew {
		return
	}
	symbol := trade.Symbol
	if symbol == "" {
		symbol = SymbolFromTradingPair(order.TradingPair)
	}
	e.tracker.ProcessTradeUpdate(newTradeUpdate(trade, order, symbol, e.eventTime(trade.Timestamp, trade.Time)))
}

func newTradeUpdate(trade exchange.TradeFill, order TrackedOrder, symbol string, ts float64) TradeUpdate {
	exchangeOrderID := trade.OrderID.String()
	if exchangeOrderID == "" {
		exchangeOrderID = order.ExchangeOrderID
	}
	return TradeUpdate{
		TradeID:         trade.ID.String(),
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: exchangeOrderID,
		TradingPair:     order.TradingPair,
		Fee:             zeroBaseFee(symbol),
		FillBaseAmount:  trade.Amount,
		FillQuoteAmount: trade.Amount.Mul(trade.Price),
		FillPrice:       trade.Price,
		FillTimestamp:   ts,
	}
}

// eventTime prefers an exchange millisecond timestamp, then an RFC 3339
// time string, then the local clock.
func (e *Engine) eventTime(ms int64, text string) float64 {
	if ms > 0 {
		return util.FromMillis(ms)
	}
	if text != "" {
		if t, err := time.Parse(time.RFC3339Nano, text); err == nil {
			return util.Seconds(t)
		}
	}
	return util.Seconds(e.clock.Now())
}
