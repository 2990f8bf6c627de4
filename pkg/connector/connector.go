package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/tegro-connector/pkg/exchange"
	"github.com/uhyunpark/tegro-connector/pkg/util"
)

// ClientOrderIDPrefix starts every client order id this connector creates.
const ClientOrderIDPrefix = "TEGRO-"

const maxClientOrderIDLen = 32

// Ledger is an OrderTracker the connector can also register new orders with.
type Ledger interface {
	OrderTracker
	StartTracking(order TrackedOrder)
	Order(clientOrderID string) (TrackedOrder, bool)
}

type Config struct {
	ChainID        int64
	TradingPairs   []string
	TickInterval   time.Duration
	ApproveOnStart bool
	Engine         EngineConfig
}

// Connector ties the resolver, submitter, canceller and reconciliation
// engine to one wallet on one chain.
type Connector struct {
	api      APIRequester
	signer   Signer
	ledger   Ledger
	approver AllowanceApprover
	clock    util.Clock
	logger   *zap.SugaredLogger
	cfg      Config

	resolver  *MarketResolver
	submitter *OrderSubmitter
	canceller *OrderCanceller
	engine    *Engine
}

// New wires a connector. approver may be nil, in which case allowance
// rejections are reported but never remediated.
func New(api APIRequester, signer Signer, ledger Ledger, events EventBus, fills FillRecorder,
	approver AllowanceApprover, clock util.Clock, logger *zap.SugaredLogger, cfg Config) *Connector {
	classifier := DefaultClassifier()
	engineCfg := cfg.Engine
	engineCfg.ChainID = cfg.ChainID
	engineCfg.Wallet = signer.Address()

	c := &Connector{
		api:      api,
		signer:   signer,
		ledger:   ledger,
		approver: approver,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
	}
	c.resolver = NewMarketResolver(api, cfg.ChainID, logger.Named("market"))
	c.submitter = NewOrderSubmitter(api, signer, c.resolver, classifier, fills, c.remediateAllowance, clock, logger.Named("submit"))
	c.canceller = NewOrderCanceller(api, signer, classifier, logger.Named("cancel"))
	c.engine = NewEngine(api, ledger, events, fills, classifier, clock, logger.Named("reconcile"), engineCfg)
	return c
}

func (c *Connector) Resolver() *MarketResolver { return c.resolver }
func (c *Connector) Engine() *Engine           { return c.engine }

// PlaceOrder tracks a new order, submits it and reports OPEN or FAILED to
// the ledger. The returned id is UnknownExchangeOrderID when the exchange
// was overloaded and may or may not have accepted the order.
func (c *Connector) PlaceOrder(ctx context.Context, clientOrderID, tradingPair string, side TradeType,
	orderType OrderType, amount, price decimal.Decimal) (string, error) {
	c.ledger.StartTracking(TrackedOrder{
		ClientOrderID:     clientOrderID,
		TradingPair:       tradingPair,
		Side:              side,
		Type:              orderType,
		Price:             price,
		Amount:            amount,
		State:             PendingCreate,
		CreationTimestamp: util.Seconds(c.clock.Now()),
	})

	exchangeOrderID, ts, err := c.submitter.Submit(ctx, clientOrderID, tradingPair, amount, side, orderType, price)
	if err != nil {
		c.ledger.ProcessOrderUpdate(OrderUpdate{
			ClientOrderID: clientOrderID,
			TradingPair:   tradingPair,
			NewState:      Failed,
			Timestamp:     util.Seconds(c.clock.Now()),
		})
		return "", err
	}
	c.ledger.ProcessOrderUpdate(OrderUpdate{
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: exchangeOrderID,
		TradingPair:     tradingPair,
		NewState:        Open,
		Timestamp:       ts,
	})
	return exchangeOrderID, nil
}

// CancelOrder cancels a tracked order and reports whether the exchange
// confirmed it.
func (c *Connector) CancelOrder(ctx context.Context, clientOrderID string) (bool, error) {
	order, ok := c.ledger.Order(clientOrderID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrOrderNotFound, clientOrderID)
	}
	outcome, err := c.canceller.Cancel(ctx, clientOrderID, order.ExchangeOrderID)
	if err != nil {
		return false, err
	}
	switch outcome {
	case CancelConfirmed:
		c.ledger.ProcessOrderUpdate(OrderUpdate{
			ClientOrderID:   clientOrderID,
			ExchangeOrderID: order.ExchangeOrderID,
			TradingPair:     order.TradingPair,
			NewState:        Canceled,
			Timestamp:       util.Seconds(c.clock.Now()),
		})
		return true, nil
	case CancelNoAction, CancelNotConfirmed:
		c.ledger.ProcessOrderNotFound(clientOrderID)
	}
	return false, nil
}

// Run listens to queue and drives the status loop until ctx ends.
func (c *Connector) Run(ctx context.Context, queue EventQueue) error {
	if c.cfg.ApproveOnStart {
		if err := c.ApproveAll(ctx); err != nil {
			c.logger.Errorw("approve_on_start_failed", "err", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.engine.ListenUserStream(ctx, queue)
	})
	g.Go(func() error {
		return c.statusLoop(ctx)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Connector) statusLoop(ctx context.Context) error {
	interval := c.cfg.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(interval):
			c.Tick(ctx)
		}
	}
}

// Tick runs one status loop iteration.
func (c *Connector) Tick(ctx context.Context) {
	ran, err := c.engine.PollTick(ctx)
	if err != nil {
		c.logger.Warnw("trade_poll_failed", "err", err)
	}
	if ran {
		c.engine.UpdateOrderStatus(ctx)
	}
}

// ApproveAll grants the exchange contract allowance over both tokens of every
// configured trading pair.
func (c *Connector) ApproveAll(ctx context.Context) error {
	var errs []error
	for _, pair := range c.cfg.TradingPairs {
		market, err := c.resolver.Resolve(ctx, pair)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.remediateAllowance(ctx, market); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Connector) remediateAllowance(ctx context.Context, market MarketInfo) error {
	if c.approver == nil {
		return errors.New("no allowance approver configured")
	}
	spender, err := c.exchangeContract(ctx)
	if err != nil {
		return err
	}
	c.logger.Infow("approving_allowance", "market", market.Symbol, "spender", spender.Hex())
	return c.approver.Approve(ctx, spender, []common.Address{market.BaseContract, market.QuoteContract})
}

// exchangeContract returns the exchange's settlement contract on this chain.
func (c *Connector) exchangeContract(ctx context.Context) (common.Address, error) {
	var chains []exchange.ChainInfo
	if err := c.api.Do(ctx, http.MethodGet, exchange.ChainListPath, nil, nil, &chains); err != nil {
		return common.Address{}, fmt.Errorf("failed to fetch chains: %w", err)
	}
	want := strconv.FormatInt(c.cfg.ChainID, 10)
	for _, ch := range chains {
		if ch.ID.String() != want {
			continue
		}
		if !common.IsHexAddress(ch.ExchangeContract) {
			return common.Address{}, fmt.Errorf("chain %s has invalid exchange contract %q", want, ch.ExchangeContract)
		}
		return common.HexToAddress(ch.ExchangeContract), nil
	}
	return common.Address{}, fmt.Errorf("chain %s not listed", want)
}

// Market resolves the exchange market behind tradingPair.
func (c *Connector) Market(ctx context.Context, tradingPair string) (MarketInfo, error) {
	return c.resolver.Resolve(ctx, tradingPair)
}

func (c *Connector) TradingRules(ctx context.Context) ([]TradingRule, error) {
	return c.resolver.TradingRules(ctx)
}

// LastTradedPrice reads the ticker of tradingPair's market.
func (c *Connector) LastTradedPrice(ctx context.Context, tradingPair string) (decimal.Decimal, error) {
	market, err := c.resolver.Resolve(ctx, tradingPair)
	if err != nil {
		return decimal.Zero, err
	}
	var detail exchange.Market
	if err := c.api.Do(ctx, http.MethodGet, exchange.MarketDetailPath(c.cfg.ChainID, market.ID), nil, nil, &detail); err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch ticker for %s: %w", tradingPair, err)
	}
	return detail.Ticker.Price, nil
}

func (c *Connector) Balances(ctx context.Context) ([]Balance, error) {
	var tokens []exchange.TokenBalance
	path := exchange.AccountsPath(c.cfg.ChainID, c.signer.Address().Hex())
	if err := c.api.Do(ctx, http.MethodGet, path, nil, nil, &tokens); err != nil {
		return nil, fmt.Errorf("failed to fetch balances: %w", err)
	}
	out := make([]Balance, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, Balance{Asset: t.Symbol, Address: t.Address, Total: t.Balance, Decimals: t.Decimals})
	}
	return out, nil
}

// CheckNetwork reports whether the exchange API answers.
func (c *Connector) CheckNetwork(ctx context.Context) error {
	var discard json.RawMessage
	return c.api.Do(ctx, http.MethodGet, exchange.PingPath, nil, nil, &discard)
}

// NewClientOrderID returns a random id of at most 32 characters, e.g.
// "TEGRO-BWETHUSDC1f0c8a2b9e4d7c3a5".
func NewClientOrderID(side TradeType, tradingPair string) string {
	sideChar := "S"
	if side == Buy {
		sideChar = "B"
	}
	pair := strings.ToUpper(strings.ReplaceAll(tradingPair, "-", ""))
	if len(pair) > 9 {
		pair = pair[:9]
	}
	id := ClientOrderIDPrefix + sideChar + pair + strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:maxClientOrderIDLen]
}
