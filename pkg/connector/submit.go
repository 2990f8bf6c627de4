package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/tegro-connector/pkg/exchange"
	"github.com/uhyunpark/tegro-connector/pkg/util"
)

// UnknownExchangeOrderID stands in for the id of an order the exchange may
// have accepted while reporting an overload.
const UnknownExchangeOrderID = "UNKNOWN"

// AllowanceRemediation is invoked once when a submission is rejected for
// insufficient allowance.
type AllowanceRemediation func(ctx context.Context, market MarketInfo) error

type OrderSubmitter struct {
	api        APIRequester
	signer     Signer
	resolver   *MarketResolver
	classifier ErrorClassifier
	fills      FillRecorder
	remediate  AllowanceRemediation
	clock      util.Clock
	logger     *zap.SugaredLogger
}

func NewOrderSubmitter(api APIRequester, signer Signer, resolver *MarketResolver, classifier ErrorClassifier,
	fills FillRecorder, remediate AllowanceRemediation, clock util.Clock, logger *zap.SugaredLogger) *OrderSubmitter {
	return &OrderSubmitter{
		api:        api,
		signer:     signer,
		resolver:   resolver,
		classifier: classifier,
		fills:      fills,
		remediate:  remediate,
		clock:      clock,
		logger:     logger,
	}
}

// Submit places one order and returns the exchange order id and the
// transaction time in seconds.
func (s *OrderSubmitter) Submit(ctx context.Context, clientOrderID, tradingPair string, amount decimal.Decimal,
	side TradeType, orderType OrderType, price decimal.Decimal) (string, float64, error) {
	market, err := s.resolver.Resolve(ctx, tradingPair)
	if err != nil {
		return "", 0, err
	}

	typed, err := s.generateTypedData(ctx, market, amount, side, price)
	if err != nil {
		return "", 0, err
	}

	if _, ok := typed.SignData.Types["Order"]; !ok {
		return "", 0, fmt.Errorf("%w: typed data has no Order schema", ErrSigning)
	}
	signature, err := s.signer.SignTypedData(typed.SignData.Domain, typed.SignData.Types, "Order", typed.SignData.Message)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	lo := typed.LimitOrder
	req := exchange.PlaceOrderRequest{
		ChainID:         market.ChainID,
		BaseAsset:       lo.BaseAsset,
		QuoteAsset:      lo.QuoteAsset,
		Side:            lo.Side,
		VolumePrecision: lo.VolumePrecision,
		PricePrecision:  lo.PricePrecision,
		OrderHash:       lo.OrderHash,
		RawOrderData:    lo.RawOrderData,
		Signature:       signature,
		SignedOrderType: exchange.SignedOrderType,
		MarketID:        lo.MarketID,
		MarketSymbol:    market.Symbol,
	}

	var resp exchange.PlaceOrderResponse
	if err := s.api.Do(ctx, http.MethodPost, exchange.PlaceOrderPath, nil, req, &resp); err != nil {
		return s.handleSubmitError(ctx, clientOrderID, market, err)
	}

	exchangeOrderID := resp.OrderID.String()
	if exchangeOrderID == "" {
		return "", 0, fmt.Errorf("place order response for %s has no order id", clientOrderID)
	}
	if err := s.fills.RecordOrder(exchangeOrderID, clientOrderID); err != nil {
		s.logger.Warnw("record_order_failed", "client_order_id", clientOrderID, "exchange_order_id", exchangeOrderID, "err", err)
	}
	s.logger.Infow("order_submitted", "client_order_id", clientOrderID, "exchange_order_id", exchangeOrderID,
		"pair", tradingPair, "side", side, "type", orderType, "amount", amount, "price", price)
	return exchangeOrderID, util.FromMillis(resp.Timestamp), nil
}

func (s *OrderSubmitter) generateTypedData(ctx context.Context, market MarketInfo, amount decimal.Decimal,
	side TradeType, price decimal.Decimal) (exchange.GenerateOrderResponse, error) {
	amountStr, err := market.FormatAmount(amount)
	if err != nil {
		return exchange.GenerateOrderResponse{}, err
	}
	priceStr, err := market.FormatPrice(price)
	if err != nil {
		return exchange.GenerateOrderResponse{}, err
	}

	req := exchange.GenerateOrderRequest{
		ChainID:       market.ChainID,
		MarketSymbol:  market.Symbol,
		Side:          side.String(),
		WalletAddress: s.signer.Address().Hex(),
		Price:         priceStr,
		Amount:        amountStr,
	}
	var resp exchange.GenerateOrderResponse
	if err := s.api.Do(ctx, http.MethodPost, exchange.GenerateOrderTypedDataPath, nil, req, &resp); err != nil {
		return resp, fmt.Errorf("failed to generate order typed data: %w", err)
	}
	return resp, nil
}

func (s *OrderSubmitter) handleSubmitError(ctx context.Context, clientOrderID string, market MarketInfo, err error) (string, float64, error) {
	switch s.classifier.Classify(OpSubmit, err) {
	case KindInsufficientAllowance:
		s.logger.Warnw("order_rejected_insufficient_allowance", "client_order_id", clientOrderID, "market", market.Symbol)
		if s.remediate != nil {
			if rerr := s.remediate(ctx, market); rerr != nil {
				s.logger.Errorw("allowance_remediation_failed", "market", market.Symbol, "err", rerr)
			}
		}
		return "", 0, fmt.Errorf("%w: %w", ErrInsufficientAllowance, err)
	case KindTransientOverload:
		s.logger.Warnw("order_submit_overloaded", "client_order_id", clientOrderID, "err", err)
		return UnknownExchangeOrderID, util.Seconds(s.clock.Now()), nil
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		s.logger.Errorw("order_submit_failed", "client_order_id", clientOrderID, "status", upstream.StatusCode, "err", err)
	}
	return "", 0, err
}
