package connector

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/uhyunpark/tegro-connector/pkg/exchange"
)

type CancelOutcome int

const (
	// CancelNoAction: the exchange no longer knows the order.
	CancelNoAction CancelOutcome = iota
	CancelConfirmed
	CancelNotConfirmed
)

func (o CancelOutcome) String() string {
	switch o {
	case CancelConfirmed:
		return "confirmed"
	case CancelNotConfirmed:
		return "not_confirmed"
	}
	return "no_action"
}

type OrderCanceller struct {
	api        APIRequester
	signer     Signer
	classifier ErrorClassifier
	logger     *zap.SugaredLogger
}

func NewOrderCanceller(api APIRequester, signer Signer, classifier ErrorClassifier, logger *zap.SugaredLogger) *OrderCanceller {
	return &OrderCanceller{api: api, signer: signer, classifier: classifier, logger: logger}
}

// Cancel requests cancellation of one exchange order.
func (c *OrderCanceller) Cancel(ctx context.Context, clientOrderID, exchangeOrderID string) (CancelOutcome, error) {
	if exchangeOrderID == "" || exchangeOrderID == UnknownExchangeOrderID {
		return CancelNoAction, fmt.Errorf("%w: %s", ErrNoExchangeOrderID, clientOrderID)
	}
	ids := []string{exchangeOrderID}

	signature, found, err := c.signCancel(ctx, ids)
	if err != nil {
		return CancelNoAction, err
	}
	if !found {
		c.logger.Debugw("cancel_not_needed", "client_order_id", clientOrderID, "exchange_order_id", exchangeOrderID)
		return CancelNoAction, nil
	}

	req := exchange.CancelOrderRequest{
		UserAddress: c.signer.Address().Hex(),
		OrderIDs:    ids,
		Signature:   signature,
	}
	var resp exchange.CancelOrderResponse
	if err := c.api.Do(ctx, http.MethodPost, exchange.CancelOrderPath, nil, req, &resp); err != nil {
		return CancelNoAction, fmt.Errorf("failed to cancel order %s: %w", exchangeOrderID, err)
	}

	for _, id := range resp.CancelledOrderIDs {
		if id.String() == exchangeOrderID {
			c.logger.Infow("order_cancelled", "client_order_id", clientOrderID, "exchange_order_id", exchangeOrderID)
			return CancelConfirmed, nil
		}
	}
	c.logger.Warnw("cancel_not_confirmed", "client_order_id", clientOrderID, "exchange_order_id", exchangeOrderID,
		"cancelled", resp.CancelledOrderIDs)
	return CancelNotConfirmed, nil
}

// signCancel returns found=false when the exchange reports the orders as
// not found, in which case nothing is signed.
func (c *OrderCanceller) signCancel(ctx context.Context, ids []string) (string, bool, error) {
	req := exchange.GenerateCancelRequest{
		OrderIDs:    ids,
		UserAddress: strings.ToLower(c.signer.Address().Hex()),
	}
	var resp exchange.GenerateCancelResponse
	if err := c.api.Do(ctx, http.MethodPost, exchange.GenerateCancelTypedDataPath, nil, req, &resp); err != nil {
		if c.classifier.Classify(OpCancel, err) == KindOrderNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to generate cancel typed data: %w", err)
	}

	sd := resp.SignData
	if _, ok := sd.Types["CancelOrder"]; !ok {
		return "", false, fmt.Errorf("%w: typed data has no CancelOrder schema", ErrSigning)
	}
	signature, err := c.signer.SignTypedData(sd.Domain, sd.Types, "CancelOrder", sd.Message)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return signature, true, nil
}
