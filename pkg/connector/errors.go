package connector

import (
	"errors"
	"net/http"
	"strings"

	"github.com/uhyunpark/tegro-connector/pkg/exchange"
)

var (
	ErrMarketNotFound        = errors.New("market not found")
	ErrAmbiguousMarket       = errors.New("market listed more than once")
	ErrSigning               = errors.New("signing failed")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrTransientOverload     = errors.New("exchange overloaded")
	ErrNoExchangeOrderID     = errors.New("order has no exchange order id")
)

// UpstreamError is the transport-level failure returned by the REST client.
type UpstreamError = exchange.UpstreamError

// Operation names the call site an error came from.
type Operation int

const (
	OpSubmit Operation = iota + 1
	OpCancel
	OpStatus
)

// ErrorKind is the closed set of upstream conditions the connector reacts to.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInsufficientAllowance
	KindTransientOverload
	KindOrderNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindInsufficientAllowance:
		return "insufficient_allowance"
	case KindTransientOverload:
		return "transient_overload"
	case KindOrderNotFound:
		return "order_not_found"
	}
	return "unknown"
}

// ErrorClassifier maps an opaque upstream error to an ErrorKind.
type ErrorClassifier interface {
	Classify(op Operation, err error) ErrorKind
}

// ClassifierRule matches when the operation, status code (0 = any) and every
// substring agree.
type ClassifierRule struct {
	Op         Operation
	StatusCode int
	Contains   []string
	Kind       ErrorKind
}

// SubstringClassifier matches rules against the upstream message in order.
type SubstringClassifier struct {
	Rules []ClassifierRule
}

const overloadMessage = "Unknown error, please check your request or try again later."

func DefaultClassifier() *SubstringClassifier {
	return &SubstringClassifier{Rules: []ClassifierRule{
		{Op: OpSubmit, Contains: []string{"insufficient allowance"}, Kind: KindInsufficientAllowance},
		{Op: OpSubmit, StatusCode: http.StatusServiceUnavailable, Contains: []string{overloadMessage}, Kind: KindTransientOverload},
		{Op: OpCancel, Contains: []string{"Orders not found"}, Kind: KindOrderNotFound},
		{Op: OpStatus, Contains: []string{"Order not found"}, Kind: KindOrderNotFound},
		{Op: OpStatus, StatusCode: http.StatusNotFound, Kind: KindOrderNotFound},
	}}
}

func (c *SubstringClassifier) Classify(op Operation, err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	status, msg := 0, err.Error()
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		status, msg = upstream.StatusCode, upstream.Message
	}
	for _, r := range c.Rules {
		if r.Op != op || (r.StatusCode != 0 && r.StatusCode != status) {
			continue
		}
		if containsAll(msg, r.Contains) {
			return r.Kind
		}
	}
	return KindUnknown
}

func containsAll(s string, parts []string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
