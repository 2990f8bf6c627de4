package connector

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/uhyunpark/tegro-connector/pkg/exchange"
)

func upstream(status int, body string) error {
	return &exchange.UpstreamError{Method: http.MethodPost, Path: "/x", StatusCode: status, Message: body}
}

func TestDefaultClassifier(t *testing.T) {
	c := DefaultClassifier()
	tests := []struct {
		name string
		op   Operation
		err  error
		want ErrorKind
	}{
		{"allowance", OpSubmit, upstream(400, `{"message":"insufficient allowance"}`), KindInsufficientAllowance},
		{"overload", OpSubmit, upstream(503, `{"message":"Unknown error, please check your request or try again later."}`), KindTransientOverload},
		{"overload text needs 503", OpSubmit, upstream(500, `{"message":"Unknown error, please check your request or try again later."}`), KindUnknown},
		{"service unavailable", OpSubmit, upstream(503, "Service Unavailable."), KindUnknown},
		{"internal error", OpSubmit, upstream(503, `{"message":"Internal error, please try again later."}`), KindUnknown},
		{"cancel not found", OpCancel, upstream(400, `{"message":"Orders not found"}`), KindOrderNotFound},
		{"cancel rule is per operation", OpSubmit, upstream(400, `{"message":"Orders not found"}`), KindUnknown},
		{"status not found text", OpStatus, upstream(400, `{"message":"Order not found"}`), KindOrderNotFound},
		{"status 404", OpStatus, upstream(404, ``), KindOrderNotFound},
		{"wrapped", OpCancel, fmt.Errorf("cancel: %w", upstream(400, "Orders not found")), KindOrderNotFound},
		{"plain error", OpSubmit, errors.New("insufficient allowance"), KindInsufficientAllowance},
		{"nil", OpSubmit, nil, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.op, tt.err); got != tt.want {
				t.Errorf("Classify = %v, want %v", got, tt.want)
			}
		})
	}
}
