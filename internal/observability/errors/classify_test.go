package errors

import (
	"context"
	goerrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	"github.com/devion-industries/maintainer-brief/internal/retry"
)

type customErr struct{}

func (*customErr) Error() string { return "custom" }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"insufficient data", fmt.Errorf("generate: %w", model.ErrInsufficientData), "insufficient_data"},
		{"payload", fmt.Errorf("decode: %w", model.ErrPayloadInvalid), "invalid_payload"},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), "timeout"},
		{"http status", &retry.StatusError{Service: "github", StatusCode: 502}, "github_http_502"},
		{"custom type", fmt.Errorf("wrap: %w", &customErr{}), "errors_customerr"},
		{"plain", goerrors.New("rate limit exceeded"), "errors_errorstring"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
