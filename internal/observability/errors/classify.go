// Package errors normalizes errors into low-cardinality classes for metric tags and alerts.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	"github.com/devion-industries/maintainer-brief/internal/retry"
)

// Classify returns a normalized error class. Known conditions get stable names; anything else is
// named after the innermost concrete error type in snake_case.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case goerrors.Is(err, model.ErrInsufficientData):
		return "insufficient_data"
	case goerrors.Is(err, model.ErrPayloadInvalid), goerrors.Is(err, model.ErrPayloadKind):
		return "invalid_payload"
	case goerrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case goerrors.Is(err, context.Canceled):
		return "canceled"
	}

	var se *retry.StatusError
	if goerrors.As(err, &se) {
		return se.Service + "_http_" + strconv.Itoa(se.StatusCode)
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
