package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, ErrCodeInternal, "save outputs")
	if got := err.Error(); got != "save outputs: boom" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error should unwrap to its cause")
	}
	if Wrap(nil, ErrCodeInternal, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, ErrCodeInternal, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}

func TestGetCode_ThroughFmtWrapping(t *testing.T) {
	base := NotFoundf("job %s not found", "j-1")
	err := fmt.Errorf("status: %w", base)
	if !IsNotFound(err) {
		t.Errorf("IsNotFound = false, code %q", GetCode(err))
	}
	if IsConflict(err) {
		t.Error("IsConflict should be false")
	}
	if GetCode(errors.New("plain")) != "" {
		t.Error("plain error should have no code")
	}
	if got := GetField(ValidationField("commit", "commit sha is required")); got != "commit" {
		t.Errorf("GetField = %q", got)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("x"), ExitFailure},
		{"validation", Validationf("bad %s", "flag"), ExitUsage},
		{"not found", NotFoundf("missing"), ExitNotFound},
		{"foreign key", New(ErrCodeForeignKey, "no repo"), ExitNotFound},
		{"conflict", Conflictf("dup"), ExitConflict},
		{"unavailable", Wrap(context.DeadlineExceeded, ErrCodeTimeout, "slow"), ExitUnavailable},
		{"internal", New(ErrCodeInternal, "x"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
