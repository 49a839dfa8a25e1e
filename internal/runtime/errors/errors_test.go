package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrPriorityTaken", ErrPriorityTaken, "eventbridge: interceptor priority already taken"},
		{"ErrModuleExists", ErrModuleExists, "eventbridge: module of this type already registered"},
		{"ErrConnectorNotFound", ErrConnectorNotFound, "eventbridge: connector is not attached"},
		{"ErrConnectorStarted", ErrConnectorStarted, "eventbridge: connector already started"},
		{"ErrConnectorStopped", ErrConnectorStopped, "eventbridge: connector already stopped"},
		{"ErrBridgeClosed", ErrBridgeClosed, "eventbridge: bridge is closed"},
		{"ErrEventRequired", ErrEventRequired, "eventbridge: event is required"},
		{"ErrConfigRequired", ErrConfigRequired, "eventbridge: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "eventbridge: logger is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestTransportError(t *testing.T) {
	inner := errors.New("connection reset")
	err := &TransportError{Connector: "stub", Err: inner}

	if !errors.Is(err, inner) {
		t.Fatal("errors.Is should match the wrapped transport failure")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestHandlerPanicError(t *testing.T) {
	err := &HandlerPanicError{Value: "boom"}
	if got := err.Error(); got != "eventbridge: handler panicked: boom" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("wraps error correctly", func(t *testing.T) {
		inner := errors.New("bad config")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if cfgErr.Err != inner {
			t.Errorf("wrapped error = %v, want %v", cfgErr.Err, inner)
		}
		if want := "eventbridge: invalid configuration: bad config"; err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
		if !errors.Is(err, inner) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}
