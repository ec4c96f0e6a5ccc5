package weave

import (
	"errors"
	"testing"
)

func TestErrorFromMapKnownCode(t *testing.T) {
	err := errorFromMap(map[string]any{"error_code": -55, "error_msg": "nope"})

	var forbidden *ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("error = %v, want *ForbiddenError", err)
	}
	if forbidden.Msg != "nope" {
		t.Errorf("msg = %q, want %q", forbidden.Msg, "nope")
	}
	if forbidden.Code != -55 {
		t.Errorf("code = %d, want -55", forbidden.Code)
	}
}

func TestErrorFromMapUnknownCodeIsCustom(t *testing.T) {
	err := errorFromMap(map[string]any{"error_code": -123, "error_msg": "module failure", "extra": "info"})

	var custom *CustomError
	if !errors.As(err, &custom) {
		t.Fatalf("error = %v, want *CustomError", err)
	}
	if custom.Data["extra"] != "info" {
		t.Errorf("custom error lost the raw map: %v", custom.Data)
	}
}

func TestIsRetryableWriteError(t *testing.T) {
	nodeErr := &NodeError{&ProtocolError{Code: -51, Msg: "node down"}}
	if !isRetryableWriteError(nodeErr) {
		t.Error("NodeError should be retryable")
	}
	if !isRetryableWriteError(ErrConnectionLost) {
		t.Error("ErrConnectionLost should be retryable")
	}
	typeErr := &TypeError{&ProtocolError{Code: -61, Msg: "bad type"}}
	if isRetryableWriteError(typeErr) {
		t.Error("TypeError should not be retryable")
	}
	cancelledErr := &CancelledError{&ProtocolError{Code: -64, Msg: "cancelled"}}
	if !isRetryableWriteError(cancelledErr) {
		t.Error("CancelledError should be retryable per spec §4.D's write policy")
	}
}
