package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"status", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped", fmt.Errorf("consulta_dnprc: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"unreachable", NewTransientError(errors.New("dial tcp: refused"), 0), true},
		{"plain", errors.New("invalid input: missing field"), false},
		{"unmarked syscall", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsUnreachable(t *testing.T) {
	if !IsUnreachable(fmt.Errorf("get: %w", NewTransientError(errors.New("i/o timeout"), 0))) {
		t.Error("a transient error without status should be unreachable")
	}
	if IsUnreachable(NewTransientError(errors.New("bad gateway"), 502)) {
		t.Error("a 502 got a response and is not unreachable")
	}
	if IsUnreachable(errors.New("plain")) {
		t.Error("unmarked errors are not unreachable")
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504, 599} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected HTTP %d to be transient", code)
		}
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 408, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected HTTP %d to NOT be transient", code)
		}
	}
}

func TestIsTerminalHTTPStatus(t *testing.T) {
	for _, code := range []int{200, 204, 302, 399, 404} {
		if !IsTerminalHTTPStatus(code) {
			t.Errorf("expected HTTP %d to be terminal", code)
		}
	}
	for _, code := range []int{400, 403, 429, 500, 503} {
		if IsTerminalHTTPStatus(code) {
			t.Errorf("expected HTTP %d to NOT be terminal", code)
		}
	}
}

func TestTransientError_Chain(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)

	if !errors.Is(te, inner) {
		t.Error("TransientError should unwrap to the inner error")
	}
	if te.Error() != "root cause" {
		t.Errorf("expected the inner message, got %q", te.Error())
	}
}
