package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{name: "nil", err: nil, want: ""},
		{name: "sentinel", err: ErrLimit, want: CodeLimit},
		{name: "formatted", err: Valuef("bad interval %v", 0), want: CodeValue},
		{name: "wrapped", err: fmt.Errorf("query: %w", ErrNotAvailable), want: CodeNotAvailable},
		{name: "foreign", err: errors.New("boom"), want: CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Of(tt.err); got != tt.want {
				t.Errorf("Of() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := Argsf("expected 2 arguments, got %d", 3)
	if !errors.Is(err, ErrArgs) {
		t.Error("errors.Is(err, ErrArgs) = false, want true")
	}
	if errors.Is(err, ErrValue) {
		t.Error("errors.Is(err, ErrValue) = true, want false")
	}
	if got := err.Error(); got != "#ARGS: expected 2 arguments, got 3" {
		t.Errorf("Error() = %q", got)
	}
	if got := ErrLimit.Error(); got != "#LIMIT" {
		t.Errorf("ErrLimit.Error() = %q, want #LIMIT", got)
	}
}
