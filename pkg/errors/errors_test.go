package errors

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestErrorFormatting(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "connection error with addr",
			err:  NewConnectionError("example.com", 443, errors.New("refused")),
			want: "[connection] dial example.com:443: failed to connect to example.com:443: refused",
		},
		{
			name: "cert forge error",
			err:  NewCertForgeError("example.com", 443, errors.New("boom")),
			want: "[certforge] forge example.com:443: failed to forge leaf certificate for example.com:443: boom",
		},
		{
			name: "config error without cause",
			err:  NewConfigError("missing host field", nil),
			want: "[config] config: missing host field",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Errorf("Error() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	a := NewTimeoutError("recv", 20*time.Second)
	b := NewTimeoutError("send", 5*time.Second)
	if !a.Is(b) {
		t.Error("errors of the same Type should match Is()")
	}
	c := NewCertForgeError("h", 1, nil)
	if a.Is(c) {
		t.Error("errors of different Type should not match Is()")
	}
}

func TestIsTimeoutError(t *testing.T) {
	if !IsTimeoutError(NewTimeoutError("recv", time.Second)) {
		t.Error("expected structured timeout error to report timeout")
	}
	if !IsTimeoutError(context.DeadlineExceeded) {
		t.Error("expected context.DeadlineExceeded to report timeout")
	}
	if IsTimeoutError(errors.New("other")) {
		t.Error("unrelated error should not report timeout")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewIOError("read", cause)
	if errors.Unwrap(err) != cause {
		t.Error("Unwrap should return the wrapped cause")
	}
}
