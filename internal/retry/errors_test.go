package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassOf(t *testing.T) {
	base := errors.New("boom")
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassTransient},
		{"plain", base, ClassTransient},
		{"permanent", Permanent(base), ClassPermanent},
		{"rate_limited", RateLimited(base, time.Second), ClassRateLimited},
		{"unavailable", Unavailable(base), ClassUnavailable},
		{"wrapped_permanent", fmt.Errorf("outer: %w", Permanent(base)), ClassPermanent},
	}
	for _, tc := range cases {
		if got := ClassOf(tc.err); got != tc.want {
			t.Fatalf("%s: ClassOf=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRetryAfterOf(t *testing.T) {
	if _, ok := RetryAfterOf(errors.New("no wait")); ok {
		t.Fatalf("plain error must not carry a retry-after")
	}
	err := fmt.Errorf("send: %w", RateLimited(errors.New("429"), 750*time.Millisecond))
	after, ok := RetryAfterOf(err)
	if !ok || after != 750*time.Millisecond {
		t.Fatalf("got (%v,%v), want (750ms,true)", after, ok)
	}
	if after, _ := RetryAfterOf(RateLimited(errors.New("429"), -time.Second)); after != 0 {
		t.Fatalf("negative retry-after must clamp to zero, got %v", after)
	}
}

func TestWrappersPreserveCause(t *testing.T) {
	cause := errors.New("cause")
	for _, err := range []error{Permanent(cause), Unavailable(cause), RateLimited(cause, 0)} {
		if !errors.Is(err, cause) {
			t.Fatalf("%T does not unwrap to its cause", err)
		}
	}
	if Permanent(nil) != nil || Unavailable(nil) != nil || RateLimited(nil, time.Second) != nil {
		t.Fatalf("wrapping nil must stay nil")
	}
}
