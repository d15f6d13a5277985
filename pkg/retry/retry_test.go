package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastOptions(maxRetries uint64) Options {
	return Options{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	value, attempts, err := Do(context.Background(), fastOptions(3), func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if value != "ok" {
		t.Fatalf("expected ok, got %q", value)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	value, attempts, err := Do(context.Background(), fastOptions(5), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset by peer")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if value != 42 {
		t.Fatalf("expected 42, got %d", value)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	transient := errors.New("503 service unavailable")
	_, attempts, err := Do(context.Background(), fastOptions(2), func(context.Context) (int, error) {
		return 0, transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected maxRetries+1 attempts, got %d", attempts)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("401 unauthorized")
	_, attempts, err := Do(context.Background(), fastOptions(5), func(context.Context) (int, error) {
		return 0, permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestDoHonorsCustomClassifier(t *testing.T) {
	opts := fastOptions(4)
	opts.IsRetryable = func(error) bool { return false }
	_, attempts, err := Do(context.Background(), opts, func(context.Context) (int, error) {
		return 0, errors.New("would normally retry: timeout")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Do(ctx, fastOptions(10), func(context.Context) (int, error) {
		return 0, errors.New("timeout")
	})
	if err == nil {
		t.Fatal("expected error from canceled context")
	}
}

func TestDefaultRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("API rate limit exceeded"), true},
		{"timeout", errors.New("request timeout"), true},
		{"bad gateway", errors.New("502 Bad Gateway"), true},
		{"unauthorized", errors.New("401 Unauthorized"), false},
		{"not found", errors.New("workflow not found"), false},
		{"unprocessable", errors.New("422 Unprocessable Entity"), false},
		{"unknown", errors.New("something odd happened"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DefaultRetryable(tc.err); got != tc.want {
				t.Fatalf("DefaultRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
