package engine

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

var testRetry = RetryConfig{MaxTries: 3, InitialWait: time.Millisecond, MaxWait: 10 * time.Millisecond}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"http 429", &HTTPStatusError{429}, true},
		{"http 502", &HTTPStatusError{502}, true},
		{"http 503", &HTTPStatusError{503}, true},
		{"http 404", &HTTPStatusError{404}, false},
		{"regular error", errors.New("something"), false},
		{"dns timeout", &net.DNSError{IsTimeout: true}, true},
		{"dns not found", &net.DNSError{IsNotFound: true}, false},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.want {
				t.Errorf("IsRetryableError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetrySuccess(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), testRetry, func() (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), testRetry, func() (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPStatusError{503}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls, want ok after 3", got, calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), testRetry, func() (string, error) {
		calls++
		return "", &HTTPStatusError{502}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	var se *HTTPStatusError
	if !errors.As(err, &se) || se.StatusCode != 502 {
		t.Errorf("expected HTTPStatusError 502, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPermanent(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), testRetry, func() (string, error) {
		calls++
		return "", Permanent(&HTTPStatusError{404})
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error retried: %d calls", calls)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, RetryConfig{MaxTries: 5, InitialWait: time.Second, MaxWait: time.Second}, func() (string, error) {
		return "", &HTTPStatusError{503}
	})
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
