package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
}

func TestDo_RetriesRetryable(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return Retryable(errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_StopsOnPermanent(t *testing.T) {
	attempts := 0
	permanent := errors.New("bad request")
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return Retryable(errors.New("down"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastConfig(), func() error {
		return Retryable(errors.New("down"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		code      int
		wantErr   bool
		retryable bool
	}{
		{http.StatusOK, false, false},
		{http.StatusNotFound, true, false},
		{http.StatusForbidden, true, false},
		{http.StatusTooManyRequests, true, true},
		{http.StatusBadGateway, true, true},
	}
	for _, tt := range tests {
		err := FromStatus("list", tt.code)
		if (err != nil) != tt.wantErr {
			t.Errorf("FromStatus(%d) err = %v, wantErr %v", tt.code, err, tt.wantErr)
			continue
		}
		if IsRetryable(err) != tt.retryable {
			t.Errorf("FromStatus(%d) retryable = %v, want %v", tt.code, IsRetryable(err), tt.retryable)
		}
		var se *StatusError
		if tt.wantErr && !errors.As(err, &se) {
			t.Errorf("FromStatus(%d) is not a StatusError", tt.code)
		}
	}
}
