package domain_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gateline/gateline/internal/domain"
)

func fastPolicy(maxAttempts int) domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}
}

func TestRetryPolicy_SucceedsFirstAttempt(t *testing.T) {
	attempts, err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryPolicy_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	attempts, err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("probe: %w", domain.ErrSyncTimeout)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryPolicy_ExhaustsBudget(t *testing.T) {
	attempts, err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		return domain.ErrTransientPublish
	})
	if !errors.Is(err, domain.ErrTransientPublish) {
		t.Fatalf("Do: got %v, want ErrTransientPublish", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryPolicy_TerminalErrorAbortsImmediately(t *testing.T) {
	attempts, err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		return fmt.Errorf("compile: %w", domain.ErrBuildFailure)
	})
	if !errors.Is(err, domain.ErrBuildFailure) {
		t.Fatalf("Do: got %v, want ErrBuildFailure", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for a terminal error", attempts)
	}
}

func TestRetryPolicy_DefaultsMaxAttempts(t *testing.T) {
	policy := domain.RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	attempts, err := policy.Do(context.Background(), func(context.Context) error {
		return domain.ErrAnalysisUnavailable
	})
	if err == nil {
		t.Fatal("Do: expected error")
	}
	if attempts != domain.DefaultMaxAttempts {
		t.Errorf("attempts = %d, want %d", attempts, domain.DefaultMaxAttempts)
	}
}

func TestRetryPolicy_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := fastPolicy(10).Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return domain.ErrSyncTimeout
	})
	if err == nil {
		t.Fatal("Do: expected error after cancellation")
	}
	if calls > 2 {
		t.Errorf("calls = %d, cancellation should stop further attempts", calls)
	}
}

func TestTransient_Classification(t *testing.T) {
	transient := []error{
		domain.ErrAnalysisUnavailable,
		domain.ErrTransientPublish,
		domain.ErrConcurrentUpdate,
		domain.ErrSyncTimeout,
		domain.ErrSyncUnhealthy,
	}
	for _, err := range transient {
		if !domain.Transient(fmt.Errorf("wrapped: %w", err)) {
			t.Errorf("Transient(%v) = false, want true", err)
		}
	}

	terminal := []error{
		domain.ErrBuildFailure,
		domain.ErrNotFound,
		domain.ErrInvalidArgument,
		errors.New("anything else"),
	}
	for _, err := range terminal {
		if domain.Transient(err) {
			t.Errorf("Transient(%v) = true, want false", err)
		}
	}
}
