// Package statestoretest provides contract tests for
// [domain.DesiredStateStore] implementations.
package statestoretest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gateline/gateline/internal/domain"
)

// Factory creates a fresh [domain.DesiredStateStore] for each test.
type Factory func(t *testing.T) domain.DesiredStateStore

// Run exercises the [domain.DesiredStateStore] contract.
func Run(t *testing.T, factory Factory) {
	swap := func(ctx context.Context, store domain.DesiredStateStore,
		env domain.Environment, prev, next domain.PublishedReference, observed int64,
	) (domain.DesiredStateChange, error) {
		return store.Swap(ctx, domain.DesiredStateChange{
			Environment: env,
			PreviousRef: prev,
			NewRef:      next,
			CommitID:    "abc123",
			Version:     observed,
		})
	}

	t.Run("CurrentEmpty", func(t *testing.T) {
		store := factory(t)
		_, err := store.Current(context.Background(), "prod")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Current on empty store: got %v, want ErrNotFound", err)
		}
	})

	t.Run("FirstSwap", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		change, err := swap(ctx, store, "prod", "", "registry.acme.io/app@sha256:aaa", 0)
		if err != nil {
			t.Fatalf("Swap: %v", err)
		}
		if change.Version != 1 {
			t.Errorf("Version = %d, want 1", change.Version)
		}
		if change.PreviousRef != "" {
			t.Errorf("PreviousRef = %q, want empty", change.PreviousRef)
		}

		got, err := store.Current(ctx, "prod")
		if err != nil {
			t.Fatalf("Current: %v", err)
		}
		if got.NewRef != "registry.acme.io/app@sha256:aaa" {
			t.Errorf("NewRef = %q", got.NewRef)
		}
	})

	t.Run("SwapAdvancesVersion", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		first, _ := swap(ctx, store, "prod", "", "ref-a", 0)
		second, err := swap(ctx, store, "prod", "ref-a", "ref-b", first.Version)
		if err != nil {
			t.Fatalf("second Swap: %v", err)
		}
		if second.Version != first.Version+1 {
			t.Errorf("Version = %d, want %d", second.Version, first.Version+1)
		}
		if second.PreviousRef != "ref-a" {
			t.Errorf("PreviousRef = %q, want ref-a", second.PreviousRef)
		}

		got, _ := store.Current(ctx, "prod")
		if got.NewRef != "ref-b" {
			t.Errorf("Current.NewRef = %q, want ref-b", got.NewRef)
		}
	})

	t.Run("StaleSwapRejected", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		first, _ := swap(ctx, store, "prod", "", "ref-a", 0)
		if _, err := swap(ctx, store, "prod", "ref-a", "ref-b", first.Version); err != nil {
			t.Fatalf("Swap: %v", err)
		}

		_, err := swap(ctx, store, "prod", "ref-a", "ref-c", first.Version)
		if !errors.Is(err, domain.ErrConcurrentUpdate) {
			t.Fatalf("stale Swap: got %v, want ErrConcurrentUpdate", err)
		}

		got, _ := store.Current(ctx, "prod")
		if got.NewRef != "ref-b" {
			t.Errorf("Current.NewRef after rejected swap = %q, want ref-b", got.NewRef)
		}
	})

	t.Run("FirstSwapRace", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		_, _ = swap(ctx, store, "prod", "", "ref-a", 0)
		_, err := swap(ctx, store, "prod", "", "ref-b", 0)
		if !errors.Is(err, domain.ErrConcurrentUpdate) {
			t.Fatalf("duplicate first Swap: got %v, want ErrConcurrentUpdate", err)
		}
	})

	t.Run("EnvironmentsIndependent", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		_, _ = swap(ctx, store, "staging", "", "ref-stg", 0)
		_, _ = swap(ctx, store, "prod", "", "ref-prod", 0)

		stg, _ := store.Current(ctx, "staging")
		prod, _ := store.Current(ctx, "prod")
		if stg.NewRef != "ref-stg" || prod.NewRef != "ref-prod" {
			t.Errorf("cross-environment leak: staging=%q prod=%q", stg.NewRef, prod.NewRef)
		}
	})

	t.Run("ConcurrentSwapExactlyOneWins", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		base, _ := swap(ctx, store, "prod", "", "ref-base", 0)

		const writers = 8
		var wg sync.WaitGroup
		wins := make(chan domain.DesiredStateChange, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				change, err := swap(ctx, store, "prod", "ref-base", "ref-contended", base.Version)
				if err == nil {
					wins <- change
					return
				}
				if !errors.Is(err, domain.ErrConcurrentUpdate) {
					t.Errorf("Swap: %v", err)
				}
			}()
		}
		wg.Wait()
		close(wins)

		var won int
		for range wins {
			won++
		}
		if won != 1 {
			t.Fatalf("winners = %d, want exactly 1", won)
		}

		got, _ := store.Current(ctx, "prod")
		if got.Version != base.Version+1 {
			t.Errorf("Version = %d, want %d", got.Version, base.Version+1)
		}
	})
}
