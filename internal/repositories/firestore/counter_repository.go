package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/northmart/api/internal/platform/firestore"
	"github.com/northmart/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out sequence values through Firestore transactions.
// The checkout flow draws order numbers from it, one counter per calendar
// day, so two concurrent checkouts never mint the same number.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
}

// NewCounterRepository builds a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
	}, nil
}

// Next increments the counter atomically and returns the new value. A
// missing counter is seeded on first use.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	now := time.Now().UTC()
	var minted int64

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.Ref(ctx, id)
		if err != nil {
			return err
		}

		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			minted, err = seedCounter(tx, ref, step, now)
			return err
		}
		if err != nil {
			return err
		}

		var state counterDocument
		if err := snap.DataTo(&state); err != nil {
			return fmt.Errorf("firestore counters decode %s: %w", id, err)
		}

		increment := step
		if increment <= 0 {
			increment = state.Step
		}
		if increment <= 0 {
			increment = 1
		}

		next := state.CurrentValue + increment
		if state.MaxValue != nil && next > *state.MaxValue {
			return repositories.NewCounterError(repositories.CounterErrorExhausted, fmt.Sprintf("counter %s exceeded max value %d", id, *state.MaxValue), nil)
		}

		state.CurrentValue = next
		state.Step = increment
		state.UpdatedAt = now
		if err := tx.Set(ref, state, firestore.MergeAll); err != nil {
			return err
		}
		minted = next
		return nil
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return minted, nil
}

func seedCounter(tx *firestore.Transaction, ref *firestore.DocumentRef, step int64, now time.Time) (int64, error) {
	if step <= 0 {
		step = 1
	}
	doc := counterDocument{
		CurrentValue: step,
		Step:         step,
		UpdatedAt:    now,
	}
	if err := tx.Create(ref, doc); err != nil {
		return 0, err
	}
	return doc.CurrentValue, nil
}

// Configure merges step, ceiling, and starting-value settings into the
// counter document.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if r == nil || r.provider == nil {
		return errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}

	payload := map[string]any{"updatedAt": time.Now().UTC()}
	if cfg.Step > 0 {
		payload["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		payload["maxValue"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		payload["currentValue"] = *cfg.InitialValue
	}

	ref, err := r.counters.Ref(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, payload, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("counters.configure", err)
	}
	return nil
}
