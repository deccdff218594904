package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/northmart/api/internal/repositories"
)

var (
	// ErrCounterInvalidInput flags bad sequence parameters from the caller.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted means the sequence hit its configured ceiling.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

const fallbackOrderPrefix = "NM"

// CounterServiceDeps lists the collaborators of the counter service.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
	// OrderNumberPrefix prefixes generated order numbers, e.g. NM-20260831-0001.
	OrderNumberPrefix string
}

// counterService mints sequence values. It remembers which counters it
// already configured so Configure is not re-sent on every increment.
type counterService struct {
	repo        repositories.CounterRepository
	clock       func() time.Time
	orderPrefix string

	mu     sync.Mutex
	synced map[string]counterSettings
}

type counterSettings struct {
	step    int64
	max     int64
	initial int64
	hasStep bool
	hasMax  bool
	hasInit bool
}

func settingsFrom(opts CounterGenerationOptions) counterSettings {
	settings := counterSettings{}
	if opts.Step > 0 {
		settings.step, settings.hasStep = opts.Step, true
	}
	if opts.MaxValue != nil {
		settings.max, settings.hasMax = *opts.MaxValue, true
	}
	if opts.InitialValue != nil {
		settings.initial, settings.hasInit = *opts.InitialValue, true
	}
	return settings
}

func (s counterSettings) empty() bool {
	return !s.hasStep && !s.hasMax && !s.hasInit
}

func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	prefix := strings.TrimSpace(deps.OrderNumberPrefix)
	if prefix == "" {
		prefix = fallbackOrderPrefix
	}

	return &counterService{
		repo:        deps.Repository,
		clock:       func() time.Time { return clock().UTC() },
		orderPrefix: prefix,
		synced:      make(map[string]counterSettings),
	}, nil
}

func (s *counterService) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	scope = strings.TrimSpace(scope)
	name = strings.TrimSpace(name)
	if scope == "" {
		return CounterValue{}, fmt.Errorf("%w: scope is required", ErrCounterInvalidInput)
	}
	if name == "" {
		return CounterValue{}, fmt.Errorf("%w: name is required", ErrCounterInvalidInput)
	}
	counterID := scope + ":" + name

	if err := s.syncSettings(ctx, counterID, settingsFrom(opts)); err != nil {
		return CounterValue{}, err
	}

	value, err := s.repo.Next(ctx, counterID, opts.Step)
	if err != nil {
		return CounterValue{}, translateCounterError(err)
	}

	return CounterValue{Value: value, Formatted: renderCounterValue(s.clock(), value, opts)}, nil
}

// NextOrderNumber mints the next order number. Sequences restart each
// calendar day, so numbers read NM-YYYYMMDD-NNNN.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	day := s.clock().Format("20060102")
	result, err := s.Next(ctx, "orders", day, CounterGenerationOptions{
		Step: 1,
		Formatter: func(_ time.Time, seq int64) string {
			return fmt.Sprintf("%s-%s-%04d", s.orderPrefix, day, seq)
		},
	})
	if err != nil {
		return "", err
	}
	return result.Formatted, nil
}

func (s *counterService) syncSettings(ctx context.Context, counterID string, settings counterSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.synced[counterID]; ok && current == settings {
		return nil
	}

	if !settings.empty() {
		cfg := repositories.CounterConfig{}
		if settings.hasStep {
			cfg.Step = settings.step
		}
		if settings.hasMax {
			cfg.MaxValue = &settings.max
		}
		if settings.hasInit {
			cfg.InitialValue = &settings.initial
		}
		if err := s.repo.Configure(ctx, counterID, cfg); err != nil {
			return err
		}
	}
	s.synced[counterID] = settings
	return nil
}

func translateCounterError(err error) error {
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		switch counterErr.Code {
		case repositories.CounterErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
		case repositories.CounterErrorExhausted:
			return fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
		}
	}
	return err
}

func renderCounterValue(now time.Time, value int64, opts CounterGenerationOptions) string {
	if opts.Formatter != nil {
		return opts.Formatter(now, value)
	}
	formatted := strconv.FormatInt(value, 10)
	if opts.PadLength > 0 {
		formatted = fmt.Sprintf("%0*d", opts.PadLength, value)
	}
	return opts.Prefix + formatted + opts.Suffix
}
