// Package breaker implements the per-dependency circuit breaker from spec
// §4.C, wrapping sony/gobreaker with the specific state-machine defaults and
// "expected error" classification the spec requires.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
	"github.com/fluxcode/transcoder/pkg/metrics"
)

// ErrCircuitOpen is returned when a call is rejected because the breaker is
// open.
var ErrCircuitOpen = apperrors.New(apperrors.KindNetwork, "circuit open").WithDetails("CIRCUIT_OPEN")

// Settings configures a single breaker.
type Settings struct {
	// FailureThreshold is the count of consecutive failures that trips the
	// breaker from closed to open. Default 5.
	FailureThreshold uint32
	// RecoveryTimeout is how long the breaker stays open before allowing a
	// single half-open probe. Default 60s.
	RecoveryTimeout time.Duration
	// IsExpectedFailure classifies whether an error returned by the
	// protected call counts against the failure threshold; other errors
	// propagate without affecting breaker state. Defaults to "all errors
	// count" when nil.
	IsExpectedFailure func(error) bool
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.RecoveryTimeout == 0 {
		s.RecoveryTimeout = 60 * time.Second
	}
	if s.IsExpectedFailure == nil {
		s.IsExpectedFailure = func(error) bool { return true }
	}
	return s
}

// Breaker wraps a single gobreaker.CircuitBreaker with the classification
// rule from spec §4.C.
type Breaker struct {
	name     string
	cb       *gobreaker.CircuitBreaker
	expected func(error) bool
}

func newBreaker(name string, settings Settings) *Breaker {
	settings = settings.withDefaults()
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // exactly one probe call in half-open
		Interval:    0,
		Timeout:     settings.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RecordBreakerState(name, stateName(to))
		},
	}
	return &Breaker{name: name, cb: gobreaker.NewCircuitBreaker(st), expected: settings.IsExpectedFailure}
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Call executes fn through the breaker. If the breaker is open, it fails
// fast with ErrCircuitOpen without invoking fn. An error from fn only
// counts toward tripping the breaker if Settings.IsExpectedFailure
// classifies it as such; other errors propagate to the caller without
// affecting breaker state, since gobreaker is told such calls succeeded.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	var sideChannel error
	_, err := b.cb.Execute(func() (interface{}, error) {
		callErr := fn(ctx)
		if callErr != nil && !b.expected(callErr) {
			sideChannel = callErr
			return nil, nil // unexpected errors never affect breaker state
		}
		return nil, callErr
	})
	if sideChannel != nil {
		return sideChannel
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrCircuitOpen
		}
		return err
	}
	return nil
}

// Name returns the breaker's registry key.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current breaker state as one of "closed", "open",
// "half_open".
func (b *Breaker) State() string {
	return stateName(b.cb.State())
}

// Statistics exposes the current failure counters.
func (b *Breaker) Statistics() gobreaker.Counts {
	return b.cb.Counts()
}

// Registry owns named Breaker instances, constructing them lazily on first
// use with the given default settings.
type Registry struct {
	defaults Settings
	breakers map[string]*Breaker
}

// NewRegistry constructs a Registry. defaults apply to any breaker created
// via Get that hasn't been explicitly configured via GetOrCreate.
func NewRegistry(defaults Settings) *Registry {
	return &Registry{defaults: defaults, breakers: make(map[string]*Breaker)}
}

// Get returns the named breaker, creating it with the registry's default
// settings if it doesn't exist yet.
func (r *Registry) Get(name string) *Breaker {
	return r.GetOrCreate(name, r.defaults)
}

// GetOrCreate returns the named breaker, creating it with settings if it
// doesn't exist yet. An existing breaker's settings are not changed.
func (r *Registry) GetOrCreate(name string, settings Settings) *Breaker {
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := newBreaker(name, settings)
	r.breakers[name] = b
	return b
}
