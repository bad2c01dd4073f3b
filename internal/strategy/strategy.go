// Package strategy defines the Strategy interface for signal providers and a
// Registry of factories that build them from parameter sets.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tradelab/internal/domain"
)

// History gives a strategy read access to past bars. Window never returns
// bars dated after date.
type History interface {
	Window(ticker string, date time.Time, n int) []domain.Bar
}

// Strategy is the interface that all signal providers must implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Lookback returns how many bars the strategy needs before it can
	// produce a non-HOLD signal.
	Lookback() int

	// Signals returns a signal per ticker for date. prices holds the day's
	// close for every ticker with a usable bar. Tickers missing from the
	// result are treated as HOLD.
	Signals(ctx context.Context, date time.Time, prices map[string]float64, hist History) (map[string]domain.Signal, error)
}

// SignalFunc computes signals for one date.
type SignalFunc func(ctx context.Context, date time.Time, prices map[string]float64, hist History) (map[string]domain.Signal, error)

// Func adapts a plain function to the Strategy interface.
type Func struct {
	ID   string
	Bars int
	Fn   SignalFunc
}

// Compile-time interface check.
var _ Strategy = Func{}

func (f Func) Name() string  { return f.ID }
func (f Func) Lookback() int { return f.Bars }

func (f Func) Signals(ctx context.Context, date time.Time, prices map[string]float64, hist History) (map[string]domain.Signal, error) {
	return f.Fn(ctx, date, prices, hist)
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Factory builds a Strategy for one parameter set. Every call must return an
// independent instance so parallel runs share no state.
type Factory func(params domain.ParameterSet) (Strategy, error)

// Registry holds named strategy factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Get retrieves a factory by name.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// New builds the named strategy with params.
func (r *Registry) New(name string, params domain.ParameterSet) (Strategy, error) {
	f, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (have %v)", name, r.List())
	}
	s, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("building %s with %s: %w", name, params, err)
	}
	return s, nil
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
