package cost

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Tracker accumulates the spend of a single run. A nil *Tracker is valid and
// records nothing.
type Tracker struct {
	calc *Calculator

	mu      sync.Mutex
	byPhase map[string]float64
	total   float64
}

// NewTracker creates an empty tracker priced by calc.
func NewTracker(calc *Calculator) *Tracker {
	return &Tracker{calc: calc, byPhase: make(map[string]float64)}
}

// AddClaude records one Claude call and returns its cost.
func (t *Tracker) AddClaude(model, phase string, input, output, cacheWrite, cacheRead int64) float64 {
	if t == nil {
		return 0
	}
	c := t.calc.Claude(model, input, output, cacheWrite, cacheRead)
	t.add(phase, c)

	zap.L().Debug("cost attribution",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", input),
		zap.Int64("output_tokens", output),
		zap.Int64("cache_write_tokens", cacheWrite),
		zap.Int64("cache_read_tokens", cacheRead),
		zap.Float64("estimated_cost_usd", c),
	)
	return c
}

// AddScoringPass records one scoring pass on provider and returns its cost.
func (t *Tracker) AddScoringPass(provider string) float64 {
	if t == nil {
		return 0
	}
	c := t.calc.ScoringPass(provider)
	t.add("score", c)
	return c
}

func (t *Tracker) add(phase string, c float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPhase[phase] += c
	t.total += c
}

// Total returns the accumulated cost in USD.
func (t *Tracker) Total() float64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Breakdown returns a copy of the accumulated cost per phase.
func (t *Tracker) Breakdown() map[string]float64 {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.byPhase))
	for k, v := range t.byPhase {
		out[k] = v
	}
	return out
}

type trackerKey struct{}

// WithTracker returns a child context carrying t.
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// FromContext returns the tracker carried by ctx, or nil.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}
