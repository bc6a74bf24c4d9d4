package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic   map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	ScoringPass map[string]float64   `yaml:"scoring_pass" mapstructure:"scoring_pass"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int64) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// ScoringPass returns the flat cost of one scoring pass on the named
// automation backend.
func (c *Calculator) ScoringPass(provider string) float64 {
	return c.rates.ScoringPass[provider]
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		ScoringPass: map[string]float64{
			"chrome":    0,
			"taskagent": 0.02,
		},
	}
}

// Merge returns a copy of r with the given overrides applied. Zero-valued
// override maps leave r unchanged.
func (r Rates) Merge(anthropic map[string]ModelRate, scoring map[string]float64) Rates {
	out := Rates{
		Anthropic:   make(map[string]ModelRate, len(r.Anthropic)+len(anthropic)),
		ScoringPass: make(map[string]float64, len(r.ScoringPass)+len(scoring)),
	}
	for k, v := range r.Anthropic {
		out.Anthropic[k] = v
	}
	for k, v := range anthropic {
		out.Anthropic[k] = v
	}
	for k, v := range r.ScoringPass {
		out.ScoringPass[k] = v
	}
	for k, v := range scoring {
		out.ScoringPass[k] = v
	}
	return out
}
