package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"

	"github.com/sells-group/textopt/internal/automation/backends"
	"github.com/sells-group/textopt/internal/config"
	"github.com/sells-group/textopt/internal/cost"
	"github.com/sells-group/textopt/internal/model"
	"github.com/sells-group/textopt/internal/optimizer"
	"github.com/sells-group/textopt/internal/resilience"
	"github.com/sells-group/textopt/internal/rewrite"
	anthropicpkg "github.com/sells-group/textopt/pkg/anthropic"
)

// optimizerEnv holds the optimizer and the registry its metrics live in.
type optimizerEnv struct {
	Optimizer *optimizer.Optimizer
	Registry  *prometheus.Registry
}

// initOptimizer validates c for the command and builds the optimizer with
// the configured backend, Claude collaborators, retry budgets and pricing.
func initOptimizer(c *config.Config, command string) (*optimizerEnv, error) {
	if err := c.Validate(command); err != nil {
		return nil, err
	}

	factory, err := backends.NewFactory(c.Automation)
	if err != nil {
		return nil, err
	}

	// Score-only runs never call Claude, so the key is optional there.
	var collab rewrite.Collaborators
	if c.Anthropic.Key != "" {
		claude, err := rewrite.NewClaude(anthropicpkg.NewClient(c.Anthropic.Key, anthropicpkg.WithRateLimit(c.Anthropic.RatePerSec)), rewrite.ClaudeConfig{
			Model:     c.Anthropic.Model,
			MaxTokens: c.Anthropic.MaxTokens,
		})
		if err != nil {
			return nil, eris.Wrap(err, "init rewrite collaborators")
		}
		collab = claude.Collaborators()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opt, err := optimizer.New(factory, collab,
		optimizer.WithBudgets(budgetsFrom(c.Retry)),
		optimizer.WithCleanupTimeout(time.Duration(c.Retry.CleanupTimeoutSecs)*time.Second),
		optimizer.WithCalculator(cost.NewCalculator(ratesFrom(c.Pricing))),
		optimizer.WithMetrics(optimizer.NewMetrics(reg)),
	)
	if err != nil {
		return nil, eris.Wrap(err, "init optimizer")
	}

	return &optimizerEnv{Optimizer: opt, Registry: reg}, nil
}

func budgetsFrom(r config.RetryConfig) resilience.Budgets {
	return resilience.Budgets{
		Provider: resilience.FromRetryConfig(r.ProviderRetries, r.BackoffMs, "provider.new"),
		Session:  resilience.FromRetryConfig(r.SessionRetries, r.BackoffMs, "session.create"),
		Score:    resilience.FromRetryConfig(r.ScoreRetries, r.BackoffMs, "score.text"),
	}
}

// ratesFrom layers configured prices over the built-in table.
func ratesFrom(p config.PricingConfig) cost.Rates {
	anthropic := make(map[string]cost.ModelRate, len(p.Anthropic))
	for name, mp := range p.Anthropic {
		anthropic[name] = cost.ModelRate{
			Input:         mp.Input,
			Output:        mp.Output,
			CacheWriteMul: mp.CacheWriteMul,
			CacheReadMul:  mp.CacheReadMul,
		}
	}
	return cost.DefaultRates().Merge(anthropic, p.ScoringPass)
}

// defaultInput returns an input for mode pre-filled with the configured
// per-run defaults. Callers overlay their own values before validating.
func defaultInput(o config.OptimizeConfig, mode model.Mode) model.OptimizationInput {
	return model.OptimizationInput{
		Mode: mode,
		Ceilings: model.Ceilings{
			AI:         o.AIThreshold,
			Plagiarism: o.PlagiarismThreshold,
		},
		MaxIterations: o.MaxIterations,
		Tone:          model.Tone(o.Tone),
		StepCap:       o.StepCap,
		OutputFormat:  model.FormatPlain,
	}
}

func runTimeout(o config.OptimizeConfig) time.Duration {
	if o.TimeoutSecs <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(o.TimeoutSecs) * time.Second
}
