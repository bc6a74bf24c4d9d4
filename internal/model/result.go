package model

import "time"

// BaselineNote is the history note recorded for iteration 0.
const BaselineNote = "baseline"

// IterationRecord is one entry of a run's audit trail.
type IterationRecord struct {
	Iteration int       `json:"iteration" yaml:"iteration"`
	Scores    ScorePair `json:"scores" yaml:"scores"`
	Note      string    `json:"note" yaml:"note"`

	// EditDistance is the Levenshtein distance between the text before and
	// after this iteration's rewrite. Nil for the baseline.
	EditDistance *int `json:"edit_distance,omitempty" yaml:"edit_distance,omitempty"`
}

// Session is the handle a provider returns for one run's automation
// resources.
type Session struct {
	ID        string  `json:"session_id" yaml:"session_id"`
	LiveURL   *string `json:"live_url,omitempty" yaml:"live_url,omitempty"`
	ContextID *string `json:"context_id,omitempty" yaml:"context_id,omitempty"`
}

// OptimizationResult is the terminal output of a successful run.
type OptimizationResult struct {
	RunID          string            `json:"run_id" yaml:"run_id"`
	Mode           Mode              `json:"mode" yaml:"mode"`
	FinalText      string            `json:"final_text" yaml:"final_text"`
	FinalScores    ScorePair         `json:"final_scores" yaml:"final_scores"`
	IterationsUsed int               `json:"iterations_used" yaml:"iterations_used"`
	ThresholdsMet  bool              `json:"thresholds_met" yaml:"thresholds_met"`
	History        []IterationRecord `json:"history" yaml:"history"`
	Notes          string            `json:"notes" yaml:"notes"`
	LiveURL        *string           `json:"live_url,omitempty" yaml:"live_url,omitempty"`
	Provider       string            `json:"provider" yaml:"provider"`
	CostUSD        float64           `json:"cost_usd" yaml:"cost_usd"`
	Duration       time.Duration     `json:"duration_ns" yaml:"duration"`
}
