// Package rewrite defines the text-generation collaborators the optimizer
// calls between scoring passes, plus a Claude-backed implementation.
package rewrite

import (
	"context"

	"github.com/sells-group/textopt/internal/model"
)

// Request is the input to one rewrite pass.
type Request struct {
	// OriginalText is the current text, which after the first pass is the
	// previous rewrite rather than the caller's input.
	OriginalText       string
	LastScores         model.ScorePair
	Ceilings           model.Ceilings
	Tone               model.Tone
	DomainHint         string
	CustomInstructions string
	MaxIterations      int
	Iteration          int
	OutputFormat       model.OutputFormat
}

// Rewrite is the output of one rewrite pass.
type Rewrite struct {
	Text      string `json:"rewritten_text"`
	Reasoning string `json:"reasoning"`
}

// AnalysisRequest is the input to a one-shot analysis.
type AnalysisRequest struct {
	Text       string
	Scores     model.ScorePair
	Ceilings   model.Ceilings
	Tone       model.Tone
	DomainHint string
}

// SummaryRequest is the input to the end-of-run summary.
type SummaryRequest struct {
	Mode           model.Mode
	IterationsUsed int
	ThresholdsMet  bool
	History        []model.IterationRecord
	FinalText      string
	Ceilings       model.Ceilings
}

// Rewriter produces a revised text aimed at lowering both scores.
type Rewriter interface {
	Rewrite(ctx context.Context, req Request) (*Rewrite, error)
}

// Analyzer explains what drives a text's scores without changing it.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (string, error)
}

// Summarizer turns a run's history into user-facing notes.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (string, error)
}

// Collaborators groups the three capabilities the optimizer needs.
type Collaborators struct {
	Rewriter   Rewriter
	Analyzer   Analyzer
	Summarizer Summarizer
}
