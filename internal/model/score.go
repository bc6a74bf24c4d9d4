package model

import (
	"fmt"
	"math"
)

// ScorePair holds the two percentage measurements returned by one scoring
// pass. A nil field means the scoring surface did not report that value.
type ScorePair struct {
	AI         *float64 `json:"ai_score" yaml:"ai_score"`
	Plagiarism *float64 `json:"plagiarism_score" yaml:"plagiarism_score"`
}

// Percent returns a pointer to v when it is a valid percentage in [0,100],
// or nil otherwise.
func Percent(v float64) *float64 {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return nil
	}
	return &v
}

// NewScorePair builds a ScorePair from optional raw values, discarding any
// value outside [0,100].
func NewScorePair(ai, plagiarism *float64) ScorePair {
	var p ScorePair
	if ai != nil {
		p.AI = Percent(*ai)
	}
	if plagiarism != nil {
		p.Plagiarism = Percent(*plagiarism)
	}
	return p
}

// Empty reports whether neither score is present.
func (p ScorePair) Empty() bool {
	return p.AI == nil && p.Plagiarism == nil
}

func (p ScorePair) String() string {
	return fmt.Sprintf("ai=%s plagiarism=%s", formatPercent(p.AI), formatPercent(p.Plagiarism))
}

func formatPercent(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *v)
}

// Ceilings are the caller's maximum acceptable values for each score.
type Ceilings struct {
	AI         float64 `json:"ai" yaml:"ai" validate:"min=0,max=100"`
	Plagiarism float64 `json:"plagiarism" yaml:"plagiarism" validate:"min=0,max=100"`
}
