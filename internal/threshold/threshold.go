// Package threshold decides whether a scoring pass meets the caller's
// ceilings.
package threshold

import (
	"go.uber.org/zap"

	"github.com/sells-group/textopt/internal/model"
)

// Verdict is the outcome for a single score.
type Verdict string

const (
	VerdictPass   Verdict = "pass"
	VerdictFail   Verdict = "fail"
	VerdictAbsent Verdict = "absent"
)

// Breakdown is the per-score view of one evaluation.
type Breakdown struct {
	AI         Verdict `json:"ai"`
	Plagiarism Verdict `json:"plagiarism"`
	Met        bool    `json:"met"`
}

// Met reports whether scores satisfy ceilings. A present score passes when
// it is at or below its ceiling. An absent score passes on its own, but when
// both are absent there is no evidence of compliance and the result is
// false.
func Met(scores model.ScorePair, ceilings model.Ceilings) bool {
	return Evaluate(scores, ceilings).Met
}

// Evaluate returns the per-score verdicts alongside the overall result.
func Evaluate(scores model.ScorePair, ceilings model.Ceilings) Breakdown {
	b := Breakdown{
		AI:         verdict(scores.AI, ceilings.AI),
		Plagiarism: verdict(scores.Plagiarism, ceilings.Plagiarism),
	}
	if scores.Empty() {
		zap.L().Debug("threshold: no scores available, treating as not met")
		return b
	}
	b.Met = b.AI != VerdictFail && b.Plagiarism != VerdictFail
	return b
}

func verdict(score *float64, ceiling float64) Verdict {
	switch {
	case score == nil:
		return VerdictAbsent
	case *score <= ceiling:
		return VerdictPass
	default:
		return VerdictFail
	}
}
