package optimizer

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"
)

// maxEditDistanceCells caps the rune-count product for which the edit
// distance is computed; larger pairs are recorded without one.
const maxEditDistanceCells = 25_000_000

// report forwards a checkpoint to the progress sink. The percentage is
// clamped so it never goes backwards, and sink failures never reach the run.
func (r *run) report(ctx context.Context, message string, percent float64) {
	if percent < r.lastPct {
		percent = r.lastPct
	}
	r.lastPct = percent
	if r.progress == nil {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Warn("optimizer: progress callback panicked",
				zap.String("message", message),
				zap.Any("panic", p),
			)
		}
	}()
	if err := r.progress(ctx, message, percent); err != nil {
		r.log.Warn("optimizer: progress callback failed",
			zap.String("message", message),
			zap.Float64("percent", percent),
			zap.Error(err),
		)
	}
}

func progressMessage(step string, i, n int) string {
	return fmt.Sprintf("%s (iteration %d/%d)", step, i, n)
}

func editDistance(before, after string) *int {
	if utf8.RuneCountInString(before)*utf8.RuneCountInString(after) > maxEditDistanceCells {
		return nil
	}
	d := levenshtein.ComputeDistance(before, after)
	return &d
}
