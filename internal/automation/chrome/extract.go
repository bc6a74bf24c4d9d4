package chrome

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/textopt/internal/automation"
	"github.com/sells-group/textopt/internal/model"
)

// fillScript sets the input's value and fires the events frameworks listen
// for. It evaluates to false when the selector matches nothing.
func fillScript(selector, text string) (string, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return "", eris.Wrap(err, "chrome: encode selector")
	}
	val, err := json.Marshal(text)
	if err != nil {
		return "", eris.Wrap(err, "chrome: encode text")
	}
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  el.focus();
  if ('value' in el) { el.value = %s; } else { el.innerText = %s; }
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
})()`, sel, val, val), nil
}

// extractScript reads the text content of both result selectors. Missing
// elements come back as null.
func extractScript(aiSelector, plagiarismSelector string) (string, error) {
	ai, err := json.Marshal(aiSelector)
	if err != nil {
		return "", eris.Wrap(err, "chrome: encode selector")
	}
	plag, err := json.Marshal(plagiarismSelector)
	if err != nil {
		return "", eris.Wrap(err, "chrome: encode selector")
	}
	return fmt.Sprintf(`(() => {
  const read = (s) => {
    if (!s) return null;
    const el = document.querySelector(s);
    return el ? el.textContent : null;
  };
  return { ai: read(%s), plagiarism: read(%s) };
})()`, ai, plag), nil
}

// extraction is the raw text read from the result selectors.
type extraction struct {
	AI         *string `json:"ai"`
	Plagiarism *string `json:"plagiarism"`
}

// result converts raw text to scores. It reports done once the AI result
// element holds a percentage; the plagiarism score is optional because not
// every detector renders it.
func (e extraction) result() (*automation.ScoreResult, bool) {
	ai, ok := parsePercent(e.AI)
	if !ok {
		return nil, false
	}
	plag, _ := parsePercent(e.Plagiarism)
	res := &automation.ScoreResult{Scores: model.NewScorePair(ai, plag)}

	var notes []string
	if e.Plagiarism == nil {
		notes = append(notes, "plagiarism result not shown")
	} else if plag == nil {
		notes = append(notes, fmt.Sprintf("unparsed plagiarism result %q", strings.TrimSpace(*e.Plagiarism)))
	}
	res.Notes = strings.Join(notes, "; ")
	return res, true
}

// staleAfter is how many unchanged readings in a row, with no loading state
// in between, mark a result as left over from the previous submission.
const staleAfter = 5

// resultWatch tells a result produced by the current submission apart from
// one still on the page from the previous pass. A reading counts once it
// differs from the pre-submit snapshot or follows a loading state.
type resultWatch struct {
	before    extraction
	pending   bool
	unchanged int
}

func newResultWatch(before extraction) *resultWatch {
	return &resultWatch{before: before}
}

func (w *resultWatch) observe(raw extraction) (*automation.ScoreResult, bool) {
	res, done := raw.result()
	if !done {
		w.pending = true
		return nil, false
	}
	if w.pending || !raw.same(w.before) {
		return res, true
	}
	w.unchanged++
	return nil, false
}

func (w *resultWatch) stale() bool {
	return !w.pending && w.unchanged >= staleAfter
}

func (e extraction) same(o extraction) bool {
	return sameText(e.AI, o.AI) && sameText(e.Plagiarism, o.Plagiarism)
}

func sameText(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return strings.TrimSpace(*a) == strings.TrimSpace(*b)
}

var percentRe = regexp.MustCompile(`(\d{1,3}(?:[.,]\d+)?)\s*%`)

// parsePercent extracts the first "NN%" or "NN.N %" figure from s.
func parsePercent(s *string) (*float64, bool) {
	if s == nil {
		return nil, false
	}
	m := percentRe.FindStringSubmatch(*s)
	if m == nil {
		return nil, false
	}
	v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return nil, false
	}
	return model.Percent(v), true
}
