package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/textopt/internal/model"
	"github.com/sells-group/textopt/internal/threshold"
)

func checkFormat(format string) error {
	switch format {
	case "text", "json", "yaml":
		return nil
	default:
		return eris.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

// writeResult renders res to w as text, json or yaml.
func writeResult(w io.Writer, res *model.OptimizationResult, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(res), "encode json")
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	case "text":
		return writeText(w, res)
	default:
		return checkFormat(format)
	}
}

func writeText(w io.Writer, res *model.OptimizationResult) error {
	var b strings.Builder

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run\t%s\n", res.RunID)
	fmt.Fprintf(tw, "Mode\t%s\n", res.Mode)
	fmt.Fprintf(tw, "Provider\t%s\n", res.Provider)
	fmt.Fprintf(tw, "Scores\t%s\n", res.FinalScores)
	if res.Mode == model.ModeOptimize {
		fmt.Fprintf(tw, "Iterations\t%d\n", res.IterationsUsed)
	}
	fmt.Fprintf(tw, "Thresholds met\t%s\n", yesNo(res.ThresholdsMet))
	fmt.Fprintf(tw, "Cost\t$%.4f\n", res.CostUSD)
	fmt.Fprintf(tw, "Duration\t%s\n", res.Duration.Round(time.Millisecond))
	if res.LiveURL != nil {
		fmt.Fprintf(tw, "Live view\t%s\n", *res.LiveURL)
	}
	_ = tw.Flush()

	if len(res.History) > 1 {
		b.WriteString("\nHistory\n")
		tw = tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  #\tAI\tPlagiarism\tEdits\tNote")
		for _, rec := range res.History {
			edits := "-"
			if rec.EditDistance != nil {
				edits = fmt.Sprint(*rec.EditDistance)
			}
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\n",
				rec.Iteration, formatScore(rec.Scores.AI), formatScore(rec.Scores.Plagiarism), edits, oneLine(rec.Note, 60))
		}
		_ = tw.Flush()
	}

	if res.Notes != "" {
		b.WriteString("\nNotes\n")
		b.WriteString(strings.TrimSpace(res.Notes))
		b.WriteString("\n")
	}

	if res.Mode == model.ModeOptimize && res.IterationsUsed > 0 {
		b.WriteString("\nFinal text\n")
		b.WriteString(res.FinalText)
		if !strings.HasSuffix(res.FinalText, "\n") {
			b.WriteString("\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return eris.Wrap(err, "write result")
}

// formatScore mirrors the threshold breakdown's view of a missing score.
func formatScore(v *float64) string {
	if v == nil {
		return string(threshold.VerdictAbsent)
	}
	return fmt.Sprintf("%.1f%%", *v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
