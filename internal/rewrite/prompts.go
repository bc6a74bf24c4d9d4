package rewrite

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
)

const rewriteSystem = `You are an expert editor. You revise documents so that they read as
natural, original human writing while preserving every fact, claim, name,
number and citation in the source. You never add new information and never
drop information. You reply with JSON only.`

const analysisSystem = `You are an expert editor who explains why automated detectors flag a
document as machine-written or unoriginal. You do not rewrite the document.`

const summarySystem = `You report the outcome of an automated text optimization run to the
person who requested it. Be concise and concrete.`

var funcs = template.FuncMap{
	"score":  formatScore,
	"hasAny": func(s string) bool { return strings.TrimSpace(s) != "" },
}

var rewriteTmpl = template.Must(template.New("rewrite").Funcs(funcs).Parse(`Rewrite the document below.

Current scores: AI {{score .LastScores.AI}}, plagiarism {{score .LastScores.Plagiarism}}.
Targets: AI at or below {{printf "%g" .Ceilings.AI}}%, plagiarism at or below {{printf "%g" .Ceilings.Plagiarism}}%.
This is pass {{.Iteration}} of at most {{.MaxIterations}}.
Tone: {{.Tone}}.
{{- if hasAny .DomainHint}}
Domain: {{.DomainHint}}.
{{- end}}
{{- if eq (print .OutputFormat) "markdown"}}
Keep the Markdown structure (headings, lists, links) intact.
{{- else}}
Return plain text without Markdown.
{{- end}}
{{- if hasAny .CustomInstructions}}

Additional instructions from the author:
{{.CustomInstructions}}
{{- end}}

Respond with a JSON object:
{"rewritten_text": "<the full revised document>", "reasoning": "<one or two sentences on what you changed and why>"}

<document>
{{.OriginalText}}
</document>`))

var analysisTmpl = template.Must(template.New("analysis").Funcs(funcs).Parse(`Analyze the document below.

Detector scores: AI {{score .Scores.AI}}, plagiarism {{score .Scores.Plagiarism}}.
Targets: AI at or below {{printf "%g" .Ceilings.AI}}%, plagiarism at or below {{printf "%g" .Ceilings.Plagiarism}}%.
Intended tone: {{.Tone}}.
{{- if hasAny .DomainHint}}
Domain: {{.DomainHint}}.
{{- end}}

Explain which passages most likely drive each score and what specific
changes would bring the document under the targets. Use short sections.

<document>
{{.Text}}
</document>`))

var summaryTmpl = template.Must(template.New("summary").Funcs(funcs).Parse(`Mode: {{.Mode}}.
Rewrite passes used: {{.IterationsUsed}}.
Targets: AI at or below {{printf "%g" .Ceilings.AI}}%, plagiarism at or below {{printf "%g" .Ceilings.Plagiarism}}%.
Targets met: {{if .ThresholdsMet}}yes{{else}}no{{end}}.

Score history:
{{- range .History}}
- pass {{.Iteration}}: AI {{score .Scores.AI}}, plagiarism {{score .Scores.Plagiarism}}{{if hasAny .Note}} ({{.Note}}){{end}}
{{- end}}

Final text:
<document>
{{.FinalText}}
</document>

Write a short summary for the author: how the scores moved, whether the
targets were reached, and what they may want to check by hand.`))

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", eris.Wrapf(err, "rewrite: render %s prompt", t.Name())
	}
	return buf.String(), nil
}

func formatScore(v *float64) string {
	if v == nil {
		return "unavailable"
	}
	return fmt.Sprintf("%.1f%%", *v)
}
