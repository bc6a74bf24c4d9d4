package rewrite

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/textopt/internal/cost"
	"github.com/sells-group/textopt/pkg/anthropic"
)

const fallbackReasoning = "Revised phrasing and sentence structure to lower detector scores."

// ClaudeConfig configures the Claude-backed collaborators.
type ClaudeConfig struct {
	Model     string
	MaxTokens int64
	// CacheTTL is the prompt-cache lifetime for the system blocks ("5m" or
	// "1h"). Empty uses the API default.
	CacheTTL string
}

// Claude implements Rewriter, Analyzer and Summarizer on the Anthropic API.
type Claude struct {
	client anthropic.Client
	cfg    ClaudeConfig
}

var (
	_ Rewriter   = (*Claude)(nil)
	_ Analyzer   = (*Claude)(nil)
	_ Summarizer = (*Claude)(nil)
)

// NewClaude returns collaborators that call client with cfg.
func NewClaude(client anthropic.Client, cfg ClaudeConfig) (*Claude, error) {
	if client == nil {
		return nil, eris.New("rewrite: anthropic client is required")
	}
	if cfg.Model == "" {
		return nil, eris.New("rewrite: model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	return &Claude{client: client, cfg: cfg}, nil
}

// Collaborators returns c in all three roles.
func (c *Claude) Collaborators() Collaborators {
	return Collaborators{Rewriter: c, Analyzer: c, Summarizer: c}
}

// Rewrite implements Rewriter.
func (c *Claude) Rewrite(ctx context.Context, req Request) (*Rewrite, error) {
	prompt, err := render(rewriteTmpl, req)
	if err != nil {
		return nil, err
	}
	temp := 0.7
	raw, err := c.call(ctx, "rewrite", rewriteSystem, prompt, &temp)
	if err != nil {
		return nil, err
	}
	rw, err := parseRewrite(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "rewrite: iteration %d", req.Iteration)
	}
	return rw, nil
}

// Analyze implements Analyzer.
func (c *Claude) Analyze(ctx context.Context, req AnalysisRequest) (string, error) {
	prompt, err := render(analysisTmpl, req)
	if err != nil {
		return "", err
	}
	raw, err := c.call(ctx, "analysis", analysisSystem, prompt, nil)
	if err != nil {
		return "", err
	}
	out := normalize(raw)
	if out == "" {
		return "", eris.New("rewrite: empty analysis")
	}
	return out, nil
}

// Summarize implements Summarizer.
func (c *Claude) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	prompt, err := render(summaryTmpl, req)
	if err != nil {
		return "", err
	}
	raw, err := c.call(ctx, "summary", summarySystem, prompt, nil)
	if err != nil {
		return "", err
	}
	out := normalize(raw)
	if out == "" {
		return "", eris.New("rewrite: empty summary")
	}
	return out, nil
}

func (c *Claude) call(ctx context.Context, phase, system, prompt string, temperature *float64) (string, error) {
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(system, c.cfg.CacheTTL),
		Prompt:      prompt,
		Temperature: temperature,
	})
	if err != nil {
		return "", eris.Wrapf(err, "rewrite: %s", phase)
	}

	u := resp.Usage
	cost.FromContext(ctx).AddClaude(c.cfg.Model, phase,
		u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens)

	if resp.Truncated() {
		zap.L().Warn("rewrite: response truncated at max tokens",
			zap.String("phase", phase),
			zap.Int64("max_tokens", c.cfg.MaxTokens),
		)
	}
	return resp.Text(), nil
}

// parseRewrite extracts the JSON rewrite envelope from raw. When the model
// answered with bare prose the whole response is taken as the rewrite.
func parseRewrite(raw string) (*Rewrite, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, eris.New("empty response")
	}

	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		candidate := raw[start : end+1]
		if repaired, err := jsonrepair.JSONRepair(candidate); err == nil {
			var rw Rewrite
			if err := json.Unmarshal([]byte(repaired), &rw); err == nil && strings.TrimSpace(rw.Text) != "" {
				rw.Text = normalize(rw.Text)
				rw.Reasoning = strings.TrimSpace(rw.Reasoning)
				if rw.Reasoning == "" {
					rw.Reasoning = fallbackReasoning
				}
				return &rw, nil
			}
		}
		zap.L().Debug("rewrite: response is not a json envelope, using raw text")
	}

	return &Rewrite{Text: normalize(stripFences(raw)), Reasoning: fallbackReasoning}, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
