// Package taskagent is the natural-language automation backend: each scoring
// pass is delegated to a hosted browser agent as a plain-language task.
package taskagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"text/template"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/textopt/internal/automation"
	"github.com/sells-group/textopt/internal/model"
	"github.com/sells-group/textopt/internal/resilience"
	"github.com/sells-group/textopt/pkg/browseragent"
)

// Name is the registry key for this backend.
const Name = "taskagent"

const (
	defaultMaxSteps = 25
	stopTaskTimeout = 15 * time.Second
	stopTaskBackoff = 250 * time.Millisecond
)

// Config configures the backend.
type Config struct {
	DetectorURL  string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Provider implements automation.Provider on top of a browseragent.Client.
type Provider struct {
	client browseragent.Client
	cfg    Config
}

var _ automation.Provider = (*Provider)(nil)

// New returns a provider that delegates to client.
func New(client browseragent.Client, cfg Config) (*Provider, error) {
	if client == nil {
		return nil, eris.New("taskagent: client is required")
	}
	if cfg.DetectorURL == "" {
		return nil, eris.New("taskagent: detector url is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Minute
	}
	return &Provider{client: client, cfg: cfg}, nil
}

// Name implements automation.Provider.
func (p *Provider) Name() string { return Name }

// CreateSession opens a hosted browser session. A session the API reports as
// already failed is stopped before the error is returned.
func (p *Provider) CreateSession(ctx context.Context, opts automation.SessionOptions) (*model.Session, error) {
	view, err := p.client.CreateSession(ctx, browseragent.CreateSessionRequest{
		ProxyCountryCode: strings.ToLower(opts.ProxyCountry),
	})
	if err != nil {
		return nil, err
	}
	if view.ID == "" {
		return nil, eris.New("taskagent: session response missing id")
	}
	if view.Status == "failed" || view.Status == "stopped" {
		p.CloseSession(ctx, view.ID)
		return nil, resilience.NewTransientError(eris.Errorf("taskagent: session %s came up %s", view.ID, view.Status), 0)
	}

	sess := &model.Session{ID: view.ID}
	if view.LiveURL != "" {
		live := view.LiveURL
		sess.LiveURL = &live
	}
	if view.ProfileID != "" {
		profile := view.ProfileID
		sess.ContextID = &profile
	}
	return sess, nil
}

// ScoreText runs one scoring task in the session and parses the agent's
// JSON report.
func (p *Provider) ScoreText(ctx context.Context, sessionID, text string, opts automation.ScoreOptions) (*automation.ScoreResult, error) {
	instruction, err := renderTask(taskData{
		DetectorURL: p.cfg.DetectorURL,
		Text:        text,
		FastPath:    opts.FastPath,
		ScoreOnly:   opts.Mode == model.ModeScoreOnly,
	})
	if err != nil {
		return nil, err
	}

	steps := opts.StepCap
	if steps <= 0 {
		steps = defaultMaxSteps
	}

	created, err := p.client.CreateTask(ctx, browseragent.CreateTaskRequest{
		Task:      instruction,
		SessionID: sessionID,
		MaxSteps:  steps,
	})
	if err != nil {
		return nil, err
	}

	task, err := browseragent.PollTask(ctx, p.client, created.ID,
		browseragent.WithPollInterval(p.cfg.PollInterval),
		browseragent.WithPollTimeout(p.cfg.PollTimeout),
	)
	if err != nil {
		if !errors.Is(err, browseragent.ErrTaskStopped) {
			p.stopTask(ctx, sessionID, created.ID)
		}
		return nil, resilience.NewTransientError(err, 0)
	}
	if task.IsSuccess != nil && !*task.IsSuccess {
		p.stopTask(ctx, sessionID, task.ID)
		return nil, resilience.NewTransientError(eris.Errorf("taskagent: task %s reported failure: %s", task.ID, truncate(task.Output, 200)), 0)
	}

	res, err := parseReport(task.Output)
	if err != nil {
		return nil, eris.Wrapf(err, "taskagent: task %s", task.ID)
	}
	zap.L().Debug("taskagent: scores reported",
		zap.String("session_id", sessionID),
		zap.String("task_id", task.ID),
		zap.Int("iteration", opts.Iteration),
		zap.Int("steps", len(task.Steps)),
		zap.Stringer("scores", res.Scores),
	)
	return res, nil
}

// stopTask stops a task that may still be running so that a retried pass
// never overlaps it in the same session. It runs even when ctx is done.
func (p *Provider) stopTask(ctx context.Context, sessionID, taskID string) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTaskTimeout)
	defer cancel()

	err := resilience.Do(stopCtx, resilience.RetryOptions{MaxRetries: 1, Backoff: stopTaskBackoff, Label: "task.stop"},
		func(ctx context.Context) error {
			_, err := p.client.StopTask(ctx, taskID)
			return err
		})
	if err != nil {
		zap.L().Warn("taskagent: stop task",
			zap.String("session_id", sessionID),
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
}

// CloseSession stops the hosted session. A 404 means it is already gone.
func (p *Provider) CloseSession(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	if _, err := p.client.StopSession(ctx, sessionID); err != nil {
		var apiErr *browseragent.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return
		}
		zap.L().Warn("taskagent: stop session", zap.String("session_id", sessionID), zap.Error(err))
	}
}

type taskData struct {
	DetectorURL string
	Text        string
	FastPath    bool
	ScoreOnly   bool
}

var taskTemplate = template.Must(template.New("task").Parse(`{{if .FastPath}}The AI detector at {{.DetectorURL}} is already open in the current tab; clear its text box before continuing.{{else}}Open {{.DetectorURL}}.{{end}}
Paste the text between the <document> tags into the detector's input box exactly as given, then start the check.
Wait until the results are fully shown. Do not edit the text and do not sign up for anything.
{{if .ScoreOnly}}Only read the results; do not use any rewrite or humanize feature.
{{end}}When done, reply with only this JSON object:
{"ai_score": <AI-generated percentage 0-100 or null>, "plagiarism_score": <plagiarism percentage 0-100 or null>, "notes": "<anything unusual you saw>"}

<document>
{{.Text}}
</document>`))

func renderTask(d taskData) (string, error) {
	var buf bytes.Buffer
	if err := taskTemplate.Execute(&buf, d); err != nil {
		return "", eris.Wrap(err, "taskagent: render task")
	}
	return buf.String(), nil
}

type report struct {
	AIScore         *float64 `json:"ai_score"`
	PlagiarismScore *float64 `json:"plagiarism_score"`
	Notes           string   `json:"notes"`
}

// parseReport pulls the JSON object out of the agent's free-text output,
// repairing the usual LLM formatting slips.
func parseReport(output string) (*automation.ScoreResult, error) {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start < 0 || end < start {
		return nil, eris.Errorf("no JSON object in agent output %q", truncate(output, 200))
	}

	repaired, err := jsonrepair.JSONRepair(output[start : end+1])
	if err != nil {
		return nil, eris.Wrap(err, "repair agent output")
	}
	var r report
	if err := json.Unmarshal([]byte(repaired), &r); err != nil {
		return nil, eris.Wrap(err, "decode agent output")
	}
	return &automation.ScoreResult{
		Scores: model.NewScorePair(r.AIScore, r.PlagiarismScore),
		Notes:  strings.TrimSpace(r.Notes),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
