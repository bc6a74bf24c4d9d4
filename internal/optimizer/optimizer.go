// Package optimizer runs the measure, rewrite, re-measure loop: it acquires
// an automation session, scores the text, and depending on the mode stops,
// asks for an analysis, or rewrites until the ceilings are met or the
// iteration budget is spent. The session is always released.
package optimizer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sells-group/textopt/internal/automation"
	"github.com/sells-group/textopt/internal/cost"
	"github.com/sells-group/textopt/internal/model"
	"github.com/sells-group/textopt/internal/resilience"
	"github.com/sells-group/textopt/internal/rewrite"
	"github.com/sells-group/textopt/internal/threshold"
)

// ErrMissingCollaborator is returned before any automation work when the
// requested mode needs a collaborator the optimizer was built without.
var ErrMissingCollaborator = eris.New("optimizer: missing collaborator")

// ErrUnknownMode is returned before any automation work for a mode the
// optimizer does not implement.
var ErrUnknownMode = eris.New("optimizer: unknown mode")

// Progress checkpoints, in percent.
const (
	pctSession   = 5
	pctBaseline  = 15
	pctAnalysis  = 60
	pctLoopStart = 20
	pctLoopEnd   = 90
	pctSummary   = 92
	pctComplete  = 100
)

// DefaultCleanupTimeout bounds session teardown.
const DefaultCleanupTimeout = 30 * time.Second

// ProgressFunc receives checkpoint updates. Percentages never decrease
// within a run. Errors and panics from the callback are logged and ignored.
type ProgressFunc func(ctx context.Context, message string, percent float64) error

// Optimizer runs optimization requests. It holds no per-run state, so one
// Optimizer may serve concurrent runs.
type Optimizer struct {
	factory        automation.Factory
	collab         rewrite.Collaborators
	budgets        resilience.Budgets
	cleanupTimeout time.Duration
	calc           *cost.Calculator
	log            *zap.Logger
	metrics        *Metrics
	tracer         trace.Tracer
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger. Defaults to zap.L() at construction.
func WithLogger(l *zap.Logger) Option {
	return func(o *Optimizer) {
		if l != nil {
			o.log = l
		}
	}
}

// WithBudgets sets the retry budgets for provider construction, session
// creation and scoring.
func WithBudgets(b resilience.Budgets) Option {
	return func(o *Optimizer) { o.budgets = b }
}

// WithCleanupTimeout bounds how long session teardown may take.
func WithCleanupTimeout(d time.Duration) Option {
	return func(o *Optimizer) {
		if d > 0 {
			o.cleanupTimeout = d
		}
	}
}

// WithCalculator prices runs whose context carries no cost.Tracker.
func WithCalculator(c *cost.Calculator) Option {
	return func(o *Optimizer) {
		if c != nil {
			o.calc = c
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Optimizer) { o.metrics = m }
}

// WithTracer sets the OpenTelemetry tracer. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Optimizer) {
		if t != nil {
			o.tracer = t
		}
	}
}

// New creates an Optimizer that obtains providers from factory. Collaborators
// may be left nil when the modes that need them are never requested.
func New(factory automation.Factory, collab rewrite.Collaborators, opts ...Option) (*Optimizer, error) {
	if factory == nil {
		return nil, eris.New("optimizer: factory is required")
	}
	o := &Optimizer{
		factory:        factory,
		collab:         collab,
		budgets:        resilience.DefaultBudgets(),
		cleanupTimeout: DefaultCleanupTimeout,
		calc:           cost.NewCalculator(cost.DefaultRates()),
		log:            zap.L(),
		tracer:         otel.Tracer("github.com/sells-group/textopt/internal/optimizer"),
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, b := range []resilience.RetryOptions{o.budgets.Provider, o.budgets.Session, o.budgets.Score} {
		if err := b.Validate(); err != nil {
			return nil, eris.Wrapf(err, "optimizer: budget %q", b.Label)
		}
	}
	return o, nil
}

// run carries the state of one Run invocation.
type run struct {
	o        *Optimizer
	in       model.OptimizationInput
	id       string
	log      *zap.Logger
	progress ProgressFunc
	lastPct  float64
	tracker  *cost.Tracker

	provider automation.Provider
	session  *model.Session
	history  []model.IterationRecord
}

// Run executes one optimization. in must already be validated. A run that
// exhausts its iteration budget without meeting the ceilings is a success
// with ThresholdsMet false; failures of the provider, the session, scoring
// or a collaborator are returned as errors. Retry-exhausted automation
// errors are returned exactly as the provider produced them.
func (o *Optimizer) Run(ctx context.Context, in model.OptimizationInput, progress ProgressFunc) (*model.OptimizationResult, error) {
	if err := o.checkMode(in.Mode); err != nil {
		return nil, err
	}

	start := time.Now()
	r := &run{
		o:        o,
		in:       in,
		id:       uuid.NewString(),
		progress: progress,
	}
	r.log = o.log.With(zap.String("run_id", r.id), zap.String("mode", string(in.Mode)))

	r.tracker = cost.FromContext(ctx)
	if r.tracker == nil {
		r.tracker = cost.NewTracker(o.calc)
		ctx = cost.WithTracker(ctx, r.tracker)
	}

	ctx, span := o.tracer.Start(ctx, "optimizer.Run", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.String("run.mode", string(in.Mode)),
		attribute.Int("run.max_iterations", in.MaxIterations),
	))
	defer span.End()

	o.metrics.runStarted()
	r.log.Info("optimizer: run started",
		zap.Int("text_len", len(in.Text)),
		zap.Float64("ai_ceiling", in.Ceilings.AI),
		zap.Float64("plagiarism_ceiling", in.Ceilings.Plagiarism),
	)

	res, err := r.execute(ctx)

	elapsed := time.Since(start)
	outcome := outcomeError
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Error("optimizer: run failed", zap.Error(err), zap.Duration("elapsed", elapsed))
	case res.ThresholdsMet:
		outcome = outcomeMet
	default:
		outcome = outcomeNotMet
	}
	o.metrics.runFinished(string(in.Mode), outcome, elapsed)
	if err != nil {
		return nil, err
	}

	res.Duration = elapsed
	res.CostUSD = r.tracker.Total()
	span.SetAttributes(
		attribute.Int("run.iterations_used", res.IterationsUsed),
		attribute.Bool("run.thresholds_met", res.ThresholdsMet),
	)
	r.log.Info("optimizer: run complete",
		zap.String("provider", res.Provider),
		zap.Int("iterations_used", res.IterationsUsed),
		zap.Bool("thresholds_met", res.ThresholdsMet),
		zap.Stringer("final_scores", res.FinalScores),
		zap.Float64("cost_usd", res.CostUSD),
		zap.Duration("elapsed", elapsed),
	)
	r.report(ctx, "Complete", pctComplete)
	return res, nil
}

func (o *Optimizer) checkMode(mode model.Mode) error {
	switch mode {
	case model.ModeScoreOnly:
		return nil
	case model.ModeAnalyze:
		if o.collab.Analyzer == nil {
			return eris.Wrap(ErrMissingCollaborator, "analyze mode needs an analyzer")
		}
	case model.ModeOptimize:
		if o.collab.Rewriter == nil || o.collab.Summarizer == nil {
			return eris.Wrap(ErrMissingCollaborator, "optimize mode needs a rewriter and a summarizer")
		}
	default:
		return eris.Wrapf(ErrUnknownMode, "%q", mode)
	}
	return nil
}

// execute is the state machine. The deferred cleanup runs on every path
// once a session exists.
func (r *run) execute(ctx context.Context) (*model.OptimizationResult, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.cleanup(ctx)

	r.report(ctx, "Scoring original text", pctBaseline)
	baseline, err := r.score(ctx, r.in.Text, 0)
	if err != nil {
		return nil, err
	}
	r.history = append(r.history, model.IterationRecord{
		Iteration: 0,
		Scores:    baseline.Scores,
		Note:      model.BaselineNote,
	})
	met := threshold.Met(baseline.Scores, r.in.Ceilings)
	r.log.Info("optimizer: baseline scored",
		zap.Stringer("scores", baseline.Scores),
		zap.Bool("thresholds_met", met),
	)

	switch r.in.Mode {
	case model.ModeScoreOnly:
		return r.result(r.in.Text, baseline.Scores, 0, met, baseline.Notes), nil
	case model.ModeAnalyze:
		return r.analyze(ctx, baseline.Scores, met)
	default:
		return r.optimize(ctx, baseline.Scores, met)
	}
}

// acquire builds the provider and opens a session, each under its own
// retry budget.
func (r *run) acquire(ctx context.Context) error {
	ctx, span := r.o.tracer.Start(ctx, "optimizer.acquire")
	defer span.End()

	provider, err := resilience.Retry(ctx, r.retryOpts(r.o.budgets.Provider), func(ctx context.Context) (automation.Provider, error) {
		return r.o.factory.New(ctx)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	r.provider = provider
	r.log = r.log.With(zap.String("provider", provider.Name()))
	span.SetAttributes(attribute.String("provider", provider.Name()))

	r.report(ctx, "Creating automation session", pctSession)
	session, err := resilience.Retry(ctx, r.retryOpts(r.o.budgets.Session), func(ctx context.Context) (*model.Session, error) {
		return provider.CreateSession(ctx, automation.SessionOptions{ProxyCountry: r.in.ProxyCountry})
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if session == nil || session.ID == "" {
		return eris.Errorf("optimizer: %s returned an empty session", provider.Name())
	}
	r.session = session
	r.log = r.log.With(zap.String("session_id", session.ID))
	r.log.Debug("optimizer: session created")
	return nil
}

// score runs one scoring pass on text under the score retry budget.
func (r *run) score(ctx context.Context, text string, iteration int) (*automation.ScoreResult, error) {
	ctx, span := r.o.tracer.Start(ctx, "optimizer.score", trace.WithAttributes(
		attribute.Int("iteration", iteration),
	))
	defer span.End()

	opts := automation.ScoreOptions{
		StepCap:   r.in.StepCap,
		Iteration: iteration,
		Mode:      r.in.Mode,
		FastPath:  iteration > 0,
	}
	res, err := resilience.Retry(ctx, r.retryOpts(r.o.budgets.Score), func(ctx context.Context) (*automation.ScoreResult, error) {
		return r.provider.ScoreText(ctx, r.session.ID, text, opts)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring failed")
		return nil, err
	}
	if res == nil {
		res = &automation.ScoreResult{}
	}

	r.tracker.AddScoringPass(r.provider.Name())
	r.o.metrics.scoringPass(r.provider.Name())
	return res, nil
}

func (r *run) analyze(ctx context.Context, scores model.ScorePair, met bool) (*model.OptimizationResult, error) {
	ctx, span := r.o.tracer.Start(ctx, "optimizer.analyze")
	defer span.End()

	r.report(ctx, "Analyzing text", pctAnalysis)
	notes, err := r.o.collab.Analyzer.Analyze(ctx, rewrite.AnalysisRequest{
		Text:       r.in.Text,
		Scores:     scores,
		Ceilings:   r.in.Ceilings,
		Tone:       r.in.Tone,
		DomainHint: r.in.DomainHint,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return r.result(r.in.Text, scores, 0, met, notes), nil
}

func (r *run) optimize(ctx context.Context, baseline model.ScorePair, met bool) (*model.OptimizationResult, error) {
	current := r.in.Text
	last := baseline
	used := 0

	if met {
		r.log.Info("optimizer: baseline already meets thresholds, no rewrite needed")
	}

	for i := 1; i <= r.in.MaxIterations && !met; i++ {
		rewriteStart, rescoreStart := r.loopPercents(i)

		r.report(ctx, progressMessage("Rewriting", i, r.in.MaxIterations), rewriteStart)
		rw, err := r.rewrite(ctx, current, last, i)
		if err != nil {
			return nil, err
		}
		used = i

		r.report(ctx, progressMessage("Rescoring", i, r.in.MaxIterations), rescoreStart)
		scored, err := r.score(ctx, rw.Text, i)
		if err != nil {
			return nil, err
		}

		r.history = append(r.history, model.IterationRecord{
			Iteration:    i,
			Scores:       scored.Scores,
			Note:         rw.Reasoning,
			EditDistance: editDistance(current, rw.Text),
		})
		current = rw.Text
		last = scored.Scores
		met = threshold.Met(last, r.in.Ceilings)

		r.log.Info("optimizer: iteration scored",
			zap.Int("iteration", i),
			zap.Stringer("scores", last),
			zap.Bool("thresholds_met", met),
		)
	}
	r.o.metrics.observeIterations(used, met)

	r.report(ctx, "Summarizing results", pctSummary)
	notes, err := r.summarize(ctx, current, used, met)
	if err != nil {
		return nil, err
	}
	return r.result(current, last, used, met, notes), nil
}

func (r *run) rewrite(ctx context.Context, text string, scores model.ScorePair, iteration int) (*rewrite.Rewrite, error) {
	ctx, span := r.o.tracer.Start(ctx, "optimizer.rewrite", trace.WithAttributes(
		attribute.Int("iteration", iteration),
	))
	defer span.End()

	rw, err := r.o.collab.Rewriter.Rewrite(ctx, rewrite.Request{
		OriginalText:       text,
		LastScores:         scores,
		Ceilings:           r.in.Ceilings,
		Tone:               r.in.Tone,
		DomainHint:         r.in.DomainHint,
		CustomInstructions: r.in.CustomInstructions,
		MaxIterations:      r.in.MaxIterations,
		Iteration:          iteration,
		OutputFormat:       r.in.Format(),
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if rw == nil {
		return nil, eris.Errorf("optimizer: rewriter returned no result for iteration %d", iteration)
	}
	return rw, nil
}

func (r *run) summarize(ctx context.Context, finalText string, used int, met bool) (string, error) {
	ctx, span := r.o.tracer.Start(ctx, "optimizer.summarize")
	defer span.End()

	history := make([]model.IterationRecord, len(r.history))
	copy(history, r.history)
	notes, err := r.o.collab.Summarizer.Summarize(ctx, rewrite.SummaryRequest{
		Mode:           r.in.Mode,
		IterationsUsed: used,
		ThresholdsMet:  met,
		History:        history,
		FinalText:      finalText,
		Ceilings:       r.in.Ceilings,
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return notes, nil
}

func (r *run) result(text string, scores model.ScorePair, used int, met bool, notes string) *model.OptimizationResult {
	return &model.OptimizationResult{
		RunID:          r.id,
		Mode:           r.in.Mode,
		FinalText:      text,
		FinalScores:    scores,
		IterationsUsed: used,
		ThresholdsMet:  met,
		History:        r.history,
		Notes:          notes,
		LiveURL:        r.session.LiveURL,
		Provider:       r.provider.Name(),
	}
}

// cleanup closes the session on a context that survives caller
// cancellation. It never changes the run's outcome.
func (r *run) cleanup(ctx context.Context) {
	if r.session == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.cleanupTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("optimizer: close session panicked", zap.Any("panic", p))
		}
	}()

	r.provider.CloseSession(cctx, r.session.ID)
	r.log.Debug("optimizer: session closed")
}

// retryOpts copies base and counts retries in metrics.
func (r *run) retryOpts(base resilience.RetryOptions) resilience.RetryOptions {
	opts := base
	prev := base.OnRetry
	opts.OnRetry = func(attempt int, err error) {
		r.o.metrics.retry(base.Label, resilience.Classify(err))
		if prev != nil {
			prev(attempt, err)
		}
	}
	return opts
}

// loopPercents spreads iteration i of n evenly over the loop band and
// returns the checkpoints for its rewrite and rescore steps.
func (r *run) loopPercents(i int) (rewriteStart, rescoreStart float64) {
	n := float64(r.in.MaxIterations)
	band := float64(pctLoopEnd - pctLoopStart)
	step := band / n
	rewriteStart = pctLoopStart + step*float64(i-1)
	rescoreStart = rewriteStart + step/2
	return rewriteStart, rescoreStart
}
