// Package chrome is the deterministic automation backend: it drives a
// Chrome instance over CDP through a fixed observe, act, extract script
// against the configured detector page.
package chrome

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/textopt/internal/automation"
	"github.com/sells-group/textopt/internal/model"
	"github.com/sells-group/textopt/internal/resilience"
)

// Name is the registry key for this backend.
const Name = "chrome"

// ErrUnknownSession is returned when ScoreText is called with an id this
// provider did not create or has already closed.
var ErrUnknownSession = eris.New("chrome: unknown session")

var errStaleResult = eris.New("chrome: detector result did not refresh")

// Config describes the browser and the detector page layout.
type Config struct {
	CDPURL    string
	ExecPath  string
	Headless  bool
	NoSandbox bool
	// ProxyServer is a proxy URL; "{country}" is replaced with the lowercase
	// routing hint.
	ProxyServer string

	DetectorURL        string
	InputSelector      string
	SubmitSelector     string
	AIScoreSelector    string
	PlagiarismSelector string

	// Timeout bounds one scoring pass.
	Timeout time.Duration
	// PollInterval is the wait between result extraction attempts.
	PollInterval time.Duration
	// DefaultSteps is the number of extraction attempts when the caller sets
	// no step cap.
	DefaultSteps int
}

// Provider implements automation.Provider with chromedp.
type Provider struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

var _ automation.Provider = (*Provider)(nil)

// New validates cfg and returns a provider with no open sessions.
func New(cfg Config) (*Provider, error) {
	if cfg.DetectorURL == "" {
		return nil, eris.New("chrome: detector url is required")
	}
	if cfg.InputSelector == "" || cfg.SubmitSelector == "" || cfg.AIScoreSelector == "" {
		return nil, eris.New("chrome: input, submit and ai score selectors are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.DefaultSteps <= 0 {
		cfg.DefaultSteps = 30
	}
	return &Provider{
		cfg:      cfg,
		sessions: make(map[string]*session),
	}, nil
}

// Name implements automation.Provider.
func (p *Provider) Name() string { return Name }

// CreateSession starts a browser (or attaches to a remote one) and opens the
// detector page. Any failure tears down both contexts before returning.
func (p *Provider) CreateSession(ctx context.Context, opts automation.SessionOptions) (*model.Session, error) {
	allocCtx, allocCancel := p.allocator(opts)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// The first Run allocates the browser; it must not inherit the open
	// timeout or the browser would die with it.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, resilience.NewTransientError(eris.Wrap(err, "chrome: start browser"), 0)
	}

	openCtx, openCancel := context.WithTimeout(browserCtx, p.cfg.Timeout)
	defer openCancel()
	stop := context.AfterFunc(ctx, openCancel)
	defer stop()

	if err := chromedp.Run(openCtx,
		chromedp.Navigate(p.cfg.DetectorURL),
		chromedp.WaitVisible(p.cfg.InputSelector, chromedp.ByQuery),
	); err != nil {
		cancel()
		allocCancel()
		return nil, resilience.NewTransientError(eris.Wrap(err, "chrome: open detector"), 0)
	}

	id := uuid.New().String()
	out := &model.Session{ID: id}
	if c := chromedp.FromContext(browserCtx); c != nil && c.Target != nil {
		targetID := string(c.Target.TargetID)
		out.ContextID = &targetID
	}

	p.mu.Lock()
	p.sessions[id] = &session{ctx: browserCtx, cancel: cancel, allocCancel: allocCancel}
	p.mu.Unlock()

	zap.L().Debug("chrome: session created", zap.String("session_id", id))
	return out, nil
}

func (p *Provider) allocator(opts automation.SessionOptions) (context.Context, context.CancelFunc) {
	// Sessions outlive the call that creates them.
	base := context.Background()
	if p.cfg.CDPURL != "" {
		return chromedp.NewRemoteAllocator(base, p.cfg.CDPURL)
	}

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.cfg.Headless),
		chromedp.Flag("disable-gpu", p.cfg.Headless),
	)
	if p.cfg.NoSandbox {
		execOpts = append(execOpts, chromedp.NoSandbox)
	}
	if p.cfg.ExecPath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(p.cfg.ExecPath))
	}
	if proxy := p.proxyFor(opts.ProxyCountry); proxy != "" {
		execOpts = append(execOpts, chromedp.ProxyServer(proxy))
	}
	return chromedp.NewExecAllocator(base, execOpts...)
}

func (p *Provider) proxyFor(country string) string {
	if p.cfg.ProxyServer == "" || country == "" {
		return ""
	}
	return strings.ReplaceAll(p.cfg.ProxyServer, "{country}", strings.ToLower(country))
}

// ScoreText pastes text into the detector, submits, and polls the result
// selectors until a score for this submission shows up or the step cap runs
// out. A fast-path pass whose result never refreshes is repeated once on a
// freshly loaded page.
func (p *Provider) ScoreText(ctx context.Context, sessionID, text string, opts automation.ScoreOptions) (*automation.ScoreResult, error) {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	p.mu.Unlock()
	if !ok {
		return nil, eris.Wrapf(ErrUnknownSession, "id %s", sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := p.score(ctx, s, sessionID, text, opts)
	if errors.Is(err, errStaleResult) && opts.FastPath {
		zap.L().Debug("chrome: result did not refresh, reloading detector",
			zap.String("session_id", sessionID), zap.Int("iteration", opts.Iteration))
		opts.FastPath = false
		res, err = p.score(ctx, s, sessionID, text, opts)
	}
	return res, err
}

func (p *Provider) score(ctx context.Context, s *session, sessionID, text string, opts automation.ScoreOptions) (*automation.ScoreResult, error) {
	runCtx, cancel := context.WithTimeout(s.ctx, p.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	log := zap.L().With(zap.String("session_id", sessionID), zap.Int("iteration", opts.Iteration))

	readScript, err := extractScript(p.cfg.AIScoreSelector, p.cfg.PlagiarismSelector)
	if err != nil {
		return nil, err
	}
	read := func(ctx context.Context) (extraction, error) {
		var raw extraction
		err := chromedp.Run(ctx, chromedp.Evaluate(readScript, &raw))
		return raw, err
	}

	// Observe.
	var observe []chromedp.Action
	if !opts.FastPath {
		observe = append(observe, chromedp.Navigate(p.cfg.DetectorURL))
	}
	observe = append(observe, chromedp.WaitVisible(p.cfg.InputSelector, chromedp.ByQuery))
	if err := chromedp.Run(runCtx, observe...); err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "chrome: observe input"), 0)
	}
	before, err := read(runCtx)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "chrome: read previous result"), 0)
	}

	// Act.
	script, err := fillScript(p.cfg.InputSelector, text)
	if err != nil {
		return nil, err
	}
	var filled bool
	if err := chromedp.Run(runCtx,
		chromedp.Evaluate(script, &filled),
		chromedp.Click(p.cfg.SubmitSelector, chromedp.ByQuery, chromedp.NodeVisible),
	); err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "chrome: submit text"), 0)
	}
	if !filled {
		return nil, eris.Errorf("chrome: input %q not found", p.cfg.InputSelector)
	}

	// Extract.
	steps := opts.StepCap
	if steps <= 0 {
		steps = p.cfg.DefaultSteps
	}
	res, step, err := p.awaitScores(runCtx, steps, before, read)
	if err != nil {
		return nil, err
	}
	log.Debug("chrome: scores extracted", zap.Int("step", step), zap.Stringer("scores", res.Scores))
	return res, nil
}

// awaitScores polls read until it yields a result that belongs to the
// submission made after before was taken.
func (p *Provider) awaitScores(ctx context.Context, steps int, before extraction, read func(context.Context) (extraction, error)) (*automation.ScoreResult, int, error) {
	w := newResultWatch(before)
	for step := 1; step <= steps; step++ {
		raw, err := read(ctx)
		if err != nil {
			return nil, step, resilience.NewTransientError(eris.Wrap(err, "chrome: extract scores"), 0)
		}
		res, done := w.observe(raw)
		if done {
			return res, step, nil
		}
		if w.stale() {
			return nil, step, resilience.NewTransientError(errStaleResult, 0)
		}
		select {
		case <-ctx.Done():
			return nil, step, resilience.NewTransientError(eris.Wrap(ctx.Err(), "chrome: waiting for scores"), 0)
		case <-time.After(p.cfg.PollInterval):
		}
	}
	if w.unchanged > 0 && !w.pending {
		return nil, steps, resilience.NewTransientError(errStaleResult, 0)
	}
	return nil, steps, resilience.NewTransientError(eris.Errorf("chrome: no score after %d extraction steps", steps), 0)
}

// CloseSession cancels the browser and allocator contexts. Unknown ids are
// ignored.
func (p *Provider) CloseSession(_ context.Context, sessionID string) {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	delete(p.sessions, sessionID)
	p.mu.Unlock()
	if !ok {
		return
	}

	if err := chromedp.Cancel(s.ctx); err != nil {
		zap.L().Warn("chrome: close browser", zap.String("session_id", sessionID), zap.Error(err))
	}
	s.cancel()
	s.allocCancel()
}

// Open returns the number of live sessions.
func (p *Provider) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}
