package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/textopt/internal/config"
	"github.com/sells-group/textopt/internal/model"
	"github.com/sells-group/textopt/internal/optimizer"
)

func newTestRouter(r runner) http.Handler {
	h := &handler{run: r, defaults: testOptimizeConfig(), timeout: time.Second}
	return buildRouter(h, nil, []string{"https://app.example.com"})
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_Health(t *testing.T) {
	mux := newTestRouter(&fakeRunner{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "textopt_test_total", Help: "test"}).Inc()

	h := &handler{run: &fakeRunner{}, defaults: testOptimizeConfig(), timeout: time.Second}
	mux := buildRouter(h, reg, []string{"*"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "textopt_test_total 1")
}

func TestRouter_NoMetricsWithoutGatherer(t *testing.T) {
	mux := newTestRouter(&fakeRunner{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_RunEndpoints(t *testing.T) {
	tests := []struct {
		path string
		mode model.Mode
	}{
		{"/v1/score", model.ModeScoreOnly},
		{"/v1/analyze", model.ModeAnalyze},
		{"/v1/optimize", model.ModeOptimize},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r := &fakeRunner{res: sampleResult()}
			rr := postJSON(t, newTestRouter(r), tt.path, map[string]any{
				"text": "Please score me.",
				"mode": "optimize",
			})

			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			assert.Equal(t, tt.mode, r.got.Mode, "route decides the mode")
			assert.Equal(t, "Please score me.", r.got.Text)
			assert.False(t, r.progress)

			var res model.OptimizationResult
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
			assert.Equal(t, "run-1", res.RunID)
		})
	}
}

func TestRouter_BodyOverlaysDefaults(t *testing.T) {
	r := &fakeRunner{res: sampleResult()}
	rr := postJSON(t, newTestRouter(r), "/v1/optimize", map[string]any{
		"text":           "Rewrite me.",
		"ceilings":       map[string]float64{"ai": 5, "plagiarism": 2},
		"tone":           "casual",
		"max_iterations": 3,
		"output_format":  "markdown",
		"proxy_country":  "US",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Equal(t, model.Ceilings{AI: 5, Plagiarism: 2}, r.got.Ceilings)
	assert.Equal(t, model.ToneCasual, r.got.Tone)
	assert.Equal(t, 3, r.got.MaxIterations)
	assert.Equal(t, model.FormatMarkdown, r.got.OutputFormat)
	assert.Equal(t, "US", r.got.ProxyCountry)
	assert.Equal(t, 25, r.got.StepCap, "omitted fields keep config defaults")
}

func TestRouter_InvalidBody(t *testing.T) {
	r := &fakeRunner{}
	req := httptest.NewRequest(http.MethodPost, "/v1/score", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	newTestRouter(r).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
	assert.Zero(t, r.calls)
}

func TestRouter_InvalidInput(t *testing.T) {
	tests := map[string]map[string]any{
		"blank text":         {"text": "   "},
		"ceiling over 100":   {"text": "x", "ceilings": map[string]float64{"ai": 120}},
		"too many passes":    {"text": "x", "max_iterations": 50},
		"unknown tone":       {"text": "x", "tone": "sarcastic"},
		"bad proxy country":  {"text": "x", "proxy_country": "USA"},
		"bad output format":  {"text": "x", "output_format": "html"},
		"negative step cap":  {"text": "x", "step_cap": -1},
		"zero max iteration": {"text": "x", "max_iterations": 0},
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			r := &fakeRunner{}
			rr := postJSON(t, newTestRouter(r), "/v1/optimize", body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Zero(t, r.calls)
		})
	}
}

func TestRouter_RunErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"automation failure", errors.New("session refused"), http.StatusBadGateway},
		{"missing collaborator", eris.Wrap(optimizer.ErrMissingCollaborator, "analyze"), http.StatusNotImplemented},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"shutting down", eris.Wrap(context.Canceled, "score run"), http.StatusServiceUnavailable},
		{"invalid input", eris.Wrap(model.ErrInvalidInput, "text"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postJSON(t, newTestRouter(&fakeRunner{err: tt.err}), "/v1/score", map[string]any{"text": "x"})
			assert.Equal(t, tt.status, rr.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRouter_RequestTimeout(t *testing.T) {
	h := &handler{run: &fakeRunner{block: true}, defaults: testOptimizeConfig(), timeout: 20 * time.Millisecond}
	mux := buildRouter(h, nil, []string{"*"})

	rr := postJSON(t, mux, "/v1/score", map[string]any{"text": "slow"})
	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	mux := newTestRouter(&fakeRunner{})

	req := httptest.NewRequest(http.MethodOptions, "/v1/optimize", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	mux := newTestRouter(&fakeRunner{})
	req := httptest.NewRequest(http.MethodGet, "/v1/optimize", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

// getFreePort returns a free TCP port on localhost.
func getFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestListenAndServe_Lifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := getFreePort(t)
	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: newTestRouter(&fakeRunner{}),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(ctx, srv, time.Second) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestListenAndServe_ListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	srv := &http.Server{Addr: l.Addr().String(), Handler: http.NotFoundHandler()}
	err = listenAndServe(context.Background(), srv, time.Second)
	assert.ErrorContains(t, err, "server listen")
}

// cleanupRunner blocks until its context is cancelled, then takes a while
// to release its session the way the optimizer's deferred cleanup does.
type cleanupRunner struct {
	started chan struct{}
	once    sync.Once
	cleanup time.Duration
	cleaned atomic.Bool
}

func (c *cleanupRunner) Run(ctx context.Context, _ model.OptimizationInput, _ optimizer.ProgressFunc) (*model.OptimizationResult, error) {
	c.once.Do(func() { close(c.started) })
	<-ctx.Done()
	time.Sleep(c.cleanup)
	c.cleaned.Store(true)
	return nil, eris.Wrap(ctx.Err(), "optimize run")
}

func TestListenAndServe_ShutdownCancelsInFlightRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &cleanupRunner{started: make(chan struct{}), cleanup: 100 * time.Millisecond}
	h := &handler{run: r, defaults: testOptimizeConfig(), timeout: time.Hour}
	port := getFreePort(t)
	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: buildRouter(h, nil, []string{"*"}),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(ctx, srv, 5*time.Second) }()

	url := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)

	statusCh := make(chan int, 1)
	go func() {
		resp, err := http.Post(url+"/v1/optimize", "application/json", strings.NewReader(`{"text":"long run"}`))
		if err != nil {
			statusCh <- 0
			return
		}
		_ = resp.Body.Close()
		statusCh <- resp.StatusCode
	}()

	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not start")
	}

	start := time.Now()
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Less(t, time.Since(start), 4*time.Second, "the run is cancelled rather than awaited")
	assert.True(t, r.cleaned.Load(), "shutdown waits for the run's cleanup")
	assert.Equal(t, http.StatusServiceUnavailable, <-statusCh)
}

func TestShutdownTimeoutFor(t *testing.T) {
	d := shutdownTimeoutFor(config.RetryConfig{CleanupTimeoutSecs: 45})
	assert.Greater(t, d, 45*time.Second)
	assert.Equal(t, 45*time.Second+shutdownGrace, d)
}
