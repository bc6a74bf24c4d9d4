// Package browseragent is a client for a hosted natural-language browser
// agent API: create a browser session, delegate a task to the agent within
// it, poll the task, and stop the session.
package browseragent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/textopt/internal/resilience"
)

const defaultBaseURL = "https://api.browser-use.com/api/v2"

// Task statuses reported by GET /tasks/{id}.
const (
	TaskStarted  = "started"
	TaskPaused   = "paused"
	TaskFinished = "finished"
	TaskStopped  = "stopped"
)

// Client defines the browser agent API operations.
type Client interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*SessionView, error)
	StopSession(ctx context.Context, id string) (*SessionView, error)
	CreateTask(ctx context.Context, req CreateTaskRequest) (*TaskCreated, error)
	GetTask(ctx context.Context, id string) (*TaskView, error)
	StopTask(ctx context.Context, id string) (*TaskView, error)
}

// CreateSessionRequest is the body for POST /sessions.
type CreateSessionRequest struct {
	ProxyCountryCode string `json:"proxyCountryCode,omitempty"`
}

// SessionView is a browser session as reported by the API.
type SessionView struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LiveURL   string `json:"liveUrl,omitempty"`
	ProfileID string `json:"profileId,omitempty"`
}

// CreateTaskRequest is the body for POST /tasks.
type CreateTaskRequest struct {
	Task      string `json:"task"`
	SessionID string `json:"sessionId,omitempty"`
	MaxSteps  int    `json:"maxSteps,omitempty"`
	StartURL  string `json:"startUrl,omitempty"`
}

// TaskCreated is the response from POST /tasks.
type TaskCreated struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
}

// TaskView is the response from GET /tasks/{id}.
type TaskView struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Output    string `json:"output"`
	IsSuccess *bool  `json:"isSuccess,omitempty"`
	Steps     []Step `json:"steps,omitempty"`
}

// Step is one agent action within a task.
type Step struct {
	Number     int    `json:"number"`
	URL        string `json:"url"`
	Memory     string `json:"memory"`
	NextGoal   string `json:"nextGoal"`
	Screenshot string `json:"screenshotUrl,omitempty"`
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("browseragent: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(int(perSecond), 1))
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new browser agent client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(2), 2),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) CreateSession(ctx context.Context, req CreateSessionRequest) (*SessionView, error) {
	var resp SessionView
	if err := c.send(ctx, http.MethodPost, "/sessions", req, &resp); err != nil {
		return nil, eris.Wrap(err, "browseragent: create session")
	}
	return &resp, nil
}

func (c *httpClient) StopSession(ctx context.Context, id string) (*SessionView, error) {
	var resp SessionView
	body := map[string]string{"action": "stop"}
	if err := c.send(ctx, http.MethodPatch, "/sessions/"+id, body, &resp); err != nil {
		return nil, eris.Wrapf(err, "browseragent: stop session %s", id)
	}
	return &resp, nil
}

func (c *httpClient) CreateTask(ctx context.Context, req CreateTaskRequest) (*TaskCreated, error) {
	var resp TaskCreated
	if err := c.send(ctx, http.MethodPost, "/tasks", req, &resp); err != nil {
		return nil, eris.Wrap(err, "browseragent: create task")
	}
	return &resp, nil
}

func (c *httpClient) GetTask(ctx context.Context, id string) (*TaskView, error) {
	var resp TaskView
	if err := c.send(ctx, http.MethodGet, "/tasks/"+id, nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "browseragent: get task %s", id)
	}
	return &resp, nil
}

func (c *httpClient) StopTask(ctx context.Context, id string) (*TaskView, error) {
	var resp TaskView
	body := map[string]string{"action": "stop"}
	if err := c.send(ctx, http.MethodPatch, "/tasks/"+id, body, &resp); err != nil {
		return nil, eris.Wrapf(err, "browseragent: stop task %s", id)
	}
	return &resp, nil
}

func (c *httpClient) send(ctx context.Context, method, path string, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit")
		}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Browser-Use-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
