// Package backends wires the concrete automation providers into a registry
// and picks the one named in configuration.
package backends

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/textopt/internal/automation"
	"github.com/sells-group/textopt/internal/automation/chrome"
	"github.com/sells-group/textopt/internal/automation/taskagent"
	"github.com/sells-group/textopt/internal/config"
	"github.com/sells-group/textopt/pkg/browseragent"
)

// Registry returns a registry holding every built-in backend configured
// from cfg. Backends are constructed lazily by the returned factories.
func Registry(cfg config.AutomationConfig) *automation.Registry {
	reg := automation.NewRegistry()

	reg.Register(chrome.Name, func(_ context.Context) (automation.Provider, error) {
		c := cfg.Chrome
		return chrome.New(chrome.Config{
			CDPURL:             c.CDPURL,
			ExecPath:           c.ExecPath,
			Headless:           c.Headless,
			NoSandbox:          c.NoSandbox,
			ProxyServer:        c.ProxyServer,
			DetectorURL:        c.DetectorURL,
			InputSelector:      c.InputSelector,
			SubmitSelector:     c.SubmitSelector,
			AIScoreSelector:    c.AIScoreSelector,
			PlagiarismSelector: c.PlagiarismSelector,
			Timeout:            time.Duration(c.TimeoutSecs) * time.Second,
			PollInterval:       time.Duration(c.PollIntervalMs) * time.Millisecond,
		})
	})

	reg.Register(taskagent.Name, func(_ context.Context) (automation.Provider, error) {
		t := cfg.TaskAgent
		if t.Key == "" {
			return nil, eris.New("taskagent: api key is required")
		}
		opts := []browseragent.Option{browseragent.WithRateLimit(t.RatePerSec)}
		if t.BaseURL != "" {
			opts = append(opts, browseragent.WithBaseURL(t.BaseURL))
		}
		return taskagent.New(browseragent.NewClient(t.Key, opts...), taskagent.Config{
			DetectorURL:  t.DetectorURL,
			PollInterval: time.Duration(t.PollIntervalMs) * time.Millisecond,
			PollTimeout:  time.Duration(t.PollTimeoutSecs) * time.Second,
		})
	})

	return reg
}

// NewFactory returns the factory for the backend named by cfg.Provider.
func NewFactory(cfg config.AutomationConfig) (automation.Factory, error) {
	f, err := Registry(cfg).Factory(cfg.Provider)
	if err != nil {
		return nil, eris.Wrap(err, "backends: select provider")
	}
	return f, nil
}
