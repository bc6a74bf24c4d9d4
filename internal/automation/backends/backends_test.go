package backends

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/textopt/internal/automation"
	"github.com/sells-group/textopt/internal/config"
)

func chromeConfig() config.AutomationConfig {
	return config.AutomationConfig{
		Provider: "chrome",
		Chrome: config.ChromeConfig{
			Headless:        true,
			DetectorURL:     "https://detector.example.com",
			InputSelector:   "textarea",
			SubmitSelector:  "button[type=submit]",
			AIScoreSelector: "#ai-score",
			TimeoutSecs:     30,
		},
	}
}

func TestRegistry_Names(t *testing.T) {
	assert.Equal(t, []string{"chrome", "taskagent"}, Registry(chromeConfig()).Names())
}

func TestNewFactory_Chrome(t *testing.T) {
	f, err := NewFactory(chromeConfig())
	require.NoError(t, err)

	p, err := f.New(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "chrome", p.Name())
}

func TestNewFactory_ChromeInvalidConfig(t *testing.T) {
	cfg := chromeConfig()
	cfg.Chrome.DetectorURL = ""

	f, err := NewFactory(cfg)
	require.NoError(t, err)

	_, err = f.New(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detector url is required")
}

func TestNewFactory_TaskAgent(t *testing.T) {
	cfg := config.AutomationConfig{
		Provider: "taskagent",
		TaskAgent: config.TaskAgentConfig{
			Key:         "bu_test",
			BaseURL:     "http://127.0.0.1:1",
			DetectorURL: "https://detector.example.com",
			RatePerSec:  0,
		},
	}

	f, err := NewFactory(cfg)
	require.NoError(t, err)

	p, err := f.New(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "taskagent", p.Name())
}

func TestNewFactory_TaskAgentMissingKey(t *testing.T) {
	cfg := config.AutomationConfig{
		Provider:  "taskagent",
		TaskAgent: config.TaskAgentConfig{DetectorURL: "https://detector.example.com"},
	}

	f, err := NewFactory(cfg)
	require.NoError(t, err)

	_, err = f.New(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is required")
}

func TestNewFactory_UnknownProvider(t *testing.T) {
	_, err := NewFactory(config.AutomationConfig{Provider: "selenium"})
	require.Error(t, err)
	assert.ErrorIs(t, err, automation.ErrUnknownProvider)
}
