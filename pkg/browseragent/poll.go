package browseragent

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultPollInitial = 2 * time.Second
	defaultPollCap     = 10 * time.Second
	defaultPollTimeout = 5 * time.Minute
)

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial time.Duration
	cap     time.Duration
	timeout time.Duration
}

func defaultPollConfig() pollConfig {
	return pollConfig{
		initial: defaultPollInitial,
		cap:     defaultPollCap,
		timeout: defaultPollTimeout,
	}
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.initial = d
	}
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.cap = d
	}
}

// WithPollTimeout overrides the default timeout. An earlier parent deadline
// still wins. Zero leaves only the parent deadline.
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.timeout = d
	}
}

// ErrTaskStopped is returned when a task ends in the stopped state.
var ErrTaskStopped = eris.New("browseragent: task stopped")

// PollTask polls GetTask until the task finishes, stops, or the context
// expires. The interval doubles from the initial value up to the cap.
func PollTask(ctx context.Context, client Client, id string, opts ...PollOption) (*TaskView, error) {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	interval := cfg.initial
	for {
		task, err := client.GetTask(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "browseragent: poll task %s", id)
		}

		switch task.Status {
		case TaskFinished:
			return task, nil
		case TaskStopped:
			return task, eris.Wrapf(ErrTaskStopped, "task %s", id)
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrapf(ctx.Err(), "browseragent: poll task %s timed out", id)
		case <-time.After(interval):
		}

		interval *= 2
		if interval > cfg.cap {
			interval = cfg.cap
		}
	}
}
