// Package automation defines the contract every browser-automation backend
// satisfies and the registry the factory selects backends from.
package automation

import (
	"context"

	"github.com/sells-group/textopt/internal/model"
)

// SessionOptions configures session creation.
type SessionOptions struct {
	// ProxyCountry is an ISO 3166-1 alpha-2 routing hint. Empty means no
	// preference.
	ProxyCountry string
}

// ScoreOptions tunes a single scoring pass.
type ScoreOptions struct {
	// StepCap bounds the automation steps the backend may take. Zero means
	// the backend default.
	StepCap int
	// Iteration is the optimizer iteration this pass belongs to (0 = baseline).
	Iteration int
	// Mode is the run mode, passed through as a hint.
	Mode model.Mode
	// FastPath is set when the session has already been used for a scoring
	// pass, so the backend may skip navigation to the scoring surface.
	FastPath bool
}

// ScoreResult is what one scoring pass observed.
type ScoreResult struct {
	Scores model.ScorePair
	Notes  string
}

// Provider is an automation backend bound to the external scoring surface.
// A session is used by one run at a time; callers never issue concurrent
// ScoreText calls against the same session.
type Provider interface {
	// Name identifies the backend in results and logs.
	Name() string

	// CreateSession acquires exclusive automation resources. On failure no
	// partially created resources remain.
	CreateSession(ctx context.Context, opts SessionOptions) (*model.Session, error)

	// ScoreText measures text on the scoring surface using the session. The
	// text is the full content to measure.
	ScoreText(ctx context.Context, sessionID, text string, opts ScoreOptions) (*ScoreResult, error)

	// CloseSession releases the session. It is safe to call with an unknown
	// or already closed id and never fails from the caller's perspective.
	CloseSession(ctx context.Context, sessionID string)
}

// Factory constructs the configured Provider.
type Factory interface {
	New(ctx context.Context) (Provider, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (Provider, error)

// New calls f.
func (f FactoryFunc) New(ctx context.Context) (Provider, error) {
	return f(ctx)
}
