// Package model defines the data types shared by the optimizer, the
// automation providers, and the rewrite collaborators.
package model

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

// Mode selects how far a run goes after the baseline measurement.
type Mode string

const (
	ModeScoreOnly Mode = "score_only"
	ModeAnalyze   Mode = "analyze"
	ModeOptimize  Mode = "optimize"
)

// Tone steers the voice of rewrites and analysis.
type Tone string

const (
	ToneNeutral      Tone = "neutral"
	ToneProfessional Tone = "professional"
	ToneAcademic     Tone = "academic"
	ToneCasual       Tone = "casual"
	TonePersuasive   Tone = "persuasive"
)

// OutputFormat is the formatting preference for rewritten text.
type OutputFormat string

const (
	FormatPlain    OutputFormat = "plain"
	FormatMarkdown OutputFormat = "markdown"
)

// Iteration limits accepted at the boundary.
const (
	MinIterations = 1
	MaxIterations = 20
)

// ErrInvalidInput is returned when an OptimizationInput fails validation.
var ErrInvalidInput = eris.New("invalid optimization input")

// OptimizationInput is everything the caller supplies for one run. It is
// validated once before the optimizer runs and is read-only afterwards.
type OptimizationInput struct {
	Text               string       `json:"text" yaml:"text" validate:"required"`
	Mode               Mode         `json:"mode" yaml:"mode" validate:"required,oneof=score_only analyze optimize"`
	Ceilings           Ceilings     `json:"ceilings" yaml:"ceilings"`
	MaxIterations      int          `json:"max_iterations" yaml:"max_iterations" validate:"min=1,max=20"`
	Tone               Tone         `json:"tone" yaml:"tone" validate:"required,oneof=neutral professional academic casual persuasive"`
	DomainHint         string       `json:"domain_hint,omitempty" yaml:"domain_hint,omitempty" validate:"max=200"`
	CustomInstructions string       `json:"custom_instructions,omitempty" yaml:"custom_instructions,omitempty" validate:"max=4000"`
	ProxyCountry       string       `json:"proxy_country,omitempty" yaml:"proxy_country,omitempty" validate:"omitempty,len=2,alpha"`
	StepCap            int          `json:"step_cap,omitempty" yaml:"step_cap,omitempty" validate:"min=0,max=100"`
	OutputFormat       OutputFormat `json:"output_format" yaml:"output_format" validate:"omitempty,oneof=plain markdown"`
}

var validate = validator.New()

// Validate checks the input against its field constraints. Whitespace-only
// text is rejected along with an empty string.
func (in OptimizationInput) Validate() error {
	if strings.TrimSpace(in.Text) == "" {
		return eris.Wrap(ErrInvalidInput, "text must not be blank")
	}
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return eris.Wrapf(ErrInvalidInput, "%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return eris.Wrap(ErrInvalidInput, err.Error())
	}
	return nil
}

// Format returns the output format, defaulting to plain.
func (in OptimizationInput) Format() OutputFormat {
	if in.OutputFormat == "" {
		return FormatPlain
	}
	return in.OutputFormat
}
