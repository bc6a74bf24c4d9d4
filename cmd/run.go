package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/textopt/internal/model"
	"github.com/sells-group/textopt/internal/optimizer"
)

// maxInputBytes bounds documents read from a file or stdin.
const maxInputBytes = 1 << 20

// runner is the part of the optimizer the commands and handlers use.
type runner interface {
	Run(ctx context.Context, in model.OptimizationInput, progress optimizer.ProgressFunc) (*model.OptimizationResult, error)
}

var (
	scoreCmd = newRunCmd("score", model.ModeScoreOnly,
		"Measure a document's AI-detection and plagiarism scores",
		`Runs a single scoring pass and reports both percentages.

Examples:
  textopt score --file essay.md
  cat essay.md | textopt score --format yaml`)

	analyzeCmd = newRunCmd("analyze", model.ModeAnalyze,
		"Score a document and explain what drives the scores",
		`Runs a single scoring pass, then asks Claude for a written analysis of the
passages most likely responsible for the scores. The text is not changed.

Examples:
  textopt analyze --file essay.md --tone academic --domain "history coursework"`)

	optimizeCmd = newRunCmd("optimize", model.ModeOptimize,
		"Rewrite a document until both scores are under the ceilings",
		`Scores the document, then alternates Claude rewrites and rescoring until both
scores are at or under the ceilings or the iteration budget is spent.

Examples:
  textopt optimize --file essay.md --ai-threshold 15 --plagiarism-threshold 5
  textopt optimize --file post.md --output-format markdown --max-iterations 8 --output result.json`)
)

func init() {
	rootCmd.AddCommand(scoreCmd, analyzeCmd, optimizeCmd)
}

func newRunCmd(use string, mode model.Mode, short, long string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMode(cmd, use, mode)
		},
	}

	f := cmd.Flags()
	f.String("file", "", "read the document from this path (default: stdin)")
	f.String("format", "text", "result format: text, json or yaml")
	f.String("output", "", "write the result to this path (default: stdout)")
	f.Bool("quiet", false, "suppress progress output on stderr")
	f.Float64("ai-threshold", 0, "AI-detection ceiling in percent (default from config)")
	f.Float64("plagiarism-threshold", 0, "plagiarism ceiling in percent (default from config)")
	f.String("proxy-country", "", "two-letter country code for the automation session's proxy")
	f.Int("step-cap", 0, "maximum automation steps per scoring pass (default from config)")

	if mode != model.ModeScoreOnly {
		f.String("tone", "", "tone: neutral, professional, academic, casual or persuasive (default from config)")
		f.String("domain", "", "short description of the document's subject area")
	}
	if mode == model.ModeOptimize {
		f.Int("max-iterations", 0, "maximum rewrite passes, 1-20 (default from config)")
		f.String("instructions", "", "extra instructions passed to every rewrite")
		f.String("output-format", "plain", "rewrite format: plain or markdown")
	}
	return cmd
}

func runMode(cmd *cobra.Command, command string, mode model.Mode) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f := cmd.Flags()
	format, _ := f.GetString("format")
	if err := checkFormat(format); err != nil {
		return err
	}

	path, _ := f.GetString("file")
	text, err := readText(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	in := defaultInput(cfg.Optimize, mode)
	in.Text = text
	applyFlags(f, &in)
	if err := in.Validate(); err != nil {
		return err
	}

	env, err := initOptimizer(cfg, command)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, runTimeout(cfg.Optimize))
	defer cancel()

	var progress optimizer.ProgressFunc
	if quiet, _ := f.GetBool("quiet"); !quiet {
		progress = progressPrinter(cmd.ErrOrStderr())
	}

	output, _ := f.GetString("output")
	return execute(ctx, env.Optimizer, in, progress, cmd.OutOrStdout(), output, format)
}

// execute runs one optimization and writes the result in format to the file
// at output, or to w when output is empty. The file is only created once the
// run has succeeded.
func execute(ctx context.Context, r runner, in model.OptimizationInput, progress optimizer.ProgressFunc, w io.Writer, output, format string) error {
	log := zap.L().With(zap.String("command", string(in.Mode)))

	res, err := r.Run(ctx, in, progress)
	if err != nil {
		log.Error("run failed", zap.Error(err))
		return eris.Wrapf(err, "%s run", in.Mode)
	}

	log.Info("run complete",
		zap.String("run_id", res.RunID),
		zap.Bool("thresholds_met", res.ThresholdsMet),
		zap.Int("iterations_used", res.IterationsUsed),
	)
	if output == "" {
		return writeResult(w, res, format)
	}
	return writeResultFile(output, res, format)
}

func writeResultFile(path string, res *model.OptimizationResult, format string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create output %s", path)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = eris.Wrapf(cerr, "close output %s", path)
		}
	}()
	return writeResult(file, res, format)
}

// readText reads the document from path, or from stdin when path is empty
// or "-".
func readText(stdin io.Reader, path string) (string, error) {
	var r io.Reader = stdin
	if path != "" && path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return "", eris.Wrapf(err, "open input %s", path)
		}
		defer file.Close()
		r = file
	}

	data, err := io.ReadAll(io.LimitReader(r, maxInputBytes+1))
	if err != nil {
		return "", eris.Wrap(err, "read input")
	}
	if len(data) > maxInputBytes {
		return "", eris.Errorf("input exceeds %d bytes", maxInputBytes)
	}
	return string(data), nil
}

// applyFlags overlays explicitly set flags onto in.
func applyFlags(f *pflag.FlagSet, in *model.OptimizationInput) {
	if f.Changed("ai-threshold") {
		in.Ceilings.AI, _ = f.GetFloat64("ai-threshold")
	}
	if f.Changed("plagiarism-threshold") {
		in.Ceilings.Plagiarism, _ = f.GetFloat64("plagiarism-threshold")
	}
	if f.Changed("proxy-country") {
		v, _ := f.GetString("proxy-country")
		in.ProxyCountry = strings.ToUpper(v)
	}
	if f.Changed("step-cap") {
		in.StepCap, _ = f.GetInt("step-cap")
	}
	if f.Changed("tone") {
		v, _ := f.GetString("tone")
		in.Tone = model.Tone(strings.ToLower(v))
	}
	if f.Changed("domain") {
		in.DomainHint, _ = f.GetString("domain")
	}
	if f.Changed("max-iterations") {
		in.MaxIterations, _ = f.GetInt("max-iterations")
	}
	if f.Changed("instructions") {
		in.CustomInstructions, _ = f.GetString("instructions")
	}
	if f.Lookup("output-format") != nil {
		v, _ := f.GetString("output-format")
		in.OutputFormat = model.OutputFormat(strings.ToLower(v))
	}
}

func progressPrinter(w io.Writer) optimizer.ProgressFunc {
	return func(_ context.Context, message string, percent float64) error {
		_, err := fmt.Fprintf(w, "[%3.0f%%] %s\n", percent, message)
		return err
	}
}
