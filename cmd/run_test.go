package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/textopt/internal/config"
	"github.com/sells-group/textopt/internal/model"
	"github.com/sells-group/textopt/internal/optimizer"
)

// fakeRunner records the input it was given and returns a canned outcome.
type fakeRunner struct {
	got      model.OptimizationInput
	calls    int
	res      *model.OptimizationResult
	err      error
	progress bool
	block    bool
}

func (f *fakeRunner) Run(ctx context.Context, in model.OptimizationInput, progress optimizer.ProgressFunc) (*model.OptimizationResult, error) {
	f.calls++
	f.got = in
	f.progress = progress != nil
	if progress != nil {
		_ = progress(ctx, "Scoring original text", 15)
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func ptr(v float64) *float64 { return &v }

func sampleResult() *model.OptimizationResult {
	d := 42
	return &model.OptimizationResult{
		RunID:       "run-1",
		Mode:        model.ModeOptimize,
		FinalText:   "A calmer, plainer paragraph.",
		FinalScores: model.ScorePair{AI: ptr(12), Plagiarism: ptr(3)},
		History: []model.IterationRecord{
			{Iteration: 0, Scores: model.ScorePair{AI: ptr(70), Plagiarism: ptr(9)}, Note: model.BaselineNote},
			{Iteration: 1, Scores: model.ScorePair{AI: ptr(12), Plagiarism: ptr(3)}, Note: "Varied sentence length.", EditDistance: &d},
		},
		IterationsUsed: 1,
		ThresholdsMet:  true,
		Notes:          "Both scores are under their ceilings.",
		Provider:       "chrome",
		CostUSD:        0.0123,
		Duration:       1500 * time.Millisecond,
	}
}

func testOptimizeConfig() config.OptimizeConfig {
	return config.OptimizeConfig{
		AIThreshold:         20,
		PlagiarismThreshold: 10,
		MaxIterations:       5,
		StepCap:             25,
		Tone:                "neutral",
		TimeoutSecs:         60,
	}
}

func TestDefaultInput(t *testing.T) {
	in := defaultInput(testOptimizeConfig(), model.ModeOptimize)
	assert.Equal(t, model.ModeOptimize, in.Mode)
	assert.Equal(t, model.Ceilings{AI: 20, Plagiarism: 10}, in.Ceilings)
	assert.Equal(t, 5, in.MaxIterations)
	assert.Equal(t, model.ToneNeutral, in.Tone)
	assert.Equal(t, 25, in.StepCap)
	assert.Equal(t, model.FormatPlain, in.OutputFormat)
	assert.Empty(t, in.Text)

	in.Text = "Something to score."
	assert.NoError(t, in.Validate(), "config defaults must form a valid input")
}

func TestRunTimeout(t *testing.T) {
	assert.Equal(t, time.Minute, runTimeout(config.OptimizeConfig{TimeoutSecs: 60}))
	assert.Equal(t, 30*time.Minute, runTimeout(config.OptimizeConfig{}))
}

func TestReadText(t *testing.T) {
	t.Run("stdin", func(t *testing.T) {
		got, err := readText(strings.NewReader("from stdin"), "")
		require.NoError(t, err)
		assert.Equal(t, "from stdin", got)
	})

	t.Run("dash means stdin", func(t *testing.T) {
		got, err := readText(strings.NewReader("dash"), "-")
		require.NoError(t, err)
		assert.Equal(t, "dash", got)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "doc.md")
		require.NoError(t, os.WriteFile(path, []byte("# Title\n\nBody."), 0o644))
		got, err := readText(strings.NewReader("ignored"), path)
		require.NoError(t, err)
		assert.Equal(t, "# Title\n\nBody.", got)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readText(nil, filepath.Join(t.TempDir(), "nope.txt"))
		assert.Error(t, err)
	})

	t.Run("too large", func(t *testing.T) {
		_, err := readText(strings.NewReader(strings.Repeat("x", maxInputBytes+1)), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})
}

func TestApplyFlags(t *testing.T) {
	cmd := newRunCmd("optimize", model.ModeOptimize, "", "")
	require.NoError(t, cmd.ParseFlags([]string{
		"--ai-threshold", "15",
		"--plagiarism-threshold", "4.5",
		"--proxy-country", "de",
		"--tone", "Academic",
		"--domain", "history coursework",
		"--max-iterations", "8",
		"--instructions", "Keep the citations.",
		"--output-format", "markdown",
	}))

	in := defaultInput(testOptimizeConfig(), model.ModeOptimize)
	applyFlags(cmd.Flags(), &in)

	assert.Equal(t, model.Ceilings{AI: 15, Plagiarism: 4.5}, in.Ceilings)
	assert.Equal(t, "DE", in.ProxyCountry)
	assert.Equal(t, model.ToneAcademic, in.Tone)
	assert.Equal(t, "history coursework", in.DomainHint)
	assert.Equal(t, 8, in.MaxIterations)
	assert.Equal(t, "Keep the citations.", in.CustomInstructions)
	assert.Equal(t, model.FormatMarkdown, in.OutputFormat)
	assert.Equal(t, 25, in.StepCap, "unset flags keep config defaults")
}

func TestApplyFlags_UnsetKeepsDefaults(t *testing.T) {
	cmd := newRunCmd("score", model.ModeScoreOnly, "", "")
	require.NoError(t, cmd.ParseFlags(nil))

	in := defaultInput(testOptimizeConfig(), model.ModeScoreOnly)
	want := in
	applyFlags(cmd.Flags(), &in)
	assert.Equal(t, want, in)
}

func TestExecute(t *testing.T) {
	r := &fakeRunner{res: sampleResult()}
	in := defaultInput(testOptimizeConfig(), model.ModeOptimize)
	in.Text = "Some text."

	var out, progress bytes.Buffer
	err := execute(context.Background(), r, in, progressPrinter(&progress), &out, "", "json")
	require.NoError(t, err)

	assert.Equal(t, 1, r.calls)
	assert.Equal(t, in, r.got)
	assert.Contains(t, progress.String(), "[ 15%] Scoring original text")

	var decoded model.OptimizationResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.True(t, decoded.ThresholdsMet)
}

func TestExecute_RunError(t *testing.T) {
	sentinel := errors.New("session refused")
	r := &fakeRunner{err: sentinel}

	var out bytes.Buffer
	err := execute(context.Background(), r, model.OptimizationInput{Mode: model.ModeScoreOnly}, nil, &out, "", "text")
	assert.ErrorIs(t, err, sentinel)
	assert.Empty(t, out.String())
}

func TestExecute_OutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	r := &fakeRunner{res: sampleResult()}

	var out bytes.Buffer
	err := execute(context.Background(), r, model.OptimizationInput{Mode: model.ModeOptimize}, nil, &out, path, "json")
	require.NoError(t, err)
	assert.Empty(t, out.String(), "result goes to the file only")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded model.OptimizationResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
}

func TestExecute_FailedRunLeavesOutputUntouched(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.json")
	require.NoError(t, os.WriteFile(existing, []byte(`{"run_id":"previous"}`), 0o644))
	missing := filepath.Join(dir, "missing.json")

	for _, path := range []string{existing, missing} {
		r := &fakeRunner{err: errors.New("session refused")}
		err := execute(context.Background(), r, model.OptimizationInput{Mode: model.ModeOptimize}, nil, &bytes.Buffer{}, path, "json")
		require.Error(t, err)
	}

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.JSONEq(t, `{"run_id":"previous"}`, string(data))
	assert.NoFileExists(t, missing)
}

func TestExecute_OutputFileCreateError(t *testing.T) {
	r := &fakeRunner{res: sampleResult()}
	path := filepath.Join(t.TempDir(), "no-such-dir", "result.json")

	err := execute(context.Background(), r, model.OptimizationInput{Mode: model.ModeOptimize}, nil, &bytes.Buffer{}, path, "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create output")
}

func TestWriteResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, sampleResult(), "json"))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	assert.Equal(t, "optimize", raw["mode"])
	assert.Equal(t, 12.0, raw["final_scores"].(map[string]any)["ai_score"])
	assert.Len(t, raw["history"], 2)
}

func TestWriteResult_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, sampleResult(), "yaml"))

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &raw))
	assert.Equal(t, "run-1", raw["run_id"])
	assert.Equal(t, true, raw["thresholds_met"])
}

func TestWriteResult_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, sampleResult(), "text"))
	out := buf.String()

	assert.Contains(t, out, "Provider")
	assert.Contains(t, out, "ai=12.0% plagiarism=3.0%")
	assert.Contains(t, out, "Thresholds met  yes")
	assert.Contains(t, out, "$0.0123")
	assert.Contains(t, out, "History")
	assert.Contains(t, out, "70.0%")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "Both scores are under their ceilings.")
	assert.Contains(t, out, "Final text\nA calmer, plainer paragraph.\n")
}

func TestWriteResult_TextScoreOnly(t *testing.T) {
	res := &model.OptimizationResult{
		RunID:    "run-2",
		Mode:     model.ModeScoreOnly,
		History:  []model.IterationRecord{{Iteration: 0, Note: model.BaselineNote}},
		Provider: "taskagent",
	}
	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, res, "text"))
	out := buf.String()

	assert.Contains(t, out, "ai=n/a plagiarism=n/a")
	assert.NotContains(t, out, "History")
	assert.NotContains(t, out, "Final text")
	assert.NotContains(t, out, "Iterations")
}

func TestWriteResult_UnknownFormat(t *testing.T) {
	err := writeResult(&bytes.Buffer{}, sampleResult(), "csv")
	assert.Error(t, err)
	assert.Error(t, checkFormat("table"))
	assert.NoError(t, checkFormat("yaml"))
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n b\tc", 10))
	assert.Equal(t, "abcdefg...", oneLine("abcdefghijklmnop", 10))
}

func TestRunMode_RejectsInvalidInputBeforeBuilding(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{Optimize: testOptimizeConfig()}

	cmd := newRunCmd("score", model.ModeScoreOnly, "", "")
	cmd.SetIn(strings.NewReader("   \n\t"))
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.ParseFlags(nil))

	err := runMode(cmd, "score", model.ModeScoreOnly)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestRunMode_BadFormat(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{Optimize: testOptimizeConfig()}

	cmd := newRunCmd("score", model.ModeScoreOnly, "", "")
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.ParseFlags([]string{"--format", "xml"}))

	err := runMode(cmd, "score", model.ModeScoreOnly)
	assert.ErrorContains(t, err, "unknown format")
}
