package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/textopt/internal/model"
)

func pct(v float64) *float64 { return &v }

func TestMet_BothPresent(t *testing.T) {
	t.Parallel()
	ceilings := model.Ceilings{AI: 20, Plagiarism: 10}

	tests := []struct {
		name     string
		ai, plag float64
		want     bool
	}{
		{name: "both below", ai: 5, plag: 3, want: true},
		{name: "both equal ceilings", ai: 20, plag: 10, want: true},
		{name: "ai above", ai: 20.01, plag: 0, want: false},
		{name: "plagiarism above", ai: 0, plag: 10.5, want: false},
		{name: "both above", ai: 80, plag: 40, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Met(model.ScorePair{AI: pct(tt.ai), Plagiarism: pct(tt.plag)}, ceilings)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMet_OneAbsent(t *testing.T) {
	t.Parallel()
	ceilings := model.Ceilings{AI: 20, Plagiarism: 10}

	assert.True(t, Met(model.ScorePair{AI: pct(15)}, ceilings))
	assert.False(t, Met(model.ScorePair{AI: pct(25)}, ceilings))
	assert.True(t, Met(model.ScorePair{Plagiarism: pct(10)}, ceilings))
	assert.False(t, Met(model.ScorePair{Plagiarism: pct(11)}, ceilings))
}

func TestMet_BothAbsentNeverMet(t *testing.T) {
	t.Parallel()
	for _, c := range []model.Ceilings{{AI: 0, Plagiarism: 0}, {AI: 50, Plagiarism: 50}, {AI: 100, Plagiarism: 100}} {
		assert.False(t, Met(model.ScorePair{}, c), "ceilings %+v", c)
	}
}

func TestEvaluate_Breakdown(t *testing.T) {
	t.Parallel()
	b := Evaluate(model.ScorePair{AI: pct(30), Plagiarism: nil}, model.Ceilings{AI: 20, Plagiarism: 10})
	assert.Equal(t, VerdictFail, b.AI)
	assert.Equal(t, VerdictAbsent, b.Plagiarism)
	assert.False(t, b.Met)

	b = Evaluate(model.ScorePair{}, model.Ceilings{AI: 100, Plagiarism: 100})
	assert.Equal(t, VerdictAbsent, b.AI)
	assert.Equal(t, VerdictAbsent, b.Plagiarism)
	assert.False(t, b.Met)
}
