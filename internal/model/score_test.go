package model

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercent(t *testing.T) {
	for _, v := range []float64{0, 42.5, 100} {
		p := Percent(v)
		require.NotNil(t, p, "%v", v)
		assert.Equal(t, v, *p)
	}
	for _, v := range []float64{-0.1, 100.01, math.NaN(), math.Inf(1)} {
		assert.Nil(t, Percent(v), "%v", v)
	}
}

func TestNewScorePair(t *testing.T) {
	ai, plag := 55.0, 140.0
	p := NewScorePair(&ai, &plag)
	require.NotNil(t, p.AI)
	assert.Equal(t, 55.0, *p.AI)
	assert.Nil(t, p.Plagiarism, "out-of-range values are discarded")
	assert.False(t, p.Empty())

	assert.True(t, NewScorePair(nil, nil).Empty())
}

func TestScorePair_String(t *testing.T) {
	assert.Equal(t, "ai=64.0% plagiarism=n/a", ScorePair{AI: Percent(64)}.String())
	assert.Equal(t, "ai=n/a plagiarism=n/a", ScorePair{}.String())
}

func TestScorePair_JSONNulls(t *testing.T) {
	data, err := json.Marshal(ScorePair{Plagiarism: Percent(3)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ai_score":null,"plagiarism_score":3}`, string(data))
}
