package judge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rankarena/internal/domain"
)

func TestParseVerdict(t *testing.T) {
	v, err := ParseVerdict(`{"best_candidate_id":"alpha","reasoning":"clearer docs"}`)
	require.NoError(t, err)
	assert.Equal(t, "alpha", v.WinnerID)
	assert.Equal(t, "clearer docs", v.Reasoning)
}

func TestParseVerdictFenced(t *testing.T) {
	raw := "```json\n{\"best_candidate_id\":\"beta\",\"reasoning\":\"faster\"}\n```"
	v, err := ParseVerdict(raw)
	require.NoError(t, err)
	assert.Equal(t, "beta", v.WinnerID)
}

func TestParseVerdictMissingWinner(t *testing.T) {
	_, err := ParseVerdict(`{"reasoning":"no pick"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "best_candidate_id")
}

func TestParseVerdictGarbage(t *testing.T) {
	_, err := ParseVerdict("I think alpha is best")
	require.Error(t, err)
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, StripFences(c.in))
	}
}

func TestCandidatesTextTruncatesOverBudget(t *testing.T) {
	long := strings.Repeat("x", 2000)
	candidates := []domain.Candidate{
		{ID: "a", Name: "A", Info: map[string]any{"description": long}},
		{ID: "b", Name: "B", Info: map[string]any{"description": long}},
	}

	full := candidatesText(candidates, 0)
	assert.Contains(t, full, long)

	trimmed := candidatesText(candidates, 500)
	assert.NotContains(t, trimmed, long)
	assert.Contains(t, trimmed, "...(truncated)")
	assert.Contains(t, trimmed, "ID: a")
	assert.Contains(t, trimmed, "ID: b")
}

func TestCandidatesTextUnderBudgetUntouched(t *testing.T) {
	candidates := []domain.Candidate{
		{ID: "a", Name: "A", Info: map[string]any{"description": "short"}},
		{ID: "b", Name: "B"},
	}
	out := candidatesText(candidates, 8000)
	assert.Contains(t, out, "short")
	assert.NotContains(t, out, "truncated")
}
