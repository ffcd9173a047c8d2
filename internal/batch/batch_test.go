package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rankarena/internal/domain"
)

// fakeJudge returns a canned winner per scenario description, with optional
// per-call delay and error injection.
type fakeJudge struct {
	winner func(taskDescription string) (string, error)
	delay  time.Duration
}

func (f fakeJudge) Rank(ctx context.Context, taskDescription string, candidates []domain.Candidate) (domain.Verdict, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.Verdict{}, ctx.Err()
		}
	}
	id, err := f.winner(taskDescription)
	if err != nil {
		return domain.Verdict{}, err
	}
	return domain.Verdict{WinnerID: id, Reasoning: "because " + id}, nil
}

func twoCandidates() []domain.Candidate {
	return []domain.Candidate{
		{ID: "alpha", Name: "Alpha"},
		{ID: "beta", Name: "Beta"},
	}
}

func scenarios(n int) []domain.Scenario {
	out := make([]domain.Scenario, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Scenario{
			ScenarioID:  fmt.Sprintf("s%d", i),
			Description: fmt.Sprintf("scenario %d", i),
		})
	}
	return out
}

func TestExecuteReportsOutcomesInInputOrder(t *testing.T) {
	// Random delays force completions out of order; the report must still
	// follow submission order.
	j := fakeJudge{
		winner: func(string) (string, error) {
			time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
			return "alpha", nil
		},
	}
	r := Runner{Judge: j, Concurrency: 3, ScenarioTimeout: time.Second}
	scs := scenarios(8)

	res := r.Execute(context.Background(), twoCandidates(), scs, nil)

	require.Len(t, res.ScenarioDetails, len(scs))
	for i, d := range res.ScenarioDetails {
		assert.Equal(t, scs[i].ScenarioID, d.ScenarioID)
		assert.Equal(t, scs[i].Description, d.ScenarioDescription)
		assert.Equal(t, "alpha", d.WinnerID)
	}
	assert.Equal(t, len(scs), res.TotalTests)
	assert.Equal(t, len(scs), res.Results["alpha"])
	assert.Equal(t, 0, res.Results["beta"])
}

func TestExecuteAbsorbsJudgeFailures(t *testing.T) {
	j := fakeJudge{winner: func(desc string) (string, error) {
		if strings.Contains(desc, "3") {
			return "", errors.New("model unavailable")
		}
		return "beta", nil
	}}
	r := Runner{Judge: j, Concurrency: 2, ScenarioTimeout: time.Second}
	scs := scenarios(5)

	res := r.Execute(context.Background(), twoCandidates(), scs, nil)

	require.Len(t, res.ScenarioDetails, 5)
	assert.True(t, res.ScenarioDetails[3].Failed())
	assert.Contains(t, res.ScenarioDetails[3].Error, "model unavailable")
	assert.Equal(t, 4, res.Results["beta"])
	// A failed scenario still counts against everyone's win rate.
	assert.Equal(t, 5, res.TotalTests)
	assert.InDelta(t, 0.8, res.WinRate["beta"], 1e-9)
	assert.InDelta(t, 0.0, res.WinRate["alpha"], 1e-9)
}

func TestExecuteUnknownWinnerFailsScenario(t *testing.T) {
	j := fakeJudge{winner: func(string) (string, error) { return "gamma", nil }}
	r := Runner{Judge: j, Concurrency: 1, ScenarioTimeout: time.Second}

	res := r.Execute(context.Background(), twoCandidates(), scenarios(2), nil)

	for _, d := range res.ScenarioDetails {
		assert.True(t, d.Failed())
		assert.Contains(t, d.Error, "unknown winner")
	}
	assert.Equal(t, 0, res.Results["alpha"])
	assert.Equal(t, 0, res.Results["beta"])
}

func TestExecuteScenarioTimeout(t *testing.T) {
	j := fakeJudge{
		winner: func(string) (string, error) { return "alpha", nil },
		delay:  time.Second,
	}
	r := Runner{Judge: j, Concurrency: 2, ScenarioTimeout: 20 * time.Millisecond}

	start := time.Now()
	res := r.Execute(context.Background(), twoCandidates(), scenarios(2), nil)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	for _, d := range res.ScenarioDetails {
		assert.True(t, d.Failed())
	}
}

func TestExecuteProgress(t *testing.T) {
	j := fakeJudge{winner: func(string) (string, error) { return "alpha", nil }}
	r := Runner{Judge: j, Concurrency: 3, ScenarioTimeout: time.Second}
	scs := scenarios(6)

	var mu sync.Mutex
	var seen []int
	r.Execute(context.Background(), twoCandidates(), scs, func(current, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, len(scs), total)
		seen = append(seen, current)
	})

	require.Len(t, seen, len(scs))
	for i, c := range seen {
		assert.Equal(t, i+1, c, "progress must be monotonic")
	}
}

func TestExecuteProgressMonotonicUnderContention(t *testing.T) {
	// Wide concurrency plus jittered judge latency makes many goroutines
	// finish back to back; every published current must still increase by
	// exactly one.
	j := fakeJudge{winner: func(string) (string, error) {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
		return "alpha", nil
	}}
	r := Runner{Judge: j, Concurrency: 32, ScenarioTimeout: time.Second}
	scs := scenarios(64)

	var seen []int
	r.Execute(context.Background(), twoCandidates(), scs, func(current, total int) {
		seen = append(seen, current)
	})

	require.Len(t, seen, len(scs))
	for i, c := range seen {
		require.Equal(t, i+1, c, "published progress went backwards")
	}
}

func TestExecuteNoScenarios(t *testing.T) {
	j := fakeJudge{winner: func(string) (string, error) { return "alpha", nil }}
	r := Runner{Judge: j, Concurrency: 3, ScenarioTimeout: time.Second}

	res := r.Execute(context.Background(), twoCandidates(), nil, nil)

	assert.Equal(t, 0, res.TotalTests)
	assert.NotNil(t, res.ScenarioDetails)
	assert.Empty(t, res.ScenarioDetails)
	assert.Equal(t, 0, res.Results["alpha"])
	assert.Equal(t, 0.0, res.WinRate["alpha"])
}

func TestAggregateZeroFillsAllCandidates(t *testing.T) {
	outcomes := []domain.ScenarioOutcome{
		{ScenarioID: "s0", WinnerID: "alpha"},
		{ScenarioID: "s1", WinnerID: "alpha"},
		{ScenarioID: "s2", Error: "boom"},
	}
	res := Aggregate(outcomes, twoCandidates())

	assert.Equal(t, 3, res.TotalTests)
	assert.Equal(t, 2, res.Results["alpha"])
	assert.Equal(t, 0, res.Results["beta"])
	assert.InDelta(t, 2.0/3.0, res.WinRate["alpha"], 1e-9)
	assert.InDelta(t, 0.0, res.WinRate["beta"], 1e-9)
}
