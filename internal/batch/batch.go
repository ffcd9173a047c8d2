// Package batch drives adversarial ranking runs: it fans N scenarios out to
// the judge under bounded concurrency, absorbs per-scenario failures, and
// folds the outcomes into win counts and win rates.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"

	"rankarena/internal/domain"
	"rankarena/internal/judge"
)

// ProgressFunc receives (completed, total) after every finished scenario.
type ProgressFunc func(current, total int)

// Runner executes batches against a judge. Callers are expected to pass at
// least two candidates; the runner itself does not validate candidate count.
type Runner struct {
	Judge           judge.Judge
	Concurrency     int
	ScenarioTimeout time.Duration
}

// Execute runs every scenario to completion and aggregates the outcomes.
// Scenario execution order is unconstrained, but the returned
// ScenarioDetails preserve submission order. A single scenario failure
// never aborts the batch.
func (r Runner) Execute(ctx context.Context, candidates []domain.Candidate, scenarios []domain.Scenario, progress ProgressFunc) domain.BatchResult {
	total := len(scenarios)
	outcomes := make([]domain.ScenarioOutcome, total)

	var mu sync.Mutex
	completed := 0

	g := new(errgroup.Group)
	limit := r.Concurrency
	if limit <= 0 {
		limit = 3
	}
	g.SetLimit(limit)

	for i, sc := range scenarios {
		g.Go(func() error {
			outcomes[i] = r.runScenario(ctx, sc, candidates)
			mu.Lock()
			completed++
			if progress != nil {
				progress(completed, total)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return Aggregate(outcomes, candidates)
}

// runScenario invokes the judge once and maps success or failure into an
// outcome. The timer here is a hard bound independent of whatever timeout
// the judge implementation carries itself.
func (r Runner) runScenario(ctx context.Context, sc domain.Scenario, candidates []domain.Candidate) domain.ScenarioOutcome {
	out := domain.ScenarioOutcome{
		ScenarioID:          sc.ScenarioID,
		ScenarioDescription: sc.Description,
	}
	timeout := r.ScenarioTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	jctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type rankReply struct {
		verdict domain.Verdict
		err     error
	}
	start := time.Now()
	replyCh := make(chan rankReply, 1)
	go func() {
		v, err := r.Judge.Rank(jctx, sc.Description, candidates)
		replyCh <- rankReply{verdict: v, err: err}
	}()

	var reply rankReply
	select {
	case reply = <-replyCh:
	case <-jctx.Done():
		reply.err = fmt.Errorf("judge timed out after %s", timeout)
	}
	out.ProcessingTime = time.Since(start).Seconds()

	if reply.err != nil {
		clog.FromContext(ctx).With("scenario_id", sc.ScenarioID).
			With("error", reply.err.Error()).
			Warn("scenario judging failed")
		out.Error = reply.err.Error()
		return out
	}
	if !hasCandidate(candidates, reply.verdict.WinnerID) {
		out.Error = fmt.Sprintf("judge returned unknown winner id %q", reply.verdict.WinnerID)
		return out
	}
	out.WinnerID = reply.verdict.WinnerID
	out.Reasoning = reply.verdict.Reasoning
	return out
}

// Aggregate computes win counts and rates over a finished batch. Every
// candidate id appears in both maps even with zero wins; failed scenarios
// contribute to TotalTests but to no candidate's count, so the rate
// denominator stays TotalTests.
func Aggregate(outcomes []domain.ScenarioOutcome, candidates []domain.Candidate) domain.BatchResult {
	counts := make(map[string]int, len(candidates))
	rates := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		counts[c.ID] = 0
		rates[c.ID] = 0
	}
	for _, o := range outcomes {
		if o.Failed() {
			continue
		}
		if _, ok := counts[o.WinnerID]; ok {
			counts[o.WinnerID]++
		}
	}
	total := len(outcomes)
	if total > 0 {
		for id, n := range counts {
			rates[id] = float64(n) / float64(total)
		}
	}
	details := outcomes
	if details == nil {
		details = []domain.ScenarioOutcome{}
	}
	return domain.BatchResult{
		TotalTests:      total,
		Results:         counts,
		WinRate:         rates,
		ScenarioDetails: details,
	}
}

func hasCandidate(candidates []domain.Candidate, id string) bool {
	for _, c := range candidates {
		if c.ID == id {
			return true
		}
	}
	return false
}
