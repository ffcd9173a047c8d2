package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"

	"rankarena/internal/batch"
	"rankarena/internal/config"
	"rankarena/internal/domain"
	"rankarena/internal/events"
	"rankarena/internal/fetch"
	"rankarena/internal/judge"
	"rankarena/internal/progress"
	"rankarena/internal/repo"
	"rankarena/internal/scenario"
	"rankarena/internal/webhook"
)

// ErrStillProcessing signals a result fetch on a task that has not reached
// a terminal state yet.
var ErrStillProcessing = errors.New("task still processing")

// TaskFailedError carries the stored error payload of a failed task.
type TaskFailedError struct {
	TaskID  string
	Message string
}

func (e TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message)
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Judge     judge.Judge
	Completer judge.Completer
	Fetcher   *fetch.Fetcher
	Notifier  *webhook.Notifier
	Progress  *progress.Hub
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config, j judge.Judge, c judge.Completer) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Judge:     j,
		Completer: c,
		Fetcher:   fetch.New(cfg.FetchTimeout(), cfg.Fetch.Concurrency, cfg.Fetch.MaxContentChars),
		Notifier:  webhook.New(cfg.WebhookTimeout(), cfg.WebhookBackoff(), cfg.Webhook.MaxAttempts),
		Progress:  progress.NewHub(),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Operation payloads. These are also the request shapes stored with async
// tasks, so a worker can replay them from the registry.

type RankRequest struct {
	TaskDescription string             `json:"task_description"`
	Candidates      []domain.Candidate `json:"candidates"`
}

type URLRankRequest struct {
	TaskDescription string   `json:"task_description"`
	URLs            []string `json:"urls"`
}

type BatchRunRequest struct {
	Candidates   []domain.Candidate `json:"candidates"`
	Scenarios    []domain.Scenario  `json:"scenarios,omitempty"`
	NumScenarios int                `json:"num_scenarios,omitempty"`
	CustomQuery  string             `json:"custom_query,omitempty"`
	SessionID    string             `json:"session_id,omitempty"`
}

func validateCandidates(candidates []domain.Candidate) error {
	if len(candidates) < 2 {
		return errors.New("at least 2 candidates are required")
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c.ID == "" {
			return errors.New("candidate id is required")
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("duplicate candidate id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

// RankOnce judges one task description against the candidate set.
func (e Engine) RankOnce(ctx context.Context, req RankRequest) (domain.RankResult, error) {
	if req.TaskDescription == "" {
		return domain.RankResult{}, errors.New("task_description is required")
	}
	if err := validateCandidates(req.Candidates); err != nil {
		return domain.RankResult{}, err
	}
	candidates := e.Fetcher.EnrichCandidates(ctx, req.Candidates)

	jctx, cancel := context.WithTimeout(ctx, e.Config.JudgeTimeout())
	defer cancel()
	start := e.now()
	verdict, err := e.Judge.Rank(jctx, req.TaskDescription, candidates)
	if err != nil {
		return domain.RankResult{}, fmt.Errorf("ranking failed: %w", err)
	}
	if !candidateExists(candidates, verdict.WinnerID) {
		return domain.RankResult{}, fmt.Errorf("judge returned unknown winner id %q", verdict.WinnerID)
	}
	return domain.RankResult{
		BestCandidateID: verdict.WinnerID,
		Reasoning:       verdict.Reasoning,
		ProcessingTime:  time.Since(start).Seconds(),
	}, nil
}

// RankURLs fetches the URLs, builds candidates from their content, and
// judges once.
func (e Engine) RankURLs(ctx context.Context, req URLRankRequest) (domain.RankResult, error) {
	if len(req.URLs) < 2 || len(req.URLs) > 10 {
		return domain.RankResult{}, errors.New("between 2 and 10 urls are required")
	}
	return e.RankOnce(ctx, RankRequest{
		TaskDescription: req.TaskDescription,
		Candidates:      fetch.CandidatesFromURLs(req.URLs),
	})
}

// GenerateScenarios produces scenario descriptions for the candidate set.
func (e Engine) GenerateScenarios(ctx context.Context, candidates []domain.Candidate, count int, customQuery string) ([]domain.Scenario, error) {
	if err := validateCandidates(candidates); err != nil {
		return nil, err
	}
	if count <= 0 {
		count = e.Config.Batch.DefaultScenarios
	}
	if count < 2 || count > 20 {
		return nil, errors.New("num_scenarios must be between 2 and 20")
	}
	gen := scenario.Generator{Completer: e.Completer}
	return gen.Generate(ctx, candidates, count, customQuery), nil
}

// RunBatch executes one full batch: URL enrichment, scenario generation
// when none were supplied, fan-out judging, aggregation. Progress updates
// flow to the request's session until the batch ends.
func (e Engine) RunBatch(ctx context.Context, req BatchRunRequest) (domain.BatchResult, error) {
	// Close the session on every exit so subscribers always see the end of
	// the stream, error paths included.
	var sink batch.ProgressFunc
	if req.SessionID != "" {
		sink = e.Progress.Sink(req.SessionID)
		defer e.Progress.Close(req.SessionID)
	}

	if err := validateCandidates(req.Candidates); err != nil {
		return domain.BatchResult{}, err
	}
	candidates := e.Fetcher.EnrichCandidates(ctx, req.Candidates)

	scenarios := req.Scenarios
	if len(scenarios) == 0 {
		var err error
		scenarios, err = e.GenerateScenarios(ctx, candidates, req.NumScenarios, req.CustomQuery)
		if err != nil {
			return domain.BatchResult{}, err
		}
	}

	runner := batch.Runner{
		Judge:           e.Judge,
		Concurrency:     e.Config.Batch.Concurrency,
		ScenarioTimeout: e.Config.JudgeTimeout(),
	}
	result := runner.Execute(ctx, candidates, scenarios, sink)
	clog.FromContext(ctx).With("total_tests", result.TotalTests).
		With("candidates", len(candidates)).
		Info("batch run finished")
	return result, nil
}

func candidateExists(candidates []domain.Candidate, id string) bool {
	for _, c := range candidates {
		if c.ID == id {
			return true
		}
	}
	return false
}
