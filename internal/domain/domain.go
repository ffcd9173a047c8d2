package domain

import "time"

// Candidate is one option under evaluation. Info is opaque to the engine;
// its semantics belong to the judge.
type Candidate struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Info map[string]any `json:"info,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// Scenario is a synthetic usage context against which candidates are
// compared exactly once per batch.
type Scenario struct {
	ScenarioID  string `json:"scenario_id"`
	Description string `json:"description"`
}

// Verdict is what the judge returns for one comparison.
type Verdict struct {
	WinnerID  string `json:"winner_id"`
	Reasoning string `json:"reasoning"`
}

// ScenarioOutcome records the result of judging one scenario. On judge
// failure WinnerID is empty and Error carries the cause; the scenario still
// counts toward the batch's total.
type ScenarioOutcome struct {
	ScenarioID          string  `json:"scenario_id"`
	ScenarioDescription string  `json:"scenario_description"`
	WinnerID            string  `json:"winner_id,omitempty"`
	Reasoning           string  `json:"reasoning,omitempty"`
	ProcessingTime      float64 `json:"processing_time"`
	Error               string  `json:"error,omitempty"`
}

// Failed reports whether this scenario produced no winner.
func (o ScenarioOutcome) Failed() bool { return o.Error != "" }

// BatchResult aggregates one batch run. Results and WinRate are keyed by
// every candidate id, zero-filled. WinRate divides by TotalTests, so failed
// scenarios count against every candidate.
type BatchResult struct {
	TotalTests      int                `json:"total_tests"`
	Results         map[string]int     `json:"results"`
	WinRate         map[string]float64 `json:"win_rate"`
	ScenarioDetails []ScenarioOutcome  `json:"scenario_details"`
}

// RankResult is the outcome of a single ranking operation.
type RankResult struct {
	BestCandidateID string  `json:"best_candidate_id"`
	Reasoning       string  `json:"reasoning"`
	ProcessingTime  float64 `json:"processing_time"`
}

// Task statuses. Transitions are monotonic:
// pending -> processing -> completed | failed.
const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// Task types, one per async operation.
const (
	TaskTypeRank     = "rank"
	TaskTypeRankURLs = "rank_urls"
	TaskTypeBatchRun = "batch_run"
)

// TerminalStatus reports whether s is a terminal task status.
func TerminalStatus(s string) bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is one unit of asynchronous work with an observable lifecycle.
// Result is present iff completed, Error iff failed.
type Task struct {
	ID         string  `json:"task_id"`
	Type       string  `json:"task_type" enum:"rank,rank_urls,batch_run"`
	Status     string  `json:"status" enum:"pending,processing,completed,failed"`
	WebhookURL string  `json:"webhook_url,omitempty"`
	StartTime  string  `json:"start_time" format:"date-time"`
	CloseTime  *string `json:"close_time,omitempty" format:"date-time"`
	Result     *string `json:"result,omitempty"`
	Error      *string `json:"error,omitempty"`
}

// WebhookPayload is the completion notice delivered to a task's webhook URL.
type WebhookPayload struct {
	TaskID    string    `json:"task_id"`
	TaskType  string    `json:"task_type"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Event is one row of the task lifecycle log.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	TaskID  string `json:"task_id,omitempty"`
	Payload string `json:"payload_json"`
}
