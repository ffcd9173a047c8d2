package server

import (
	"encoding/json"

	"rankarena/internal/domain"
	"rankarena/internal/engine"
)

type CandidateRequest struct {
	ID   string         `json:"id"`
	Name string         `json:"name,omitempty"`
	Info map[string]any `json:"info,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type RankRequest struct {
	TaskDescription string             `json:"task_description"`
	Candidates      []CandidateRequest `json:"candidates"`
}

type AsyncRankRequest struct {
	RankRequest
	WebhookURL string `json:"webhook_url,omitempty"`
}

type URLRankRequest struct {
	TaskDescription string   `json:"task_description"`
	URLs            []string `json:"urls"`
}

type AsyncURLRankRequest struct {
	URLRankRequest
	WebhookURL string `json:"webhook_url,omitempty"`
}

type GenerateScenariosRequest struct {
	Candidates   []CandidateRequest `json:"candidates"`
	NumScenarios int                `json:"num_scenarios,omitempty"`
	CustomQuery  string             `json:"custom_query,omitempty"`
}

type BatchRunRequest struct {
	Candidates   []CandidateRequest `json:"candidates"`
	Scenarios    []ScenarioPayload  `json:"scenarios,omitempty"`
	NumScenarios int                `json:"num_scenarios,omitempty"`
	CustomQuery  string             `json:"custom_query,omitempty"`
	SessionID    string             `json:"session_id,omitempty"`
}

type AsyncBatchRunRequest struct {
	BatchRunRequest
	WebhookURL string `json:"webhook_url,omitempty"`
}

type ScenarioPayload struct {
	ScenarioID  string `json:"scenario_id"`
	Description string `json:"description"`
}

type RankResponse struct {
	BestCandidateID string  `json:"best_candidate_id"`
	Reasoning       string  `json:"reasoning"`
	ProcessingTime  float64 `json:"processing_time"`
}

type ScenarioListResponse struct {
	Scenarios []ScenarioPayload `json:"scenarios"`
}

type ScenarioOutcomeResponse struct {
	ScenarioID          string  `json:"scenario_id"`
	ScenarioDescription string  `json:"scenario_description"`
	WinnerID            string  `json:"winner_id,omitempty"`
	Reasoning           string  `json:"reasoning,omitempty"`
	ProcessingTime      float64 `json:"processing_time"`
	Error               string  `json:"error,omitempty"`
}

type BatchRunResponse struct {
	TotalTests      int                       `json:"total_tests"`
	Results         map[string]int            `json:"results"`
	WinRate         map[string]float64        `json:"win_rate"`
	ScenarioDetails []ScenarioOutcomeResponse `json:"scenario_details"`
}

type TaskSubmitResponse struct {
	TaskID    string `json:"task_id"`
	TaskType  string `json:"task_type"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	TaskID    string          `json:"task_id"`
	TaskType  string          `json:"task_type"`
	Status    string          `json:"status"`
	StartTime string          `json:"start_time"`
	CloseTime *string         `json:"close_time,omitempty"`
	Error     *string         `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

type TaskResultResponse struct {
	TaskID string          `json:"task_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

func candidatesFromRequest(in []CandidateRequest) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(in))
	for _, c := range in {
		out = append(out, domain.Candidate{ID: c.ID, Name: c.Name, Info: c.Info})
	}
	return out
}

func scenariosFromRequest(in []ScenarioPayload) []domain.Scenario {
	out := make([]domain.Scenario, 0, len(in))
	for _, s := range in {
		out = append(out, domain.Scenario{ScenarioID: s.ScenarioID, Description: s.Description})
	}
	return out
}

func batchRunRequest(in BatchRunRequest) engine.BatchRunRequest {
	return engine.BatchRunRequest{
		Candidates:   candidatesFromRequest(in.Candidates),
		Scenarios:    scenariosFromRequest(in.Scenarios),
		NumScenarios: in.NumScenarios,
		CustomQuery:  in.CustomQuery,
		SessionID:    in.SessionID,
	}
}

func rankResponse(r domain.RankResult) RankResponse {
	return RankResponse{
		BestCandidateID: r.BestCandidateID,
		Reasoning:       r.Reasoning,
		ProcessingTime:  r.ProcessingTime,
	}
}

func scenarioListResponse(scenarios []domain.Scenario) ScenarioListResponse {
	resp := ScenarioListResponse{Scenarios: []ScenarioPayload{}}
	for _, s := range scenarios {
		resp.Scenarios = append(resp.Scenarios, ScenarioPayload{ScenarioID: s.ScenarioID, Description: s.Description})
	}
	return resp
}

func batchRunResponse(r domain.BatchResult) BatchRunResponse {
	resp := BatchRunResponse{
		TotalTests:      r.TotalTests,
		Results:         r.Results,
		WinRate:         r.WinRate,
		ScenarioDetails: []ScenarioOutcomeResponse{},
	}
	for _, o := range r.ScenarioDetails {
		resp.ScenarioDetails = append(resp.ScenarioDetails, ScenarioOutcomeResponse{
			ScenarioID:          o.ScenarioID,
			ScenarioDescription: o.ScenarioDescription,
			WinnerID:            o.WinnerID,
			Reasoning:           o.Reasoning,
			ProcessingTime:      o.ProcessingTime,
			Error:               o.Error,
		})
	}
	return resp
}

func submitResponse(t domain.Task) TaskSubmitResponse {
	return TaskSubmitResponse{
		TaskID:    t.ID,
		TaskType:  t.Type,
		Status:    t.Status,
		Message:   "task submitted successfully",
		CreatedAt: t.StartTime,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	resp := TaskResponse{
		TaskID:    t.ID,
		TaskType:  t.Type,
		Status:    t.Status,
		StartTime: t.StartTime,
		CloseTime: t.CloseTime,
		Error:     t.Error,
	}
	// The stored result is only surfaced once the task is completed.
	if t.Status == domain.TaskCompleted && t.Result != nil {
		resp.Result = json.RawMessage(*t.Result)
	}
	return resp
}

func mapTasks(tasks []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse(t))
	}
	return out
}
