package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"

	"rankarena/internal/domain"
	"rankarena/internal/events"
	"rankarena/internal/repo"
)

// SubmitTask registers an async task and kicks off its worker. Submission
// never blocks on the operation: the returned task is in pending state and
// the caller polls for progress.
func (e Engine) SubmitTask(ctx context.Context, taskType string, request any, webhookURL string) (domain.Task, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return domain.Task{}, fmt.Errorf("marshal task request: %w", err)
	}
	if err := validateTaskRequest(taskType, payload); err != nil {
		return domain.Task{}, err
	}

	t := domain.Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		Status:     domain.TaskPending,
		WebhookURL: webhookURL,
		StartTime:  e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t, string(payload)); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, t.ID, events.EventPayload{"task_type": taskType}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}

	go e.runTask(detach(ctx), t.ID)
	return t, nil
}

// validateTaskRequest rejects malformed submissions up front; judge-side
// failures surface later through the task's failed state, never here.
func validateTaskRequest(taskType string, payload []byte) error {
	switch taskType {
	case domain.TaskTypeRank:
		var req RankRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return err
		}
		if req.TaskDescription == "" {
			return errors.New("task_description is required")
		}
		return validateCandidates(req.Candidates)
	case domain.TaskTypeRankURLs:
		var req URLRankRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return err
		}
		if len(req.URLs) < 2 || len(req.URLs) > 10 {
			return errors.New("between 2 and 10 urls are required")
		}
		return nil
	case domain.TaskTypeBatchRun:
		var req BatchRunRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return err
		}
		return validateCandidates(req.Candidates)
	default:
		return fmt.Errorf("unknown task type %q", taskType)
	}
}

// runTask is the task worker: claim exactly once, execute, commit exactly
// one terminal state, then fire the webhook.
func (e Engine) runTask(ctx context.Context, taskID string) {
	log := clog.FromContext(ctx).With("task_id", taskID)

	if err := e.claimTask(ctx, taskID); err != nil {
		if !errors.Is(err, repo.ErrConflict) {
			log.With("error", err.Error()).Error("task claim failed")
		}
		return
	}

	result, execErr := e.executeTask(ctx, taskID)
	if execErr != nil {
		log.With("error", execErr.Error()).Warn("task execution failed")
		if err := e.failTask(ctx, taskID, execErr.Error()); err != nil {
			log.With("error", err.Error()).Error("task fail transition lost")
			return
		}
	} else {
		if err := e.completeTask(ctx, taskID, result); err != nil {
			log.With("error", err.Error()).Error("task complete transition lost")
			return
		}
	}
	e.notifyWebhook(ctx, taskID, execErr)
}

func (e Engine) claimTask(ctx context.Context, taskID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.ClaimTask(ctx, tx, taskID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TaskProcessing, taskID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) executeTask(ctx context.Context, taskID string) (string, error) {
	raw, err := e.Repo.TaskRequest(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("load task request: %w", err)
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("load task: %w", err)
	}

	var result any
	switch t.Type {
	case domain.TaskTypeRank:
		var req RankRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return "", err
		}
		result, err = e.RankOnce(ctx, req)
	case domain.TaskTypeRankURLs:
		var req URLRankRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return "", err
		}
		result, err = e.RankURLs(ctx, req)
	case domain.TaskTypeBatchRun:
		var req BatchRunRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return "", err
		}
		result, err = e.RunBatch(ctx, req)
	default:
		return "", fmt.Errorf("unknown task type %q", t.Type)
	}
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal task result: %w", err)
	}
	return string(data), nil
}

func (e Engine) completeTask(ctx context.Context, taskID, resultJSON string) error {
	closeTime := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.CompleteTask(ctx, tx, taskID, resultJSON, closeTime); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TaskCompleted, taskID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) failTask(ctx context.Context, taskID, errMsg string) error {
	closeTime := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.FailTask(ctx, tx, taskID, errMsg, closeTime); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TaskFailed, taskID, events.EventPayload{"error": errMsg}); err != nil {
		return err
	}
	return tx.Commit()
}

// notifyWebhook delivers the terminal notice if the task asked for one.
// Delivery outcome lands in the event log; the task state never changes.
func (e Engine) notifyWebhook(ctx context.Context, taskID string, execErr error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil || t.WebhookURL == "" {
		return
	}
	payload := domain.WebhookPayload{
		TaskID:    taskID,
		TaskType:  t.Type,
		Status:    t.Status,
		Timestamp: e.now().UTC(),
	}
	if execErr != nil {
		payload.Error = execErr.Error()
	}
	if err := e.Notifier.Notify(ctx, t.WebhookURL, payload); err != nil {
		clog.FromContext(ctx).With("task_id", taskID).
			With("error", err.Error()).
			Warn("webhook delivery abandoned")
		_ = e.Events.AppendDirect(ctx, events.WebhookFailed, taskID, events.EventPayload{"error": err.Error()})
		return
	}
	_ = e.Events.AppendDirect(ctx, events.WebhookDelivered, taskID, nil)
}

// PollTask returns the current status snapshot of a task.
func (e Engine) PollTask(ctx context.Context, taskID string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, taskID)
}

// FetchResult returns the stored result JSON of a completed task. It
// returns ErrStillProcessing for non-terminal tasks and a TaskFailedError
// carrying the stored error for failed ones.
func (e Engine) FetchResult(ctx context.Context, taskID string) (string, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	switch t.Status {
	case domain.TaskPending, domain.TaskProcessing:
		return "", ErrStillProcessing
	case domain.TaskFailed:
		msg := "task execution failed"
		if t.Error != nil {
			msg = *t.Error
		}
		return "", TaskFailedError{TaskID: taskID, Message: msg}
	}
	if t.Result == nil {
		return "", fmt.Errorf("task %s completed without result", taskID)
	}
	return *t.Result, nil
}

// detach keeps the logger but drops the caller's cancellation, so an HTTP
// disconnect cannot kill a running task.
func detach(ctx context.Context) context.Context {
	return clog.WithLogger(context.Background(), clog.FromContext(ctx))
}
