package repo

import (
	"context"
	"database/sql"
	"errors"

	"rankarena/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a task transition is attempted from the
// wrong state, e.g. claiming an already-claimed task.
var ErrConflict = errors.New("conflicting task state")

const taskColumns = `id,task_type,status,COALESCE(webhook_url,'') AS webhook_url,result_json,error,start_time,close_time`

func scanTask(row *sql.Row) (domain.Task, error) {
	var t domain.Task
	var result, errMsg, closeTime sql.NullString
	err := row.Scan(&t.ID, &t.Type, &t.Status, &t.WebhookURL, &result, &errMsg, &t.StartTime, &closeTime)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if result.Valid {
		t.Result = &result.String
	}
	if errMsg.Valid {
		t.Error = &errMsg.String
	}
	if closeTime.Valid {
		t.CloseTime = &closeTime.String
	}
	return t, nil
}

// InsertTask stores a freshly submitted task together with its request
// payload. The caller supplies status pending.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task, requestJSON string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tasks(id,task_type,status,webhook_url,request_json,start_time) VALUES (?,?,?,?,?,?)`,
		t.ID, t.Type, t.Status, nullable(t.WebhookURL), requestJSON, t.StartTime)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row)
}

// TaskRequest returns the stored request payload for a task.
func (r Repo) TaskRequest(ctx context.Context, id string) (string, error) {
	var req string
	err := r.DB.QueryRowContext(ctx, `SELECT request_json FROM tasks WHERE id=?`, id).Scan(&req)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return req, err
}

func (r Repo) ListTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,task_type,status,COALESCE(webhook_url,''),result_json,error,start_time,close_time FROM tasks ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var result, errMsg, closeTime sql.NullString
		if err := rows.Scan(&t.ID, &t.Type, &t.Status, &t.WebhookURL, &result, &errMsg, &t.StartTime, &closeTime); err != nil {
			return nil, err
		}
		if result.Valid {
			t.Result = &result.String
		}
		if errMsg.Valid {
			t.Error = &errMsg.String
		}
		if closeTime.Valid {
			t.CloseTime = &closeTime.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ClaimTask moves a task from pending to processing. Exactly one caller can
// win the claim; everyone else gets ErrConflict.
func (r Repo) ClaimTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status=? WHERE id=? AND status=?`,
		domain.TaskProcessing, id, domain.TaskPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// CompleteTask commits the terminal completed state together with the
// result in one statement, so a reader can never observe completed without
// a result.
func (r Repo) CompleteTask(ctx context.Context, tx *sql.Tx, id, resultJSON, closeTime string) error {
	return r.finishTask(ctx, tx, id,
		`UPDATE tasks SET status=?, result_json=?, close_time=? WHERE id=? AND status=?`,
		domain.TaskCompleted, resultJSON, closeTime, id, domain.TaskProcessing)
}

// FailTask commits the terminal failed state together with the error payload.
func (r Repo) FailTask(ctx context.Context, tx *sql.Tx, id, errMsg, closeTime string) error {
	return r.finishTask(ctx, tx, id,
		`UPDATE tasks SET status=?, error=?, close_time=? WHERE id=? AND status=?`,
		domain.TaskFailed, errMsg, closeTime, id, domain.TaskProcessing)
}

func (r Repo) finishTask(ctx context.Context, tx *sql.Tx, id, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (r Repo) ListEvents(ctx context.Context, limit int, taskID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,type,COALESCE(task_id,''),payload_json FROM events`
	args := []any{}
	if taskID != "" {
		query += ` WHERE task_id=?`
		args = append(args, taskID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.TaskID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
