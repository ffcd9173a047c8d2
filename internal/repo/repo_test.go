package repo_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rankarena/internal/db"
	"rankarena/internal/domain"
	"rankarena/internal/events"
	"rankarena/internal/migrate"
	"rankarena/internal/repo"
)

func openTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}
}

func insertPending(t *testing.T, r repo.Repo, id string) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	task := domain.Task{
		ID:        id,
		Type:      domain.TaskTypeRank,
		Status:    domain.TaskPending,
		StartTime: time.Now().UTC().Format(time.RFC3339),
	}
	require.NoError(t, r.InsertTask(ctx, tx, task, `{"task_description":"t"}`))
	require.NoError(t, tx.Commit())
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := r.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func TestGetTaskNotFound(t *testing.T) {
	r := openTestRepo(t)
	_, err := r.GetTask(context.Background(), "nope")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestClaimTaskExactlyOnce(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()
	insertPending(t, r, "t1")

	err := inTx(t, r, func(tx *sql.Tx) error { return r.ClaimTask(ctx, tx, "t1") })
	require.NoError(t, err)

	err = inTx(t, r, func(tx *sql.Tx) error { return r.ClaimTask(ctx, tx, "t1") })
	assert.ErrorIs(t, err, repo.ErrConflict)

	got, err := r.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskProcessing, got.Status)
}

func TestCompleteTaskRequiresProcessing(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()
	insertPending(t, r, "t1")
	closeTime := time.Now().UTC().Format(time.RFC3339)

	err := inTx(t, r, func(tx *sql.Tx) error {
		return r.CompleteTask(ctx, tx, "t1", `{"ok":true}`, closeTime)
	})
	assert.ErrorIs(t, err, repo.ErrConflict, "completing a pending task must fail")

	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error { return r.ClaimTask(ctx, tx, "t1") }))
	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error {
		return r.CompleteTask(ctx, tx, "t1", `{"ok":true}`, closeTime)
	}))

	got, err := r.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.JSONEq(t, `{"ok":true}`, *got.Result)
	require.NotNil(t, got.CloseTime)

	// Terminal states are final.
	err = inTx(t, r, func(tx *sql.Tx) error {
		return r.FailTask(ctx, tx, "t1", "late failure", closeTime)
	})
	assert.ErrorIs(t, err, repo.ErrConflict)
}

func TestFailTaskStoresError(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()
	insertPending(t, r, "t1")
	closeTime := time.Now().UTC().Format(time.RFC3339)

	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error { return r.ClaimTask(ctx, tx, "t1") }))
	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error {
		return r.FailTask(ctx, tx, "t1", "judge melted", closeTime)
	}))

	got, err := r.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "judge melted", *got.Error)
	assert.Nil(t, got.Result)
}

func TestTaskRequestRoundTrip(t *testing.T) {
	r := openTestRepo(t)
	insertPending(t, r, "t1")

	raw, err := r.TaskRequest(context.Background(), "t1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"task_description":"t"}`, raw)

	_, err = r.TaskRequest(context.Background(), "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestListEventsFilter(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()
	w := events.Writer{DB: r.DB}
	insertPending(t, r, "t1")
	insertPending(t, r, "t2")

	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error {
		if err := w.Append(ctx, tx, events.TaskCreated, "t1", nil); err != nil {
			return err
		}
		return w.Append(ctx, tx, events.TaskCreated, "t2", nil)
	}))
	require.NoError(t, w.AppendDirect(ctx, events.TaskCompleted, "t1", events.EventPayload{"n": 1}))

	all, err := r.ListEvents(ctx, 10, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, events.TaskCompleted, all[0].Type)

	only, err := r.ListEvents(ctx, 10, "t1")
	require.NoError(t, err)
	assert.Len(t, only, 2)
	for _, ev := range only {
		assert.Equal(t, "t1", ev.TaskID)
	}
}
