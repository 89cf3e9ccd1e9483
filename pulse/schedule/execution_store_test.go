package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/internal/util"
)

func TestExecutionStoreLifecycle(t *testing.T) {
	conn := createTestDB(t)
	ctx := context.Background()

	job, err := NewStore(conn).Upsert(ctx, "bot1", "report", "@daily", base)
	require.NoError(t, err)

	execs := NewExecutionStore(conn)
	started := base.Format(time.RFC3339)
	exec := &Execution{
		ID:         "run-1",
		ScheduleID: job.ID,
		Status:     StatusRunning,
		StartedAt:  started,
		CreatedAt:  started,
		UpdatedAt:  started,
	}
	require.NoError(t, execs.CreateExecution(ctx, exec))

	exec.Status = StatusFailed
	exec.CompletedAt = util.Ptr(base.Add(time.Second).Format(time.RFC3339))
	exec.DurationMs = util.Ptr(1000)
	exec.ErrorMessage = util.Ptr("BASIC RUNTIME ERR: boom")
	require.NoError(t, execs.UpdateExecution(ctx, exec))

	list, err := execs.ListExecutions(ctx, job.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, StatusFailed, list[0].Status)
	require.NotNil(t, list[0].DurationMs)
	assert.Equal(t, 1000, *list[0].DurationMs)
	require.NotNil(t, list[0].ErrorMessage)
	assert.Equal(t, "BASIC RUNTIME ERR: boom", *list[0].ErrorMessage)
}

func TestExecutionStoreUpdateMissing(t *testing.T) {
	execs := NewExecutionStore(createTestDB(t))

	err := execs.UpdateExecution(context.Background(), &Execution{ID: "nope", Status: StatusCompleted})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestExecutionStoreCleanupAndCascade(t *testing.T) {
	conn := createTestDB(t)
	ctx := context.Background()
	store := NewStore(conn)
	execs := NewExecutionStore(conn)

	job, err := store.Upsert(ctx, "bot1", "report", "@daily", base)
	require.NoError(t, err)

	old := time.Now().UTC().AddDate(0, 0, -40).Format(time.RFC3339)
	recent := time.Now().UTC().Format(time.RFC3339)
	for id, at := range map[string]string{"old": old, "new": recent} {
		require.NoError(t, execs.CreateExecution(ctx, &Execution{
			ID: id, ScheduleID: job.ID, Status: StatusCompleted,
			StartedAt: at, CreatedAt: at, UpdatedAt: at,
		}))
	}

	removed, err := execs.CleanupOldExecutions(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	list, err := execs.ListExecutions(ctx, job.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].ID)

	_, err = store.Delete(ctx, "bot1", "report")
	require.NoError(t, err)
	list, err = execs.ListExecutions(ctx, job.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}
