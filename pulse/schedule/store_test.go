package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/gbvm/errors"
)

var base = time.Date(2026, 1, 1, 10, 2, 0, 0, time.UTC)

func TestStoreUpsertAndGet(t *testing.T) {
	store := NewStore(createTestDB(t))
	ctx := context.Background()

	job, err := store.Upsert(ctx, "bot1", "report", "*/5 * * * *", base)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "bot1", job.BotID)
	assert.Equal(t, "report", job.ScriptName)
	require.NotNil(t, job.NextRunAt)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC), job.NextRunAt.UTC())
	assert.Nil(t, job.LastRunAt)

	// Replacing keeps the id
	updated, err := store.Upsert(ctx, "bot1", "report", "@hourly", base)
	require.NoError(t, err)
	assert.Equal(t, job.ID, updated.ID)
	assert.Equal(t, "@hourly", updated.Cron)
	assert.Equal(t, time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC), updated.NextRunAt.UTC())
}

func TestStoreUpsertSecondsField(t *testing.T) {
	store := NewStore(createTestDB(t))

	job, err := store.Upsert(context.Background(), "bot1", "fast", "30 * * * * *", base)
	require.NoError(t, err)
	assert.Equal(t, base.Add(30*time.Second), job.NextRunAt.UTC())
}

func TestStoreUpsertRejectsBadCron(t *testing.T) {
	store := NewStore(createTestDB(t))

	_, err := store.Upsert(context.Background(), "bot1", "report", "every tuesday", base)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSchedule))

	_, err = store.Get(context.Background(), "bot1", "report")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreDelete(t *testing.T) {
	store := NewStore(createTestDB(t))
	ctx := context.Background()

	_, err := store.Upsert(ctx, "bot1", "report", "@daily", base)
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, "bot1", "report")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, "bot1", "report")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestStoreList(t *testing.T) {
	store := NewStore(createTestDB(t))
	ctx := context.Background()

	for _, s := range []struct{ bot, script string }{
		{"bot2", "b"}, {"bot1", "z"}, {"bot1", "a"},
	} {
		_, err := store.Upsert(ctx, s.bot, s.script, "@daily", base)
		require.NoError(t, err)
	}

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ScriptName)
	assert.Equal(t, "z", all[1].ScriptName)
	assert.Equal(t, "bot2", all[2].BotID)

	bot1, err := store.List(ctx, "bot1")
	require.NoError(t, err)
	assert.Len(t, bot1, 2)

	none, err := store.List(ctx, "bot9")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreListDueAndNext(t *testing.T) {
	store := NewStore(createTestDB(t))
	ctx := context.Background()

	_, err := store.Upsert(ctx, "bot1", "soon", "*/5 * * * *", base) // 10:05
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "bot1", "later", "@hourly", base) // 11:00
	require.NoError(t, err)

	due, err := store.ListDue(ctx, base, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = store.ListDue(ctx, base.Add(3*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "soon", due[0].ScriptName)

	due, err = store.ListDue(ctx, base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "soon", due[0].ScriptName)

	due, err = store.ListDue(ctx, base.Add(2*time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	next, err := store.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "soon", next.ScriptName)
}

func TestStoreNextEmpty(t *testing.T) {
	store := NewStore(createTestDB(t))

	next, err := store.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestStoreMarkRunAndRecordResult(t *testing.T) {
	store := NewStore(createTestDB(t))
	ctx := context.Background()

	job, err := store.Upsert(ctx, "bot1", "report", "*/5 * * * *", base)
	require.NoError(t, err)

	fired := base.Add(3 * time.Minute) // 10:05
	require.NoError(t, store.MarkRun(ctx, job, fired))
	assert.Equal(t, time.Date(2026, 1, 1, 10, 10, 0, 0, time.UTC), job.NextRunAt.UTC())

	got, err := store.Get(ctx, "bot1", "report")
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, fired, got.LastRunAt.UTC())
	assert.Equal(t, StatusRunning, got.LastStatus)

	require.NoError(t, store.RecordResult(ctx, job.ID, errors.New("boom")))
	got, err = store.Get(ctx, "bot1", "report")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.LastStatus)
	assert.Equal(t, "boom", got.LastError)

	require.NoError(t, store.RecordResult(ctx, job.ID, nil))
	got, err = store.Get(ctx, "bot1", "report")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.LastStatus)
	assert.Empty(t, got.LastError)
}

func TestStoreListDueQueryError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery("SELECT .* FROM script_schedules").WillReturnError(errors.New("disk I/O error"))

	_, err = NewStore(conn).ListDue(context.Background(), base, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list due schedules")
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr string
		ok   bool
	}{
		{"0 9 * * 1-5", true},
		{"*/10 * * * * *", true},
		{"@daily", true},
		{"@every 90s", true},
		{"", false},
		{"61 * * * *", false},
		{"tomorrow", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := ParseCron(tt.expr)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrSchedule))
		})
	}
}
