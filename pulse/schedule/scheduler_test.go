package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/gbvm/errors"
)

func TestSchedulerCreateOrUpdate(t *testing.T) {
	store := NewStore(createTestDB(t))
	s := NewScheduler(store, zaptest.NewLogger(t).Sugar())
	s.now = func() time.Time { return base }
	ctx := context.Background()

	require.NoError(t, s.CreateOrUpdate(ctx, "bot1", "report", "0 9 * * *"))
	job, err := store.Get(ctx, "bot1", "report")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC), job.NextRunAt.UTC())

	require.NoError(t, s.CreateOrUpdate(ctx, "bot1", "report", "0 11 * * *"))
	job, err = store.Get(ctx, "bot1", "report")
	require.NoError(t, err)
	assert.Equal(t, "0 11 * * *", job.Cron)
	assert.Equal(t, time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC), job.NextRunAt.UTC())
}

func TestSchedulerMalformedDropsExisting(t *testing.T) {
	store := NewStore(createTestDB(t))
	s := NewScheduler(store, nil)
	ctx := context.Background()

	require.NoError(t, s.CreateOrUpdate(ctx, "bot1", "report", "@daily"))

	err := s.CreateOrUpdate(ctx, "bot1", "report", "whenever")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSchedule))

	_, err = store.Get(ctx, "bot1", "report")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSchedulerDeleteIfAny(t *testing.T) {
	store := NewStore(createTestDB(t))
	s := NewScheduler(store, nil)
	ctx := context.Background()

	require.NoError(t, s.DeleteIfAny(ctx, "bot1", "never-scheduled"))

	require.NoError(t, s.CreateOrUpdate(ctx, "bot1", "report", "@daily"))
	require.NoError(t, s.DeleteIfAny(ctx, "bot1", "report"))

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}
