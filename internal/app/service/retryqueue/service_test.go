package retryqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rapidahost/billinghub/internal/models"
	cfgpkg "github.com/rapidahost/billinghub/pkg/config"
	"github.com/rapidahost/billinghub/pkg/types"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection, so every query sees the same in-memory database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.RetryJob{}))
	return db
}

func testService(t *testing.T, maxAttempts int) (*Service, *gorm.DB) {
	t.Helper()
	db := testDB(t)
	cfg := &cfgpkg.Config{}
	cfg.Retry.MaxAttempts = maxAttempts
	cfg.Retry.BackoffBaseSeconds = 30
	cfg.Retry.BackoffMaxSeconds = 3600
	return New(db, cfg, zap.NewNop().Sugar()), db
}

func TestEnqueueValidation(t *testing.T) {
	s, _ := testService(t, 3)
	ctx := context.Background()

	require.Error(t, s.Enqueue(ctx, nil))

	err := s.Enqueue(ctx, &models.RetryJob{TraceID: "t-1", Channel: "fax"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid retry channel")
}

func TestEnqueueDefaults(t *testing.T) {
	s, _ := testService(t, 3)

	job := &models.RetryJob{TraceID: "t-1", Channel: types.ChannelEmail}
	require.NoError(t, s.Enqueue(context.Background(), job))

	require.NotEmpty(t, job.ID)
	require.Equal(t, models.RetryJobStatusQueued, job.Status)
	require.Equal(t, 0, job.Attempts)
	require.Equal(t, 3, job.MaxAttempts)
	require.WithinDuration(t, time.Now(), job.NextRunAt, 2*time.Second)
}

func TestClaimDueRoundTrip(t *testing.T) {
	s, _ := testService(t, 3)
	ctx := context.Background()

	job := &models.RetryJob{TraceID: "t-1", Channel: types.ChannelStripe}
	require.NoError(t, s.Enqueue(ctx, job))

	claimed, err := s.ClaimDue(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, job.ID, claimed.ID)
	require.Equal(t, models.RetryJobStatusRunning, claimed.Status)
	require.Equal(t, 1, claimed.Attempts)

	// the only candidate is running now, so a second claim finds nothing
	again, err := s.ClaimDue(ctx)
	require.NoError(t, err)
	require.Nil(t, again)

	require.NoError(t, s.MarkDone(ctx, claimed))
	require.Equal(t, models.RetryJobStatusDone, claimed.Status)
	require.ErrorIs(t, s.MarkDone(ctx, claimed), ErrTerminalJob)
}

func TestClaimDueNothingDue(t *testing.T) {
	s, _ := testService(t, 3)
	ctx := context.Background()

	job := &models.RetryJob{TraceID: "t-1", Channel: types.ChannelEmail, DelaySeconds: 3600}
	require.NoError(t, s.Enqueue(ctx, job))

	claimed, err := s.ClaimDue(ctx)
	require.NoError(t, err)
	require.Nil(t, claimed)
}

func TestMarkDoneClosesQueuedJob(t *testing.T) {
	s, _ := testService(t, 3)
	ctx := context.Background()

	job := &models.RetryJob{TraceID: "t-1", Channel: types.ChannelPaypal}
	require.NoError(t, s.Enqueue(ctx, job))

	// a manual trace retry succeeded before the scheduler picked the job up
	require.NoError(t, s.MarkDone(ctx, job))
	require.Equal(t, models.RetryJobStatusDone, job.Status)

	claimed, err := s.ClaimDue(ctx)
	require.NoError(t, err)
	require.Nil(t, claimed)
}

func TestRescheduleBacksOffThenFailsTerminally(t *testing.T) {
	s, db := testService(t, 2)
	ctx := context.Background()

	job := &models.RetryJob{TraceID: "t-1", Channel: types.ChannelEmail}
	require.NoError(t, s.Enqueue(ctx, job))

	claimed, err := s.ClaimDue(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, s.Reschedule(ctx, claimed, errors.New("smtp timeout")))
	require.Equal(t, models.RetryJobStatusQueued, claimed.Status)
	require.NotNil(t, claimed.LastError)
	require.True(t, claimed.NextRunAt.After(time.Now()))

	// backed off into the future, so not claimable yet
	again, err := s.ClaimDue(ctx)
	require.NoError(t, err)
	require.Nil(t, again)

	// force the job due and burn the last attempt
	require.NoError(t, db.Model(&models.RetryJob{}).
		Where("id = ?", claimed.ID).
		Update("next_run_at", time.Now().Add(-time.Second)).Error)

	claimed, err = s.ClaimDue(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, 2, claimed.Attempts)

	require.NoError(t, s.Reschedule(ctx, claimed, errors.New("smtp timeout")))
	require.Equal(t, models.RetryJobStatusFailed, claimed.Status)
	require.ErrorIs(t, s.Reschedule(ctx, claimed, errors.New("again")), ErrTerminalJob)
}

func TestRescheduleRequiresRunningRow(t *testing.T) {
	s, _ := testService(t, 3)
	ctx := context.Background()

	job := &models.RetryJob{TraceID: "t-1", Channel: types.ChannelStripe}
	require.NoError(t, s.Enqueue(ctx, job))

	// never claimed: the conditional update matches no running row
	require.ErrorIs(t, s.Reschedule(ctx, job, errors.New("boom")), ErrTerminalJob)
}

func TestGetByTrace(t *testing.T) {
	s, _ := testService(t, 3)
	ctx := context.Background()

	first := &models.RetryJob{TraceID: "t-1", Channel: types.ChannelStripe, Reason: "first"}
	require.NoError(t, s.Enqueue(ctx, first))
	time.Sleep(5 * time.Millisecond)
	second := &models.RetryJob{TraceID: "t-1", Channel: types.ChannelStripe, Reason: "second"}
	require.NoError(t, s.Enqueue(ctx, second))

	got, err := s.GetByTrace(ctx, "t-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "second", got.Reason)

	got, err = s.GetByTrace(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, got)
}
