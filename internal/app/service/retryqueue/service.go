package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rapidahost/billinghub/internal/models"
	cfgpkg "github.com/rapidahost/billinghub/pkg/config"
	"github.com/rapidahost/billinghub/pkg/logctx"
	"github.com/rapidahost/billinghub/pkg/tool"
)

var ErrTerminalJob = errors.New("retry job is in a terminal state")

// Service owns the durable retry queue. Jobs are enqueued by failing
// handlers (or explicit admin requests) and executed by the processor; rows
// are never deleted so the queue doubles as an audit trail.
type Service struct {
	db          *gorm.DB
	log         *zap.SugaredLogger
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
}

func New(db *gorm.DB, cfg *cfgpkg.Config, log *zap.SugaredLogger) *Service {
	return &Service{
		db:          db,
		log:         log,
		maxAttempts: cfg.Retry.MaxAttempts,
		backoffBase: time.Duration(cfg.Retry.BackoffBaseSeconds) * time.Second,
		backoffMax:  time.Duration(cfg.Retry.BackoffMaxSeconds) * time.Second,
	}
}

// Enqueue inserts a queued job eligible at now + DelaySeconds.
func (s *Service) Enqueue(ctx context.Context, job *models.RetryJob) error {
	return s.EnqueueTx(s.db.WithContext(ctx), job)
}

// EnqueueTx inserts a job inside an existing transaction so the failure log
// row and the retry job commit together.
func (s *Service) EnqueueTx(tx *gorm.DB, job *models.RetryJob) error {
	if job == nil {
		return errors.New("nil retry job")
	}
	if !job.Channel.Valid() {
		return fmt.Errorf("invalid retry channel: %q", job.Channel)
	}
	if job.ID == "" {
		job.ID = tool.GenerateUUIDV7()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = s.maxAttempts
	}
	job.Status = models.RetryJobStatusQueued
	job.Attempts = 0
	job.NextRunAt = time.Now().Add(time.Duration(job.DelaySeconds) * time.Second)
	return tx.Create(job).Error
}

// ClaimDue picks the oldest eligible job and claims it with a conditional
// queued→running update. The affected-row check makes concurrent processors
// lose the race cleanly instead of double-executing; the attempt counter is
// bumped in the same statement. Returns nil when nothing is due.
func (s *Service) ClaimDue(ctx context.Context) (*models.RetryJob, error) {
	for i := 0; i < 3; i++ {
		var job models.RetryJob
		err := s.db.WithContext(ctx).
			Where("status = ? AND next_run_at <= ?", models.RetryJobStatusQueued, time.Now()).
			Order("next_run_at ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		res := s.db.WithContext(ctx).
			Model(&models.RetryJob{}).
			Where("id = ? AND status = ?", job.ID, models.RetryJobStatusQueued).
			Updates(map[string]any{
				"status":   models.RetryJobStatusRunning,
				"attempts": gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// another processor claimed it first; try the next candidate
			continue
		}

		job.Status = models.RetryJobStatusRunning
		job.Attempts++
		return &job, nil
	}
	return nil, nil
}

// MarkDone transitions a live job to its terminal done state. Queued jobs
// qualify too: a manual trace retry that succeeds closes the pending job so
// the scheduler does not execute it again.
func (s *Service) MarkDone(ctx context.Context, job *models.RetryJob) error {
	if job.Terminal() {
		return ErrTerminalJob
	}
	res := s.db.WithContext(ctx).
		Model(&models.RetryJob{}).
		Where("id = ? AND status IN ?", job.ID, []models.RetryJobStatus{models.RetryJobStatusQueued, models.RetryJobStatusRunning}).
		Update("status", models.RetryJobStatusDone)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTerminalJob
	}
	job.Status = models.RetryJobStatusDone
	return nil
}

// Reschedule handles a failed attempt: back to queued with exponential
// backoff while attempts remain, terminal failed once the budget is spent.
func (s *Service) Reschedule(ctx context.Context, job *models.RetryJob, cause error) error {
	if job.Terminal() {
		return ErrTerminalJob
	}
	msg := cause.Error()
	updates := map[string]any{"last_error": msg}

	if job.Exhausted() {
		updates["status"] = models.RetryJobStatusFailed
		job.Status = models.RetryJobStatusFailed
	} else {
		next := time.Now().Add(job.Backoff(s.backoffBase, s.backoffMax))
		updates["status"] = models.RetryJobStatusQueued
		updates["next_run_at"] = next
		job.Status = models.RetryJobStatusQueued
		job.NextRunAt = next
	}
	job.LastError = &msg

	res := s.db.WithContext(ctx).
		Model(&models.RetryJob{}).
		Where("id = ? AND status = ?", job.ID, models.RetryJobStatusRunning).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTerminalJob
	}
	if job.Status == models.RetryJobStatusFailed {
		logctx.FromCtx(ctx, s.log).Errorw("retry_job_exhausted", "job_id", job.ID, "channel", job.Channel, "attempts", job.Attempts, "err", msg)
	}
	return nil
}

// GetByTrace returns the newest job for a trace id, or nil when none exists.
func (s *Service) GetByTrace(ctx context.Context, traceID string) (*models.RetryJob, error) {
	var job models.RetryJob
	err := s.db.WithContext(ctx).
		Where("trace_id = ?", traceID).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}
