package models

import (
	"time"

	"github.com/rapidahost/billinghub/pkg/types"
	"gorm.io/datatypes"
)

type RetryJobStatus string

const (
	RetryJobStatusQueued  RetryJobStatus = "queued"
	RetryJobStatusRunning RetryJobStatus = "running"
	RetryJobStatusDone    RetryJobStatus = "done"
	RetryJobStatusFailed  RetryJobStatus = "failed"
)

// Checkout steps recorded on retry jobs so replay resumes from the right
// point instead of redoing provisioning.
const (
	RetryStepProvision = "provision"
	RetryStepNotify    = "notify"
)

// RetryJob is one durable queued retry attempt. Jobs move
// queued → running → done|failed, never backwards, and are kept for audit.
type RetryJob struct {
	ID           string         `gorm:"column:id;type:uuid;primary_key" json:"id"`
	TraceID      string         `gorm:"column:trace_id;type:varchar(128);index" json:"trace_id"`
	Channel      types.Channel  `gorm:"column:channel;type:varchar(16);not null" json:"channel"`
	Step         string         `gorm:"column:step;type:varchar(32)" json:"step"`
	Payload      datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Reason       string         `gorm:"column:reason;type:varchar(255)" json:"reason"`
	DelaySeconds int            `gorm:"column:delay_seconds;not null;default:0" json:"delay_seconds"`
	NextRunAt    time.Time      `gorm:"column:next_run_at;index:idx_retry_job_due,priority:2" json:"next_run_at"`
	Attempts     int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts  int            `gorm:"column:max_attempts;not null" json:"max_attempts"`
	Status       RetryJobStatus `gorm:"column:status;type:varchar(16);not null;index:idx_retry_job_due,priority:1" json:"status"`
	LastError    *string        `gorm:"column:last_error;type:text" json:"last_error"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (RetryJob) TableName() string { return "retry_job" }

// Terminal reports whether the job reached a final state. Terminal jobs are
// never mutated again.
func (j *RetryJob) Terminal() bool {
	return j.Status == RetryJobStatusDone || j.Status == RetryJobStatusFailed
}

// Exhausted reports whether the job has used up its attempt budget.
func (j *RetryJob) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// Backoff computes the delay before the next run after a failed attempt:
// base doubled per attempt already made, capped at max.
func (j *RetryJob) Backoff(base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < j.Attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
