package retryproc

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/rapidahost/billinghub/internal/app/service/eventlog"
	"github.com/rapidahost/billinghub/internal/app/service/retryflow"
	"github.com/rapidahost/billinghub/internal/app/service/retryqueue"
	"github.com/rapidahost/billinghub/internal/models"
	"github.com/rapidahost/billinghub/pkg/logctx"
	"github.com/rapidahost/billinghub/pkg/types"
)

// ErrTraceNotFound means a manual retry referenced a trace with no log rows.
var ErrTraceNotFound = errors.New("no log events for trace")

// Report summarizes one processing pass over the queue.
type Report struct {
	Processed   int `json:"processed"`
	Succeeded   int `json:"succeeded"`
	Rescheduled int `json:"rescheduled"`
	Failed      int `json:"failed"`
}

// Queue is the slice of the retry queue the processor drives.
type Queue interface {
	ClaimDue(ctx context.Context) (*models.RetryJob, error)
	MarkDone(ctx context.Context, job *models.RetryJob) error
	Reschedule(ctx context.Context, job *models.RetryJob, cause error) error
	GetByTrace(ctx context.Context, traceID string) (*models.RetryJob, error)
}

// LogStore is the slice of the event log the processor reads and writes.
type LogStore interface {
	Append(ctx context.Context, ev *models.LogEvent) error
	LatestByTrace(ctx context.Context, traceID string) (*models.LogEvent, error)
	ListByTrace(ctx context.Context, traceID string, limit int) ([]*models.LogEvent, error)
}

// FlowResolver selects the flow for a channel.
type FlowResolver interface {
	For(ch types.Channel) (retryflow.Flow, error)
}

// Processor drains due retry jobs and dispatches them to their channel flow.
// Invoked by the cron-secret HTTP endpoint and by the in-process scheduler.
type Processor struct {
	queue Queue
	flows FlowResolver
	logs  LogStore
	log   *zap.SugaredLogger
}

func New(queue *retryqueue.Service, flows *retryflow.Registry, logs *eventlog.Service, log *zap.SugaredLogger) *Processor {
	return newProcessor(queue, flows, logs, log)
}

func newProcessor(queue Queue, flows FlowResolver, logs LogStore, log *zap.SugaredLogger) *Processor {
	return &Processor{queue: queue, flows: flows, logs: logs, log: log}
}

// ProcessDue claims and executes up to max due jobs. A flow error reschedules
// the job (or fails it terminally once attempts are spent); processing
// continues with the next job either way.
func (p *Processor) ProcessDue(ctx context.Context, max int) (*Report, error) {
	if max <= 0 {
		max = 20
	}
	report := &Report{}
	for i := 0; i < max; i++ {
		job, err := p.queue.ClaimDue(ctx)
		if err != nil {
			return report, err
		}
		if job == nil {
			break
		}
		report.Processed++

		if err := p.runJob(ctx, job); err != nil {
			if rerr := p.queue.Reschedule(ctx, job, err); rerr != nil {
				logctx.FromCtx(ctx, p.log).Errorw("reschedule_failed", "job_id", job.ID, "err", rerr)
			}
			if job.Status == models.RetryJobStatusFailed {
				report.Failed++
			} else {
				report.Rescheduled++
			}
			continue
		}

		if err := p.queue.MarkDone(ctx, job); err != nil {
			logctx.FromCtx(ctx, p.log).Errorw("mark_done_failed", "job_id", job.ID, "err", err)
		}
		report.Succeeded++
	}
	return report, nil
}

func (p *Processor) runJob(ctx context.Context, job *models.RetryJob) error {
	flow, err := p.flows.For(job.Channel)
	if err != nil {
		return err
	}
	logctx.FromCtx(ctx, p.log).Infow("retry_job_running", "job_id", job.ID, "channel", job.Channel, "attempt", job.Attempts, "max_attempts", job.MaxAttempts)
	return flow.Run(ctx, job)
}

// RunByTrace performs an immediate, non-queued retry for a trace. The stored
// retry job is the source of truth when one exists: its channel is explicit
// and its payload carries the full resume state. Traces without a job fall
// back to the log rows, skipping retry bookkeeping rows whose source maps to
// no channel. Returns retryflow.ErrChannelUnknown when neither yields one.
func (p *Processor) RunByTrace(ctx context.Context, traceID string) error {
	stored, err := p.queue.GetByTrace(ctx, traceID)
	if err != nil {
		return err
	}
	if stored != nil {
		return p.runTraceJob(ctx, stored)
	}

	latest, err := p.logs.LatestByTrace(ctx, traceID)
	if err != nil {
		return err
	}
	if latest == nil {
		return ErrTraceNotFound
	}

	ch, ok := channelOf(latest)
	if !ok {
		rows, err := p.logs.ListByTrace(ctx, traceID, 50)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if c, k := channelOf(row); k {
				ch, ok = c, true
				latest = row
				break
			}
		}
	}
	if !ok {
		return retryflow.ErrChannelUnknown
	}

	return p.runTraceJob(ctx, &models.RetryJob{
		TraceID: traceID,
		Channel: ch,
		Payload: latest.Payload,
	})
}

// runTraceJob executes one manual retry from recorded state. The stored row
// is marked done on success so the scheduler does not re-run it; terminal
// rows stay untouched and the ephemeral copy keeps the audit trail clean.
func (p *Processor) runTraceJob(ctx context.Context, stored *models.RetryJob) error {
	flow, err := p.flows.For(stored.Channel)
	if err != nil {
		return err
	}

	run := &models.RetryJob{
		TraceID: stored.TraceID,
		Channel: stored.Channel,
		Step:    stored.Step,
		Payload: stored.Payload,
		Reason:  "manual trace retry",
	}
	if err := flow.Run(ctx, run); err != nil {
		if lerr := p.logs.Append(ctx, eventlog.Event(stored.TraceID, models.LogSourceRetry, "retry.error", models.LogLevelError, models.LogStatusFailed, map[string]any{
			"error": err.Error(), "channel": stored.Channel,
		})); lerr != nil {
			logctx.FromCtx(ctx, p.log).Errorw("append_log_failed", "err", lerr)
		}
		return err
	}

	if stored.ID != "" && !stored.Terminal() {
		if derr := p.queue.MarkDone(ctx, stored); derr != nil {
			logctx.FromCtx(ctx, p.log).Errorw("mark_done_failed", "job_id", stored.ID, "err", derr)
		}
	}

	return p.logs.Append(ctx, eventlog.Event(stored.TraceID, models.LogSourceRetry, "retry.success", models.LogLevelInfo, models.LogStatusSuccess, map[string]any{
		"channel": stored.Channel,
	}))
}

// channelOf maps a log row to a retry channel: exact source match first, then
// the substring heuristic for rows written by older services.
func channelOf(ev *models.LogEvent) (types.Channel, bool) {
	if ch := types.Channel(ev.Source); ch.Valid() {
		return ch, true
	}
	return types.InferChannelFromSource(ev.Source)
}

var Module = fx.Options(
	fx.Provide(New),
)
