package retryflow

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/rapidahost/billinghub/internal/app/service/checkout"
	"github.com/rapidahost/billinghub/internal/app/service/eventlog"
	"github.com/rapidahost/billinghub/internal/models"
	"github.com/rapidahost/billinghub/pkg/types"
)

// StripeFlow resumes a Stripe checkout completion from the step recorded on
// the job: provisioning when it never finished, notify-only when the order
// already exists (re-provisioning would duplicate WHMCS orders).
type StripeFlow struct {
	checkout *checkout.Service
	logs     *eventlog.Service
	log      *zap.SugaredLogger
}

func NewStripeFlow(co *checkout.Service, logs *eventlog.Service, log *zap.SugaredLogger) *StripeFlow {
	return &StripeFlow{checkout: co, logs: logs, log: log}
}

func (f *StripeFlow) Channel() types.Channel { return types.ChannelStripe }

func (f *StripeFlow) Run(ctx context.Context, job *models.RetryJob) error {
	var state checkout.ResumeInput
	if err := json.Unmarshal(job.Payload, &state); err != nil {
		return fmt.Errorf("malformed stripe retry payload: %w", err)
	}
	if state.TraceID == "" {
		state.TraceID = job.TraceID
	}
	if state.Provider == "" {
		state.Provider = types.ChannelStripe
	}

	f.logs.AppendAsync(ctx, eventlog.Event(job.TraceID, models.LogSourceRetry, "retry.stripe.requested", models.LogLevelInfo, models.LogStatusPending, map[string]any{
		"step": state.Step, "session_id": state.SessionID, "email": state.Email,
	}))

	res, err := f.checkout.Resume(ctx, &state)
	if err != nil {
		if lerr := f.logs.Append(ctx, eventlog.Event(job.TraceID, models.LogSourceRetry, "retry.stripe.error", models.LogLevelError, models.LogStatusFailed, map[string]any{
			"error": err.Error(), "step": state.Step, "session_id": state.SessionID,
		})); lerr != nil {
			f.log.Errorw("append_log_failed", "err", lerr)
		}
		return err
	}

	return f.logs.Append(ctx, eventlog.Event(job.TraceID, models.LogSourceRetry, "retry.stripe.completed", models.LogLevelInfo, models.LogStatusSuccess, res))
}
