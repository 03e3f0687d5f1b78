package retryflow

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/rapidahost/billinghub/internal/app/service/checkout"
	"github.com/rapidahost/billinghub/internal/app/service/eventlog"
	"github.com/rapidahost/billinghub/internal/models"
	"github.com/rapidahost/billinghub/internal/platform/paypalapi"
	"github.com/rapidahost/billinghub/pkg/types"
)

// OrderCapturer re-attempts capture of an approved PayPal order.
type OrderCapturer interface {
	CaptureOrder(ctx context.Context, orderID string) (string, error)
}

// PaypalFlow re-captures the order when the payment was never captured, then
// resumes the checkout from the recorded step.
type PaypalFlow struct {
	checkout *checkout.Service
	paypal   OrderCapturer
	logs     *eventlog.Service
	log      *zap.SugaredLogger
}

func NewPaypalFlow(co *checkout.Service, pc *paypalapi.Client, logs *eventlog.Service, log *zap.SugaredLogger) *PaypalFlow {
	return newPaypalFlow(co, pc, logs, log)
}

func newPaypalFlow(co *checkout.Service, pc OrderCapturer, logs *eventlog.Service, log *zap.SugaredLogger) *PaypalFlow {
	return &PaypalFlow{checkout: co, paypal: pc, logs: logs, log: log}
}

func (f *PaypalFlow) Channel() types.Channel { return types.ChannelPaypal }

func (f *PaypalFlow) Run(ctx context.Context, job *models.RetryJob) error {
	var state checkout.ResumeInput
	if err := json.Unmarshal(job.Payload, &state); err != nil {
		return fmt.Errorf("malformed paypal retry payload: %w", err)
	}
	if state.TraceID == "" {
		state.TraceID = job.TraceID
	}
	if state.Provider == "" {
		state.Provider = types.ChannelPaypal
	}

	f.logs.AppendAsync(ctx, eventlog.Event(job.TraceID, models.LogSourceRetry, "retry.paypal.requested", models.LogLevelInfo, models.LogStatusPending, map[string]any{
		"step": state.Step, "order_id": state.OrderID, "capture_id": state.CaptureID,
	}))

	if state.CaptureID == "" && state.OrderID != "" {
		status, err := f.paypal.CaptureOrder(ctx, state.OrderID)
		if err != nil {
			return f.fail(ctx, job, &state, fmt.Errorf("capture order: %w", err))
		}
		f.logs.AppendAsync(ctx, eventlog.Event(job.TraceID, models.LogSourceRetry, "retry.paypal.captured", models.LogLevelInfo, models.LogStatusPending, map[string]any{
			"order_id": state.OrderID, "capture_status": status,
		}))
	}

	res, err := f.checkout.Resume(ctx, &state)
	if err != nil {
		return f.fail(ctx, job, &state, err)
	}

	return f.logs.Append(ctx, eventlog.Event(job.TraceID, models.LogSourceRetry, "retry.paypal.completed", models.LogLevelInfo, models.LogStatusSuccess, res))
}

func (f *PaypalFlow) fail(ctx context.Context, job *models.RetryJob, state *checkout.ResumeInput, cause error) error {
	if lerr := f.logs.Append(ctx, eventlog.Event(job.TraceID, models.LogSourceRetry, "retry.paypal.error", models.LogLevelError, models.LogStatusFailed, map[string]any{
		"error": cause.Error(), "step": state.Step, "order_id": state.OrderID,
	})); lerr != nil {
		f.log.Errorw("append_log_failed", "err", lerr)
	}
	return cause
}
