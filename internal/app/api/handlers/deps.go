package handlers

import (
	"context"
	"net/http"

	"github.com/stripe/stripe-go/v78"

	"github.com/rapidahost/billinghub/internal/app/service/checkout"
	"github.com/rapidahost/billinghub/internal/app/service/retryproc"
	"github.com/rapidahost/billinghub/internal/models"
)

// Interfaces over the concrete services so handler tests can substitute
// doubles without a database or live provider credentials.

type StripeVerifier interface {
	VerifyAndParse(sigHeader string, rawBody []byte) (*stripe.Event, error)
}

type PaypalVerifier interface {
	VerifyWebhook(ctx context.Context, req *http.Request) (bool, error)
}

type IdempotencyGuard interface {
	WasProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, provider string, raw []byte) error
}

type CheckoutService interface {
	Complete(ctx context.Context, in *checkout.Input) (*checkout.Result, error)
}

type LogStore interface {
	Append(ctx context.Context, ev *models.LogEvent) error
	AppendAsync(ctx context.Context, ev *models.LogEvent)
	ListByTrace(ctx context.Context, traceID string, limit int) ([]*models.LogEvent, error)
}

type RetryEnqueuer interface {
	Enqueue(ctx context.Context, job *models.RetryJob) error
}

type RetryRunner interface {
	ProcessDue(ctx context.Context, max int) (*retryproc.Report, error)
	RunByTrace(ctx context.Context, traceID string) error
}
