package retryflow

import (
	"context"
	"errors"

	"go.uber.org/fx"

	"github.com/rapidahost/billinghub/internal/models"
	"github.com/rapidahost/billinghub/pkg/types"
)

// ErrChannelUnknown means no retry flow could be selected for a job or a
// trace. Surfaced to manual-retry callers as HTTP 422.
var ErrChannelUnknown = errors.New("unable to infer channel from source")

// Flow redoes one specific side-effecting operation from the minimal inputs
// stored on a retry job. Flows do not re-enqueue themselves; rescheduling is
// the processor's responsibility.
type Flow interface {
	Channel() types.Channel
	Run(ctx context.Context, job *models.RetryJob) error
}

// Registry maps channels to flows.
type Registry struct {
	flows map[types.Channel]Flow
}

func NewRegistry(stripe *StripeFlow, pp *PaypalFlow, email *EmailFlow) *Registry {
	r := &Registry{flows: map[types.Channel]Flow{}}
	for _, f := range []Flow{stripe, pp, email} {
		r.flows[f.Channel()] = f
	}
	return r
}

// For returns the flow for a channel.
func (r *Registry) For(ch types.Channel) (Flow, error) {
	f, ok := r.flows[ch]
	if !ok {
		return nil, ErrChannelUnknown
	}
	return f, nil
}

var Module = fx.Options(
	fx.Provide(NewStripeFlow),
	fx.Provide(NewPaypalFlow),
	fx.Provide(NewEmailFlow),
	fx.Provide(NewRegistry),
)
