package stripeverify

import (
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/rapidahost/billinghub/pkg/config"
)

// Verifier checks Stripe webhook signatures against the shared webhook
// secret. Verification runs on the raw body, before anything parses or
// trusts the payload.
type Verifier struct {
	secret string
	log    *zap.SugaredLogger
}

func NewVerifier(cfg *cfgpkg.Config, log *zap.SugaredLogger) *Verifier {
	return &Verifier{secret: cfg.Stripe.WebhookSecret, log: log}
}

// VerifyAndParse validates the stripe-signature header (HMAC-SHA256 with
// constant-time comparison and timestamp tolerance, via stripe-go) and only
// then decodes the event.
func (v *Verifier) VerifyAndParse(sigHeader string, rawBody []byte) (*stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(rawBody, sigHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

var Module = fx.Options(
	fx.Provide(NewVerifier),
)
