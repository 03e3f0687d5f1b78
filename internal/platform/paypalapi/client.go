package paypalapi

import (
	"context"
	"net/http"
	"time"

	paypal "github.com/plutov/paypal/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/rapidahost/billinghub/pkg/config"
	"github.com/rapidahost/billinghub/pkg/logctx"
)

const defaultTimeout = 15 * time.Second

// Client wraps the PayPal REST SDK for the two calls this service needs:
// webhook signature verification (delegated to PayPal's hosted verify
// endpoint, authenticated by a client-credentials OAuth2 token the SDK
// refreshes itself) and order capture for the retry flow.
type Client struct {
	pc        *paypal.Client
	webhookID string
	log       *zap.SugaredLogger
}

func NewClient(cfg *cfgpkg.Config, log *zap.SugaredLogger) (*Client, error) {
	base := paypal.APIBaseSandBox
	if cfg.PayPal.Live {
		base = paypal.APIBaseLive
	}
	pc, err := paypal.NewClient(cfg.PayPal.ClientID, cfg.PayPal.Secret, base)
	if err != nil {
		return nil, err
	}
	return &Client{pc: pc, webhookID: cfg.PayPal.WebhookID, log: log}, nil
}

// VerifyWebhook asks PayPal to verify the transmission headers and body of
// req. Any transport error or a verification_status other than SUCCESS means
// the signature is invalid.
func (c *Client) VerifyWebhook(ctx context.Context, req *http.Request) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	resp, err := c.pc.VerifyWebhookSignature(ctx, req, c.webhookID)
	if err != nil {
		logctx.FromCtx(ctx, c.log).Warnw("paypal_verify_failed", "err", err)
		return false, err
	}
	return resp.VerificationStatus == "SUCCESS", nil
}

// CaptureOrder re-attempts capture of an approved order and returns the
// resulting status.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := c.pc.CaptureOrder(ctx, orderID, paypal.CaptureOrderRequest{})
	if err != nil {
		return "", err
	}
	return res.Status, nil
}

var Module = fx.Options(
	fx.Provide(NewClient),
)
