package sendgridmail

import (
	"context"
	"fmt"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/rapidahost/billinghub/pkg/config"
	"github.com/rapidahost/billinghub/pkg/logctx"
)

const defaultTimeout = 15 * time.Second

// SendError is a failed SendGrid call. Transient failures (transport errors,
// 5xx) may be re-queued; 4xx responses are permanent.
type SendError struct {
	StatusCode int
	Body       string
	Transient  bool
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sendgrid send failed: status=%d body=%s", e.StatusCode, e.Body)
}

// Sender sends transactional mail through SendGrid dynamic templates.
type Sender struct {
	client *sendgrid.Client
	from   *mail.Email
	log    *zap.SugaredLogger
}

func NewSender(cfg *cfgpkg.Config, log *zap.SugaredLogger) *Sender {
	return &Sender{
		client: sendgrid.NewSendClient(cfg.SendGrid.APIKey),
		from:   mail.NewEmail(cfg.SendGrid.FromName, cfg.SendGrid.FromEmail),
		log:    log,
	}
}

// SendTemplate sends one templated message and returns the provider message
// id (X-Message-Id), which retry jobs use to reference the send.
func (s *Sender) SendTemplate(ctx context.Context, to, templateID string, data map[string]any) (string, error) {
	m := mail.NewV3Mail()
	m.SetFrom(s.from)
	m.SetTemplateID(templateID)

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", to))
	for k, v := range data {
		p.SetDynamicTemplateData(k, v)
	}
	m.AddPersonalizations(p)

	// the SDK's underlying client has no timeout of its own
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		logctx.FromCtx(ctx, s.log).Warnw("sendgrid_send_failed", "to", to, "err", err)
		return "", &SendError{Transient: true, Body: err.Error()}
	}
	if resp.StatusCode >= 400 {
		return "", &SendError{
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
			Transient:  resp.StatusCode >= 500,
		}
	}

	var messageID string
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		messageID = ids[0]
	}
	logctx.FromCtx(ctx, s.log).Infow("sendgrid_sent", "to", to, "template_id", templateID, "message_id", messageID)
	return messageID, nil
}

var Module = fx.Options(
	fx.Provide(NewSender),
)
