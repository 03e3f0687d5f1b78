package retryflow

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/rapidahost/billinghub/internal/app/service/checkout"
	"github.com/rapidahost/billinghub/internal/app/service/eventlog"
	"github.com/rapidahost/billinghub/internal/models"
	"github.com/rapidahost/billinghub/internal/platform/sendgridmail"
	cfgpkg "github.com/rapidahost/billinghub/pkg/config"
	"github.com/rapidahost/billinghub/pkg/types"
)

// EmailPayload is the reconstructable input of an email retry job.
type EmailPayload struct {
	MessageID string         `json:"message_id"`
	Template  string         `json:"template"`
	To        string         `json:"to"`
	Data      map[string]any `json:"data,omitempty"`
}

// EmailFlow re-sends one transactional message.
type EmailFlow struct {
	cfg  *cfgpkg.Config
	mail checkout.MailSender
	logs *eventlog.Service
	log  *zap.SugaredLogger
}

func NewEmailFlow(cfg *cfgpkg.Config, sender *sendgridmail.Sender, logs *eventlog.Service, log *zap.SugaredLogger) *EmailFlow {
	return newEmailFlow(cfg, sender, logs, log)
}

func newEmailFlow(cfg *cfgpkg.Config, mail checkout.MailSender, logs *eventlog.Service, log *zap.SugaredLogger) *EmailFlow {
	return &EmailFlow{cfg: cfg, mail: mail, logs: logs, log: log}
}

func (f *EmailFlow) Channel() types.Channel { return types.ChannelEmail }

func (f *EmailFlow) Run(ctx context.Context, job *models.RetryJob) error {
	var p EmailPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("malformed email retry payload: %w", err)
	}
	if p.To == "" {
		return fmt.Errorf("email retry payload has no recipient")
	}
	template := p.Template
	if template == "" {
		template = f.cfg.SendGrid.WelcomeTemplateID
	}

	f.logs.AppendAsync(ctx, eventlog.Event(job.TraceID, models.LogSourceRetry, "retry.email.requested", models.LogLevelInfo, models.LogStatusPending, p))

	messageID, err := f.mail.SendTemplate(ctx, p.To, template, p.Data)
	if err != nil {
		if lerr := f.logs.Append(ctx, eventlog.Event(job.TraceID, models.LogSourceRetry, "retry.email.error", models.LogLevelError, models.LogStatusFailed, map[string]any{
			"error": err.Error(), "to": p.To, "message_id": p.MessageID,
		})); lerr != nil {
			f.log.Errorw("append_log_failed", "err", lerr)
		}
		return err
	}

	return f.logs.Append(ctx, eventlog.Event(job.TraceID, models.LogSourceRetry, "retry.email.completed", models.LogLevelInfo, models.LogStatusSuccess, map[string]any{
		"to": p.To, "message_id": messageID, "previous_message_id": p.MessageID,
	}))
}
