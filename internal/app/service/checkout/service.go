package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rapidahost/billinghub/internal/app/service/eventlog"
	"github.com/rapidahost/billinghub/internal/app/service/retryqueue"
	"github.com/rapidahost/billinghub/internal/models"
	"github.com/rapidahost/billinghub/internal/platform/sendgridmail"
	"github.com/rapidahost/billinghub/internal/platform/whmcs"
	cfgpkg "github.com/rapidahost/billinghub/pkg/config"
	"github.com/rapidahost/billinghub/pkg/logctx"
	"github.com/rapidahost/billinghub/pkg/tool"
	"github.com/rapidahost/billinghub/pkg/types"
)

// ErrRetryQueued marks a transient provisioning failure that has been logged
// and queued for retry. Webhook handlers translate it to HTTP 200 so the
// provider stops redelivering while the internal queue recovers.
var ErrRetryQueued = errors.New("transient failure queued for retry")

// ValidationError is a permanent input problem. Never retried.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// WHMCSAPI is the slice of the billing-system client the checkout flow uses.
type WHMCSAPI interface {
	GetClientByEmail(ctx context.Context, email string) (int, error)
	AddClient(ctx context.Context, req *whmcs.AddClientRequest) (int, error)
	AddOrder(ctx context.Context, req *whmcs.AddOrderRequest) (*whmcs.AddOrderResult, error)
}

// MailSender sends one templated transactional message.
type MailSender interface {
	SendTemplate(ctx context.Context, to, templateID string, data map[string]any) (string, error)
}

// EventLog is the slice of the log store the checkout flow writes through.
type EventLog interface {
	Append(ctx context.Context, ev *models.LogEvent) error
	AppendAsync(ctx context.Context, ev *models.LogEvent)
	AppendTx(tx *gorm.DB, ev *models.LogEvent) error
}

// RetryQueue enqueues recovery jobs inside the failure transaction.
type RetryQueue interface {
	EnqueueTx(tx *gorm.DB, job *models.RetryJob) error
}

// Input carries everything a completed checkout needs to provision and
// notify. SessionID/OrderID/CaptureID identify the payment on the provider
// side and go into the order note for reconciliation.
type Input struct {
	Provider        types.Channel `json:"provider"`
	TraceID         string        `json:"trace_id"`
	EventID         string        `json:"event_id"`
	Email           string        `json:"email"`
	Name            string        `json:"name"`
	PlanID          string        `json:"plan_id"`
	BillingCycle    string        `json:"billing_cycle"`
	Promocode       string        `json:"promocode,omitempty"`
	SessionID       string        `json:"session_id,omitempty"`
	PaymentIntentID string        `json:"payment_intent_id,omitempty"`
	OrderID         string        `json:"order_id,omitempty"`
	CaptureID       string        `json:"capture_id,omitempty"`
}

// ResumeInput is the reconstructable state a retry job stores: the original
// input plus the step reached and any ids produced before the failure, so
// replay never re-runs provisioning that already succeeded.
type ResumeInput struct {
	Input
	Step      string `json:"step"`
	ClientID  int    `json:"client_id,omitempty"`
	InvoiceID int    `json:"invoice_id,omitempty"`
	ServiceID int    `json:"service_id,omitempty"`
	Password  string `json:"password,omitempty"`
}

type Result struct {
	ClientID    int    `json:"client_id"`
	InvoiceID   int    `json:"invoice_id"`
	ServiceID   int    `json:"service_id"`
	MessageID   string `json:"message_id,omitempty"`
	EmailQueued bool   `json:"email_queued,omitempty"`
}

type Service struct {
	cfg   *cfgpkg.Config
	log   *zap.SugaredLogger
	db    *gorm.DB
	whmcs WHMCSAPI
	mail  MailSender
	logs  EventLog
	queue RetryQueue
}

func NewService(cfg *cfgpkg.Config, log *zap.SugaredLogger, db *gorm.DB, wc *whmcs.Client, sender *sendgridmail.Sender, logs *eventlog.Service, queue *retryqueue.Service) *Service {
	return newService(cfg, log, db, wc, sender, logs, queue)
}

func newService(cfg *cfgpkg.Config, log *zap.SugaredLogger, db *gorm.DB, api WHMCSAPI, mail MailSender, logs EventLog, queue RetryQueue) *Service {
	return &Service{cfg: cfg, log: log, db: db, whmcs: api, mail: mail, logs: logs, queue: queue}
}

func (s *Service) validate(in *Input) error {
	if in.Email == "" {
		return &ValidationError{Msg: "missing customer email"}
	}
	if in.PlanID == "" {
		return &ValidationError{Msg: "missing plan_id"}
	}
	if _, ok := s.cfg.ProductIDByPlan(in.PlanID); !ok {
		return &ValidationError{Msg: "unknown plan_id: " + in.PlanID}
	}
	if in.BillingCycle == "" {
		in.BillingCycle = string(types.BillingCycleMonthly)
	}
	if !types.BillingCycle(in.BillingCycle).Valid() {
		return &ValidationError{Msg: "invalid billing_cycle: " + in.BillingCycle}
	}
	return nil
}

// Complete drives the full checkout completion flow:
// provision (client + order/invoice) then notify (welcome email). Transient
// failures are logged and queued atomically and surface as ErrRetryQueued;
// a notify-only failure still counts as success with EmailQueued set, since
// provisioning must not be redone.
func (s *Service) Complete(ctx context.Context, in *Input) (*Result, error) {
	if err := s.validate(in); err != nil {
		s.logs.AppendAsync(ctx, eventlog.Event(in.TraceID, string(in.Provider), "checkout.rejected", models.LogLevelError, models.LogStatusFailed, map[string]any{
			"error": err.Error(), "plan_id": in.PlanID,
		}))
		return nil, err
	}

	state := &ResumeInput{Input: *in, Step: models.RetryStepProvision}

	if err := s.provision(ctx, state); err != nil {
		if isTransient(err) {
			if qerr := s.failAndQueue(ctx, state, err); qerr != nil {
				return nil, qerr
			}
			return nil, fmt.Errorf("%w: %v", ErrRetryQueued, err)
		}
		if lerr := s.logs.Append(ctx, eventlog.Event(in.TraceID, string(in.Provider), "checkout.provision_failed", models.LogLevelError, models.LogStatusFailed, map[string]any{
			"error": err.Error(), "email": in.Email, "plan_id": in.PlanID,
		})); lerr != nil {
			logctx.FromCtx(ctx, s.log).Errorw("append_log_failed", "err", lerr)
		}
		return nil, err
	}

	state.Step = models.RetryStepNotify
	res := &Result{ClientID: state.ClientID, InvoiceID: state.InvoiceID, ServiceID: state.ServiceID}

	messageID, err := s.notify(ctx, state)
	if err != nil {
		if !isTransient(err) {
			// A permanent send failure retries identically forever, so it
			// gets a terminal log row instead of a queue entry.
			if lerr := s.logs.Append(ctx, eventlog.Event(in.TraceID, string(in.Provider), "checkout.notify_failed", models.LogLevelError, models.LogStatusFailed, map[string]any{
				"error": err.Error(), "email": in.Email, "client_id": res.ClientID, "invoice_id": res.InvoiceID,
			})); lerr != nil {
				logctx.FromCtx(ctx, s.log).Errorw("append_log_failed", "err", lerr)
			}
			return res, nil
		}
		// Provisioning is done; only the notify step retries.
		if qerr := s.failAndQueue(ctx, state, err); qerr != nil {
			return nil, qerr
		}
		res.EmailQueued = true
		return res, nil
	}
	res.MessageID = messageID

	if err := s.logs.Append(ctx, eventlog.Event(in.TraceID, string(in.Provider), "checkout.completed", models.LogLevelInfo, models.LogStatusSuccess, map[string]any{
		"email":      in.Email,
		"plan_id":    in.PlanID,
		"client_id":  res.ClientID,
		"invoice_id": res.InvoiceID,
		"service_id": res.ServiceID,
		"message_id": res.MessageID,
	})); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("append_log_failed", "err", err)
	}
	return res, nil
}

// Resume re-drives a checkout from recorded state. Used by retry flows; it
// never enqueues follow-up jobs itself, the retry processor owns rescheduling.
func (s *Service) Resume(ctx context.Context, state *ResumeInput) (*Result, error) {
	if state.Step != models.RetryStepNotify || state.ClientID == 0 {
		if err := s.validate(&state.Input); err != nil {
			return nil, err
		}
		state.Step = models.RetryStepProvision
		if err := s.provision(ctx, state); err != nil {
			return nil, err
		}
		state.Step = models.RetryStepNotify
	}

	res := &Result{ClientID: state.ClientID, InvoiceID: state.InvoiceID, ServiceID: state.ServiceID}
	messageID, err := s.notify(ctx, state)
	if err != nil {
		return nil, err
	}
	res.MessageID = messageID

	if err := s.logs.Append(ctx, eventlog.Event(state.TraceID, string(state.Provider), "checkout.completed", models.LogLevelInfo, models.LogStatusSuccess, map[string]any{
		"email":      state.Email,
		"plan_id":    state.PlanID,
		"client_id":  res.ClientID,
		"invoice_id": res.InvoiceID,
		"service_id": res.ServiceID,
		"message_id": res.MessageID,
		"resumed":    true,
	})); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("append_log_failed", "err", err)
	}
	return res, nil
}

func (s *Service) provision(ctx context.Context, state *ResumeInput) error {
	in := &state.Input

	clientID, err := s.whmcs.GetClientByEmail(ctx, in.Email)
	if err != nil {
		return err
	}
	if clientID == 0 {
		first, last := splitName(in.Name)
		state.Password = tool.GeneratePassword(10)
		clientID, err = s.whmcs.AddClient(ctx, &whmcs.AddClientRequest{
			FirstName: first,
			LastName:  last,
			Email:     in.Email,
			Password:  state.Password,
			Country:   s.cfg.WHMCS.Country,
			Currency:  s.cfg.WHMCS.CurrencyID,
		})
		if err != nil {
			return err
		}
	}
	state.ClientID = clientID

	productID, _ := s.cfg.ProductIDByPlan(in.PlanID)
	order, err := s.whmcs.AddOrder(ctx, &whmcs.AddOrderRequest{
		ClientID:      clientID,
		ProductID:     productID,
		PaymentMethod: string(in.Provider),
		BillingCycle:  in.BillingCycle,
		Promocode:     in.Promocode,
		Notes:         orderNote(in),
	})
	if err != nil {
		return err
	}
	state.InvoiceID = order.InvoiceID
	state.ServiceID = order.ServiceID
	return nil
}

func (s *Service) notify(ctx context.Context, state *ResumeInput) (string, error) {
	data := map[string]any{
		"name":       state.Name,
		"email":      state.Email,
		"client_id":  state.ClientID,
		"invoice_id": state.InvoiceID,
		"login_url":  s.cfg.SiteURL + "/billing",
	}
	if state.Password != "" {
		data["password"] = state.Password
	}
	return s.mail.SendTemplate(ctx, state.Email, s.cfg.SendGrid.WelcomeTemplateID, data)
}

// failAndQueue writes the failure log row and the retry job in one
// transaction, so a crash between the two cannot leave a logged failure with
// no queued recovery (or the reverse).
func (s *Service) failAndQueue(ctx context.Context, state *ResumeInput, cause error) error {
	// The payload is the full resume state, ids included. Replaying it must
	// pick up exactly where the failure happened; the cause goes in meta.
	ev := eventlog.Event(state.TraceID, string(state.Provider), "checkout."+state.Step+"_failed", models.LogLevelError, models.LogStatusFailed, state)
	ev.Meta = eventlog.JSONPayload(map[string]any{
		"error": cause.Error(),
		"step":  state.Step,
	})
	job := &models.RetryJob{
		TraceID: state.TraceID,
		Channel: state.Provider,
		Step:    state.Step,
		Payload: eventlog.JSONPayload(state),
		Reason:  cause.Error(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.logs.AppendTx(tx, ev); err != nil {
			return err
		}
		return s.queue.EnqueueTx(tx, job)
	})
	if err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("fail_and_queue_failed", "trace_id", state.TraceID, "err", err)
		return err
	}
	logctx.FromCtx(ctx, s.log).Warnw("checkout_step_queued_for_retry", "trace_id", state.TraceID, "step", state.Step, "job_id", job.ID, "cause", cause.Error())
	return nil
}

func isTransient(err error) bool {
	if whmcs.IsTransient(err) {
		return true
	}
	var se *sendgridmail.SendError
	if errors.As(err, &se) {
		return se.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "Customer", "Customer"
	}
	first = parts[0]
	last = strings.Join(parts[1:], " ")
	if last == "" {
		last = "Customer"
	}
	return first, last
}

func orderNote(in *Input) string {
	switch in.Provider {
	case types.ChannelPaypal:
		return "PayPal Capture ID: " + orDefault(in.CaptureID, "n/a")
	default:
		return "Stripe Session: " + orDefault(in.SessionID, "n/a")
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

var Module = fx.Options(
	fx.Provide(NewService),
)
