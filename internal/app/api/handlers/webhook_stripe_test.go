package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/rapidahost/billinghub/internal/app/service/checkout"
	"github.com/rapidahost/billinghub/internal/models"
)

type stubStripeVerifier struct {
	event *stripe.Event
	err   error
}

func (s *stubStripeVerifier) VerifyAndParse(_ string, _ []byte) (*stripe.Event, error) {
	return s.event, s.err
}

type stubGuard struct {
	processed map[string]bool
	marked    []string
}

func (s *stubGuard) WasProcessed(_ context.Context, eventID string) (bool, error) {
	return s.processed[eventID], nil
}

func (s *stubGuard) MarkProcessed(_ context.Context, eventID, _ string, _ []byte) error {
	s.marked = append(s.marked, eventID)
	return nil
}

type stubCheckout struct {
	res  *checkout.Result
	err  error
	seen []*checkout.Input
}

func (s *stubCheckout) Complete(_ context.Context, in *checkout.Input) (*checkout.Result, error) {
	s.seen = append(s.seen, in)
	return s.res, s.err
}

type stubLogStore struct {
	events []*models.LogEvent
}

func (s *stubLogStore) Append(_ context.Context, ev *models.LogEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *stubLogStore) AppendAsync(_ context.Context, ev *models.LogEvent) {
	s.events = append(s.events, ev)
}

func (s *stubLogStore) ListByTrace(_ context.Context, _ string, _ int) ([]*models.LogEvent, error) {
	return s.events, nil
}

func stripeEvent(id, typ string, sess map[string]any) *stripe.Event {
	raw, _ := json.Marshal(sess)
	return &stripe.Event{
		ID:   id,
		Type: stripe.EventType(typ),
		Data: &stripe.EventData{Raw: raw},
	}
}

func postStripe(t *testing.T, h gin.HandlerFunc, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhook/stripe", h)

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestApiStripeWebhook_InvalidSignature(t *testing.T) {
	sv := &stubStripeVerifier{err: errors.New("signature mismatch")}
	guard := &stubGuard{processed: map[string]bool{}}
	logs := &stubLogStore{}

	w := postStripe(t, ApiStripeWebhook(sv, guard, &stubCheckout{}, logs), []byte(`{}`))

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, guard.marked)
}

func TestApiStripeWebhook_DuplicateAckedWithoutSideEffects(t *testing.T) {
	sv := &stubStripeVerifier{event: stripeEvent("evt_1", "checkout.session.completed", nil)}
	guard := &stubGuard{processed: map[string]bool{"evt_1": true}}
	co := &stubCheckout{}

	w := postStripe(t, ApiStripeWebhook(sv, guard, co, &stubLogStore{}), []byte(`{}`))

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"duplicate":true`)
	require.Empty(t, co.seen)
	require.Empty(t, guard.marked)
}

func TestApiStripeWebhook_IgnoresOtherEventTypes(t *testing.T) {
	sv := &stubStripeVerifier{event: stripeEvent("evt_2", "invoice.paid", nil)}
	guard := &stubGuard{processed: map[string]bool{}}
	co := &stubCheckout{}

	w := postStripe(t, ApiStripeWebhook(sv, guard, co, &stubLogStore{}), []byte(`{}`))

	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, co.seen)
}

func TestApiStripeWebhook_CompletedSession(t *testing.T) {
	sess := map[string]any{
		"id":             "cs_123",
		"customer_email": "jane@b.co",
		"metadata":       map[string]string{"plan_id": "starter", "billing_cycle": "annually", "name": "Jane Doe"},
	}
	sv := &stubStripeVerifier{event: stripeEvent("evt_3", "checkout.session.completed", sess)}
	guard := &stubGuard{processed: map[string]bool{}}
	co := &stubCheckout{res: &checkout.Result{ClientID: 12, InvoiceID: 900, ServiceID: 301}}

	w := postStripe(t, ApiStripeWebhook(sv, guard, co, &stubLogStore{}), []byte(`{}`))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"evt_3"}, guard.marked)
	require.Len(t, co.seen, 1)
	in := co.seen[0]
	require.Equal(t, "jane@b.co", in.Email)
	require.Equal(t, "starter", in.PlanID)
	require.Equal(t, "annually", in.BillingCycle)
	require.Equal(t, "cs_123", in.SessionID)
}

func TestApiStripeWebhook_TransientFailureAckedAndQueued(t *testing.T) {
	sess := map[string]any{"id": "cs_9", "customer_email": "jane@b.co", "metadata": map[string]string{"plan_id": "starter"}}
	sv := &stubStripeVerifier{event: stripeEvent("evt_4", "checkout.session.completed", sess)}
	guard := &stubGuard{processed: map[string]bool{}}
	co := &stubCheckout{err: checkout.ErrRetryQueued}

	w := postStripe(t, ApiStripeWebhook(sv, guard, co, &stubLogStore{}), []byte(`{}`))

	// 200 so the provider stops redelivering; the queue owns recovery now
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"queued":true`)
	require.Equal(t, []string{"evt_4"}, guard.marked)
}

func TestApiStripeWebhook_ValidationFailureIsPermanent(t *testing.T) {
	sess := map[string]any{"id": "cs_9", "customer_email": "jane@b.co", "metadata": map[string]string{"plan_id": "nope"}}
	sv := &stubStripeVerifier{event: stripeEvent("evt_5", "checkout.session.completed", sess)}
	guard := &stubGuard{processed: map[string]bool{}}
	co := &stubCheckout{err: &checkout.ValidationError{Msg: "unknown plan_id: nope"}}

	w := postStripe(t, ApiStripeWebhook(sv, guard, co, &stubLogStore{}), []byte(`{}`))

	require.Equal(t, http.StatusBadRequest, w.Code)
	// still marked: redelivery of a permanently rejected event must not retry
	require.Equal(t, []string{"evt_5"}, guard.marked)
}

func TestApiStripeWebhook_UnexpectedErrorLeavesEventUnmarked(t *testing.T) {
	sess := map[string]any{"id": "cs_9", "customer_email": "jane@b.co", "metadata": map[string]string{"plan_id": "starter"}}
	sv := &stubStripeVerifier{event: stripeEvent("evt_6", "checkout.session.completed", sess)}
	guard := &stubGuard{processed: map[string]bool{}}
	co := &stubCheckout{err: errors.New("queue insert failed")}

	w := postStripe(t, ApiStripeWebhook(sv, guard, co, &stubLogStore{}), []byte(`{}`))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Empty(t, guard.marked)
}
