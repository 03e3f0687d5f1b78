package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/rapidahost/billinghub/internal/app/service/checkout"
)

type stubPaypalVerifier struct {
	ok  bool
	err error
}

func (s *stubPaypalVerifier) VerifyWebhook(_ context.Context, _ *http.Request) (bool, error) {
	return s.ok, s.err
}

func postPaypal(t *testing.T, h gin.HandlerFunc, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhook/paypal", h)

	req := httptest.NewRequest(http.MethodPost, "/webhook/paypal", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestApiPaypalWebhook_RejectsUnverified(t *testing.T) {
	guard := &stubGuard{processed: map[string]bool{}}
	co := &stubCheckout{}

	w := postPaypal(t, ApiPaypalWebhook(&stubPaypalVerifier{ok: false}, guard, co, &stubLogStore{}), []byte(`{"id":"WH-1"}`))

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, co.seen)
}

func TestApiPaypalWebhook_CaptureCompleted(t *testing.T) {
	body := []byte(`{
		"id": "WH-2",
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"id": "cap_9",
			"custom_id": "{\"plan_id\":\"starter\",\"billingcycle\":\"monthly\",\"name\":\"Jane Doe\"}",
			"payer": {"email_address": "jane@b.co", "name": {"given_name": "Jane", "surname": "Doe"}},
			"supplementary_data": {"related_ids": {"order_id": "ord_5"}}
		}
	}`)
	guard := &stubGuard{processed: map[string]bool{}}
	co := &stubCheckout{res: &checkout.Result{ClientID: 12}}

	w := postPaypal(t, ApiPaypalWebhook(&stubPaypalVerifier{ok: true}, guard, co, &stubLogStore{}), body)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, co.seen, 1)
	in := co.seen[0]
	require.Equal(t, "jane@b.co", in.Email)
	require.Equal(t, "Jane Doe", in.Name)
	require.Equal(t, "starter", in.PlanID)
	require.Equal(t, "ord_5", in.OrderID)
	require.Equal(t, "cap_9", in.CaptureID)
	require.Equal(t, []string{"WH-2"}, guard.marked)
}

func TestApiPaypalWebhook_IgnoresOtherEventTypes(t *testing.T) {
	body := []byte(`{"id":"WH-3","event_type":"PAYMENT.CAPTURE.DENIED","resource":{}}`)
	guard := &stubGuard{processed: map[string]bool{}}
	co := &stubCheckout{}

	w := postPaypal(t, ApiPaypalWebhook(&stubPaypalVerifier{ok: true}, guard, co, &stubLogStore{}), body)

	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, co.seen)
}

func TestParseCustomMetadata(t *testing.T) {
	meta := parseCustomMetadata(`{"plan_id":"starter","billingcycle":"annually","promocode":"SAVE10"}`)
	require.Equal(t, "starter", meta.PlanID)
	require.Equal(t, "annually", meta.BillingCycle)
	require.Equal(t, "SAVE10", meta.Promocode)

	// bare plan id from older checkout builds
	meta = parseCustomMetadata("starter")
	require.Equal(t, "starter", meta.PlanID)
	require.Empty(t, meta.BillingCycle)

	meta = parseCustomMetadata("")
	require.Empty(t, meta.PlanID)
}
