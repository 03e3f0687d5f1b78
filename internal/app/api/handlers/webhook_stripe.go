package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v78"

	mw "github.com/rapidahost/billinghub/internal/app/api/middleware"
	"github.com/rapidahost/billinghub/internal/app/service/checkout"
	"github.com/rapidahost/billinghub/internal/app/service/eventlog"
	"github.com/rapidahost/billinghub/internal/models"
	"github.com/rapidahost/billinghub/pkg/response"
	"github.com/rapidahost/billinghub/pkg/types"
)

type webhookAck struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
	Queued    bool `json:"queued,omitempty"`
}

// @Summary      Stripe Webhook
// @Description  Handles Stripe webhook deliveries. The body must be the raw event payload signed with the stripe-signature header.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Success      200  {object}  handlers.RespOK
// @Failure      400  {object}  handlers.RespErr
// @Router       /webhook/stripe [post]
func ApiStripeWebhook(verifier StripeVerifier, guard IdempotencyGuard, co CheckoutService, logs LogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := mw.TraceID(c)
		ctx := c.Request.Context()

		raw, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "unreadable body"))
			return
		}

		// Signature first; nothing in the body is trusted before this passes.
		event, err := verifier.VerifyAndParse(c.GetHeader("Stripe-Signature"), raw)
		if err != nil {
			logs.AppendAsync(ctx, eventlog.Event(traceID, models.LogSourceStripe, "webhook.signature_invalid", models.LogLevelWarn, models.LogStatusFailed, map[string]any{
				"error": err.Error(),
			}))
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid signature"))
			return
		}

		dup, err := guard.WasProcessed(ctx, event.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		if dup {
			// Redelivery after a marker exists: ack without side effects.
			logs.AppendAsync(ctx, eventlog.Event(traceID, models.LogSourceStripe, "webhook.duplicate", models.LogLevelInfo, models.LogStatusSuccess, map[string]any{
				"event_id": event.ID,
			}))
			c.JSON(http.StatusOK, response.OKT(webhookAck{Received: true, Duplicate: true}))
			return
		}

		logs.AppendAsync(ctx, eventlog.Event(traceID, models.LogSourceStripe, "webhook.received", models.LogLevelInfo, models.LogStatusPending, map[string]any{
			"event_id": event.ID, "event_type": event.Type,
		}))

		if event.Type != "checkout.session.completed" {
			logs.AppendAsync(ctx, eventlog.Event(traceID, models.LogSourceStripe, "webhook.ignored", models.LogLevelDebug, models.LogStatusSuccess, map[string]any{
				"event_id": event.ID, "event_type": event.Type,
			}))
			c.JSON(http.StatusOK, response.OKT(webhookAck{Received: true}))
			return
		}

		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "malformed checkout session"))
			return
		}

		in := &checkout.Input{
			Provider:        types.ChannelStripe,
			TraceID:         traceID,
			EventID:         event.ID,
			Email:           sessionEmail(&sess),
			Name:            sess.Metadata["name"],
			PlanID:          sess.Metadata["plan_id"],
			BillingCycle:    metaFirst(sess.Metadata, "billing_cycle", "billingcycle"),
			Promocode:       sess.Metadata["promocode"],
			SessionID:       sess.ID,
			PaymentIntentID: paymentIntentID(&sess),
		}

		res, err := co.Complete(ctx, in)

		// The event reached a decision (success, queued recovery, or a
		// permanent rejection) in every branch below, so the marker is safe
		// to write: redelivery must not redo side effects.
		markProcessed := func() {
			_ = guard.MarkProcessed(ctx, event.ID, string(types.ChannelStripe), raw)
		}

		switch {
		case err == nil:
			markProcessed()
			c.JSON(http.StatusOK, response.OKT(res))
		case errors.Is(err, checkout.ErrRetryQueued):
			markProcessed()
			c.JSON(http.StatusOK, response.OKT(webhookAck{Received: true, Queued: true}))
		case isValidationErr(err):
			markProcessed()
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
		default:
			// Could not even record the failure; let the provider redeliver.
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
		}
	}
}

func sessionEmail(sess *stripe.CheckoutSession) string {
	if sess.CustomerEmail != "" {
		return sess.CustomerEmail
	}
	if sess.CustomerDetails != nil {
		return sess.CustomerDetails.Email
	}
	return ""
}

func paymentIntentID(sess *stripe.CheckoutSession) string {
	if sess.PaymentIntent != nil {
		return sess.PaymentIntent.ID
	}
	return ""
}

func metaFirst(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}

func isValidationErr(err error) bool {
	var ve *checkout.ValidationError
	return errors.As(err, &ve)
}
