package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	mw "github.com/rapidahost/billinghub/internal/app/api/middleware"
	"github.com/rapidahost/billinghub/internal/app/service/checkout"
	"github.com/rapidahost/billinghub/internal/app/service/eventlog"
	"github.com/rapidahost/billinghub/internal/models"
	"github.com/rapidahost/billinghub/pkg/response"
	"github.com/rapidahost/billinghub/pkg/types"
)

type paypalEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type paypalCapture struct {
	ID       string `json:"id"`
	CustomID string `json:"custom_id"`
	Payer    struct {
		EmailAddress string `json:"email_address"`
		Name         struct {
			GivenName string `json:"given_name"`
			Surname   string `json:"surname"`
		} `json:"name"`
	} `json:"payer"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

// customMetadata is what checkout places into the capture's custom_id field:
// a small JSON blob with the plan selection.
type customMetadata struct {
	PlanID       string `json:"plan_id"`
	BillingCycle string `json:"billingcycle"`
	Promocode    string `json:"promocode"`
	Name         string `json:"name"`
}

// @Summary      PayPal Webhook
// @Description  Handles PayPal webhook deliveries, verified through PayPal's verify-webhook-signature endpoint.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Success      200  {object}  handlers.RespOK
// @Failure      400  {object}  handlers.RespErr
// @Router       /webhook/paypal [post]
func ApiPaypalWebhook(verifier PaypalVerifier, guard IdempotencyGuard, co CheckoutService, logs LogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := mw.TraceID(c)
		ctx := c.Request.Context()

		raw, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "unreadable body"))
			return
		}
		// The verifier re-reads the request body when building the
		// verification payload for PayPal's endpoint.
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))

		ok, err := verifier.VerifyWebhook(ctx, c.Request)
		if err != nil || !ok {
			payload := map[string]any{}
			if err != nil {
				payload["error"] = err.Error()
			}
			logs.AppendAsync(ctx, eventlog.Event(traceID, models.LogSourcePaypal, "webhook.signature_invalid", models.LogLevelWarn, models.LogStatusFailed, payload))
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid signature"))
			return
		}

		var event paypalEvent
		if err := json.Unmarshal(raw, &event); err != nil || event.ID == "" {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "malformed event"))
			return
		}

		dup, err := guard.WasProcessed(ctx, event.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		if dup {
			logs.AppendAsync(ctx, eventlog.Event(traceID, models.LogSourcePaypal, "webhook.duplicate", models.LogLevelInfo, models.LogStatusSuccess, map[string]any{
				"event_id": event.ID,
			}))
			c.JSON(http.StatusOK, response.OKT(webhookAck{Received: true, Duplicate: true}))
			return
		}

		logs.AppendAsync(ctx, eventlog.Event(traceID, models.LogSourcePaypal, "webhook.received", models.LogLevelInfo, models.LogStatusPending, map[string]any{
			"event_id": event.ID, "event_type": event.EventType,
		}))

		if event.EventType != "PAYMENT.CAPTURE.COMPLETED" {
			logs.AppendAsync(ctx, eventlog.Event(traceID, models.LogSourcePaypal, "webhook.ignored", models.LogLevelDebug, models.LogStatusSuccess, map[string]any{
				"event_id": event.ID, "event_type": event.EventType,
			}))
			c.JSON(http.StatusOK, response.OKT(webhookAck{Received: true}))
			return
		}

		var capture paypalCapture
		if err := json.Unmarshal(event.Resource, &capture); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "malformed capture resource"))
			return
		}

		meta := parseCustomMetadata(capture.CustomID)
		name := meta.Name
		if name == "" {
			name = strings.TrimSpace(capture.Payer.Name.GivenName + " " + capture.Payer.Name.Surname)
		}

		in := &checkout.Input{
			Provider:     types.ChannelPaypal,
			TraceID:      traceID,
			EventID:      event.ID,
			Email:        capture.Payer.EmailAddress,
			Name:         name,
			PlanID:       meta.PlanID,
			BillingCycle: meta.BillingCycle,
			Promocode:    meta.Promocode,
			OrderID:      capture.SupplementaryData.RelatedIDs.OrderID,
			CaptureID:    capture.ID,
		}

		res, err := co.Complete(ctx, in)

		markProcessed := func() {
			_ = guard.MarkProcessed(ctx, event.ID, string(types.ChannelPaypal), raw)
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
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
		}
	}
}

// parseCustomMetadata reads the capture custom_id. Older checkout builds put
// the bare plan id there instead of JSON; accept both.
func parseCustomMetadata(customID string) customMetadata {
	var meta customMetadata
	if customID == "" {
		return meta
	}
	if err := json.Unmarshal([]byte(customID), &meta); err != nil {
		meta.PlanID = customID
	}
	return meta
}

func RegisterWebhookRoutes(r gin.IRouter, sv StripeVerifier, pv PaypalVerifier, guard IdempotencyGuard, co CheckoutService, logs LogStore) {
	r.POST("/stripe", ApiStripeWebhook(sv, guard, co, logs))
	r.POST("/paypal", ApiPaypalWebhook(pv, guard, co, logs))
}
