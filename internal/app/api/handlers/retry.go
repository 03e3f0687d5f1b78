package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	mw "github.com/rapidahost/billinghub/internal/app/api/middleware"
	"github.com/rapidahost/billinghub/internal/app/service/eventlog"
	"github.com/rapidahost/billinghub/internal/app/service/retryflow"
	"github.com/rapidahost/billinghub/internal/app/service/retryproc"
	"github.com/rapidahost/billinghub/internal/models"
	"github.com/rapidahost/billinghub/pkg/response"
	"github.com/rapidahost/billinghub/pkg/types"
)

type retryEmailRequest struct {
	MessageID    string `json:"message_id" binding:"required"`
	Template     string `json:"template"`
	To           string `json:"to"`
	Reason       string `json:"reason"`
	DelaySeconds int    `json:"delay_seconds"`
}

type retryEmailResponse struct {
	JobID string `json:"job_id"`
}

// @Summary      Queue an email retry
// @Description  Enqueues a retry job that re-sends one transactional message. Called by the scheduler or the admin UI.
// @Tags         Retry
// @Accept       json
// @Produce      json
// @Param        request body handlers.retryEmailRequest true "Email retry request"
// @Success      200  {object}  handlers.RespOK
// @Failure      400  {object}  handlers.RespErr
// @Failure      401  {object}  handlers.RespErr
// @Router       /retry-email [post]
func ApiRetryEmail(queue RetryEnqueuer, logs LogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := mw.TraceID(c)
		ctx := c.Request.Context()

		var req retryEmailRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "message_id is required"))
			return
		}
		reason := req.Reason
		if reason == "" {
			reason = "manual_retry"
		}

		job := &models.RetryJob{
			TraceID: traceID,
			Channel: types.ChannelEmail,
			Payload: eventlog.JSONPayload(retryflow.EmailPayload{
				MessageID: req.MessageID,
				Template:  req.Template,
				To:        req.To,
			}),
			Reason:       reason,
			DelaySeconds: req.DelaySeconds,
		}
		if err := queue.Enqueue(ctx, job); err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}

		logs.AppendAsync(ctx, eventlog.Event(traceID, models.LogSourceRetry, "retry.email.queued", models.LogLevelInfo, models.LogStatusPending, map[string]any{
			"job_id": job.ID, "message_id": req.MessageID, "reason": reason, "delay_seconds": req.DelaySeconds,
		}))
		c.JSON(http.StatusOK, response.OKT(retryEmailResponse{JobID: job.ID}))
	}
}

type retryProcessRequest struct {
	TraceID string `json:"trace_id"`
	Max     int    `json:"max"`
}

// @Summary      Process retry jobs
// @Description  With a trace_id, re-drives that transaction immediately; without one, drains due jobs from the retry queue.
// @Tags         Retry
// @Accept       json
// @Produce      json
// @Param        request body handlers.retryProcessRequest false "Processing request"
// @Success      200  {object}  handlers.RespOK
// @Failure      401  {object}  handlers.RespErr
// @Failure      422  {object}  handlers.RespErr
// @Router       /retry/process [post]
func ApiRetryProcess(runner RetryRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req retryProcessRequest
		_ = c.ShouldBindJSON(&req)

		if req.TraceID != "" {
			err := runner.RunByTrace(ctx, req.TraceID)
			switch {
			case err == nil:
				c.JSON(http.StatusOK, response.OKT(map[string]any{"trace_id": req.TraceID, "retried": true}))
			case errors.Is(err, retryproc.ErrTraceNotFound):
				c.JSON(http.StatusNotFound, response.ErrorT[any](response.APIResponseCodeBadRequest, "log not found"))
			case errors.Is(err, retryflow.ErrChannelUnknown):
				c.JSON(http.StatusUnprocessableEntity, response.ErrorT[any](response.APIResponseCodeUnprocessable, "Unable to infer channel from source"))
			default:
				c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			}
			return
		}

		report, err := runner.ProcessDue(ctx, req.Max)
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(report))
	}
}
