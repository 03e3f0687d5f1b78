package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rapidahost/billinghub/pkg/response"
)

// @Summary      Query logs by trace id
// @Description  Returns log events for one trace, most recent first.
// @Tags         Admin
// @Produce      json
// @Param        traceId  query  string  true   "Trace ID"
// @Param        limit    query  int     false  "Max rows (default 100)"
// @Success      200  {object}  handlers.RespOK
// @Failure      400  {object}  handlers.RespErr
// @Failure      401  {object}  handlers.RespErr
// @Router       /admin/logs [get]
func ApiAdminLogs(logs LogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.Query("traceId")
		if traceID == "" {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing traceId"))
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))

		rows, err := logs.ListByTrace(c.Request.Context(), traceID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(rows))
	}
}

// RegisterOpsRoutes mounts the scheduler/admin endpoints. The group must
// already carry the shared-secret middleware.
func RegisterOpsRoutes(r gin.IRouter, queue RetryEnqueuer, runner RetryRunner, logs LogStore) {
	r.POST("/retry-email", ApiRetryEmail(queue, logs))
	r.POST("/retry/process", ApiRetryProcess(runner))
	r.GET("/admin/logs", ApiAdminLogs(logs))
}
