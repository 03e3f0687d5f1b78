package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/rapidahost/billinghub/internal/app/service/retryflow"
	"github.com/rapidahost/billinghub/internal/app/service/retryproc"
	"github.com/rapidahost/billinghub/internal/models"
)

type stubEnqueuer struct {
	jobs []*models.RetryJob
	err  error
}

func (s *stubEnqueuer) Enqueue(_ context.Context, job *models.RetryJob) error {
	if s.err != nil {
		return s.err
	}
	job.ID = "job-1"
	s.jobs = append(s.jobs, job)
	return nil
}

type stubRunner struct {
	report     *retryproc.Report
	byTraceErr error
	traces     []string
}

func (s *stubRunner) ProcessDue(_ context.Context, _ int) (*retryproc.Report, error) {
	return s.report, nil
}

func (s *stubRunner) RunByTrace(_ context.Context, traceID string) error {
	s.traces = append(s.traces, traceID)
	return s.byTraceErr
}

func opsRouter(queue RetryEnqueuer, runner RetryRunner, logs LogStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterOpsRoutes(r, queue, runner, logs)
	return r
}

func postJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestApiRetryEmail_RequiresMessageID(t *testing.T) {
	r := opsRouter(&stubEnqueuer{}, &stubRunner{}, &stubLogStore{})

	w := postJSON(r, "/retry-email", `{"template":"tmpl"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "message_id is required")
}

func TestApiRetryEmail_EnqueuesJob(t *testing.T) {
	queue := &stubEnqueuer{}
	r := opsRouter(queue, &stubRunner{}, &stubLogStore{})

	w := postJSON(r, "/retry-email", `{"message_id":"msg-9","to":"jane@b.co","delay_seconds":60}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "job-1")

	require.Len(t, queue.jobs, 1)
	job := queue.jobs[0]
	require.Equal(t, "manual_retry", job.Reason)
	require.Equal(t, 60, job.DelaySeconds)
	require.Contains(t, string(job.Payload), "msg-9")
}

func TestApiRetryProcess_ByTrace(t *testing.T) {
	runner := &stubRunner{}
	r := opsRouter(&stubEnqueuer{}, runner, &stubLogStore{})

	w := postJSON(r, "/retry/process", `{"trace_id":"tr-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"tr-1"}, runner.traces)
}

func TestApiRetryProcess_UnknownTrace(t *testing.T) {
	runner := &stubRunner{byTraceErr: retryproc.ErrTraceNotFound}
	r := opsRouter(&stubEnqueuer{}, runner, &stubLogStore{})

	w := postJSON(r, "/retry/process", `{"trace_id":"tr-missing"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestApiRetryProcess_ChannelNotInferable(t *testing.T) {
	runner := &stubRunner{byTraceErr: retryflow.ErrChannelUnknown}
	r := opsRouter(&stubEnqueuer{}, runner, &stubLogStore{})

	w := postJSON(r, "/retry/process", `{"trace_id":"tr-odd"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Contains(t, w.Body.String(), "Unable to infer channel from source")
}

func TestApiRetryProcess_DrainsQueue(t *testing.T) {
	runner := &stubRunner{report: &retryproc.Report{Processed: 3, Succeeded: 2, Rescheduled: 1}}
	r := opsRouter(&stubEnqueuer{}, runner, &stubLogStore{})

	w := postJSON(r, "/retry/process", `{"max":10}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"processed":3`)
}

func TestApiAdminLogs(t *testing.T) {
	logs := &stubLogStore{events: []*models.LogEvent{{TraceID: "tr-1", Source: models.LogSourceStripe, Event: "webhook.received"}}}
	r := opsRouter(&stubEnqueuer{}, &stubRunner{}, logs)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/logs", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/logs?traceId=tr-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "webhook.received")
}
