package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestNormalizePathFoldsUploadIDs(t *testing.T) {
	cases := map[string]string{
		"/v1/uploads/abc":       "/v1/uploads/{upload_id}",
		"/v1/uploads/abc/retry": "/v1/uploads/{upload_id}/retry",
		"/v1/uploads":           "/v1/uploads",
		"/healthz":              "/healthz",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPipelineMetricsShareHTTPRegistry(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("api")
	pipeline := NewPipelineMetrics("api", httpMetrics.Registry())

	pipeline.RecordTransferAttempt("http_error")
	pipeline.RecordTransferRetry()
	pipeline.RecordPoll("processing")
	pipeline.RecordUploadOutcome("completed")
	pipeline.RecordTasksNormalized(2)

	handler := httpMetrics.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/uploads", nil))

	body := scrape(t, httpMetrics.Handler())
	for _, want := range []string{
		`recovery_transfer_attempts_total{outcome="http_error",service="api"} 1`,
		`recovery_transfer_retries_total{service="api"} 1`,
		`recovery_poller_polls_total{service="api",state="processing"} 1`,
		`recovery_upload_outcomes_total{service="api",state="completed"} 1`,
		`recovery_http_requests_total{method="POST",path="/v1/uploads",service="api",status="202"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output:\n%s", want, body)
		}
	}
}

func TestWorkerMetricsCountEvents(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartEvent()
	m.FinishEvent("worker", 20*time.Millisecond, nil)
	m.AddTasksStored("worker", 3)
	m.AddOverdueMarked("worker", 0)

	body := scrape(t, m.Handler())
	if !strings.Contains(body, `recovery_worker_extraction_events_total{service="worker",status="success"} 1`) {
		t.Fatalf("missing event counter:\n%s", body)
	}
	if !strings.Contains(body, `recovery_worker_tasks_stored_total{service="worker"} 3`) {
		t.Fatalf("missing stored task counter:\n%s", body)
	}
}
