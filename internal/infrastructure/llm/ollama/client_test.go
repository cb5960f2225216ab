package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/resilience"
)

func noWaitExecutor() *resilience.Executor {
	cfg := resilience.DefaultConfig()
	cfg.RetryMaxAttempts = 3
	return resilience.NewExecutor(cfg, resilience.WithWaiter(func(context.Context, time.Duration) error { return nil }))
}

func TestGenerateJSONFromPromptRequestsJSONFormat(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"Sure! {\"time_frames\":[]} hope this helps"}`))
	}))
	defer server.Close()

	client := New(server.URL, "gen", noWaitExecutor())
	out, err := client.GenerateJSONFromPrompt(context.Background(), "extract instructions")
	if err != nil {
		t.Fatalf("GenerateJSONFromPrompt() error = %v", err)
	}
	if out != `{"time_frames":[]}` {
		t.Fatalf("unexpected output: %q", out)
	}
	if payload["format"] != "json" || payload["model"] != "gen" || payload["stream"] != false {
		t.Fatalf("unexpected request payload: %+v", payload)
	}
}

func TestGenerateJSONFromPromptRetriesUnavailableModel(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"response":"{\"ok\":true}"}`))
	}))
	defer server.Close()

	out, err := New(server.URL, "gen", noWaitExecutor()).GenerateJSONFromPrompt(context.Background(), "p")
	if err != nil {
		t.Fatalf("GenerateJSONFromPrompt() error = %v", err)
	}
	if out != `{"ok":true}` || calls.Load() != 2 {
		t.Fatalf("expected success on second call, got %q after %d calls", out, calls.Load())
	}
}

func TestGenerateJSONFromPromptIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := New(server.URL, "gen", noWaitExecutor()).GenerateJSONFromPrompt(context.Background(), "p")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("404 must not be reported as temporary: %v", err)
	}
}

func TestGenerateJSONFromPromptRejectsEmptyPrompt(t *testing.T) {
	_, err := New("http://127.0.0.1:0", "gen", nil).GenerateJSONFromPrompt(context.Background(), "  ")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
