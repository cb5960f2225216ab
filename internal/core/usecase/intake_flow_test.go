package usecase_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
	"github.com/kirillkom/recovery-tracker/internal/core/extraction"
	"github.com/kirillkom/recovery-tracker/internal/core/usecase"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/cache/memory"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/poller"
	memstore "github.com/kirillkom/recovery-tracker/internal/infrastructure/repository/memory"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/transfer"
)

type capturedEvents struct {
	mu     sync.Mutex
	events []domain.ExtractionCompleted
}

func (c *capturedEvents) PublishExtractionCompleted(_ context.Context, event domain.ExtractionCompleted) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturedEvents) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestDischargePDFFlowEndToEnd(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("pdf_file"); err != nil {
			http.Error(w, "missing pdf_file", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"time_frames":[
			{"time": 7, "unit": "days", "message": "Take antibiotics twice daily", "type": 0},
			{"time": 2, "unit": "weeks", "message": "Do not drive", "type": 1}
		]}`))
	}))
	defer backend.Close()

	cache := memory.NewResponseCache(time.Hour)
	statuses := memstore.NewStatusStore()
	events := &capturedEvents{}

	validator := usecase.NewFileValidator(usecase.ValidatorOptions{
		MaxFileSize:      10 << 20,
		LargeFileWarning: 5 << 20,
		AllowedMimeTypes: []string{"application/pdf"},
	})
	builder := usecase.NewPackageBuilder(validator, usecase.PackageOptions{ConfidenceThreshold: 0.7})
	client := transfer.New(transfer.Options{BaseURL: backend.URL}, nil, cache, nil)
	statusPoller := poller.New(cache, extraction.NewNormalizer(extraction.Options{ConfidenceThreshold: 0.7}), poller.Options{
		InitialDelay: time.Millisecond,
		Interval:     5 * time.Millisecond,
		MaxWait:      5 * time.Second,
	}, nil)
	defer statusPoller.Shutdown()

	uc := usecase.NewIntakeUseCase(builder, client, statusPoller, cache, statuses, events, nil)

	data := bytes.Repeat([]byte("a"), 50*1024)
	copy(data, "%PDF-1.7\n")
	file := usecase.NewBytesFile("discharge.pdf", "application/pdf", data, time.Now())
	user := domain.UserContext{UserID: "user-1", Procedure: "appendectomy", DischargeDate: time.Now(), Timezone: "UTC"}

	resp, err := uc.Start(context.Background(), file, user)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !resp.Success || resp.EstimatedTime != "10-30 seconds" {
		t.Fatalf("unexpected acknowledgement: %+v", resp)
	}

	deadline := time.Now().Add(3 * time.Second)
	var status *domain.UploadStatus
	for time.Now().Before(deadline) {
		status, err = uc.Status(context.Background(), resp.UploadID)
		if err == nil && status.Status.IsTerminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if status == nil || status.Status != domain.UploadStateCompleted {
		t.Fatalf("expected completed status, got %+v err=%v", status, err)
	}
	if status.Progress != 100 || status.Result == nil {
		t.Fatalf("expected full progress with result, got %+v", status)
	}

	tasks := status.Result.Tasks
	if len(tasks) != 2 {
		t.Fatalf("expected two tasks, got %d", len(tasks))
	}
	if tasks[0].ActionType != domain.ActionDo || tasks[0].Type != domain.TaskTypeMedication {
		t.Fatalf("unexpected first task: %+v", tasks[0])
	}
	if tasks[1].ActionType != domain.ActionDoNot || tasks[1].Type != domain.TaskTypeActivityRestriction {
		t.Fatalf("unexpected second task: %+v", tasks[1])
	}
	if len(status.Result.Restrictions) != 1 || status.Result.Restrictions[0].Duration != "2 weeks" {
		t.Fatalf("unexpected restrictions: %+v", status.Result.Restrictions)
	}
	if status.Result.EmergencyInfo.WarningSignsTitle != "When to Call 911" {
		t.Fatalf("expected default emergency info, got %+v", status.Result.EmergencyInfo)
	}

	for time.Now().Before(deadline) && events.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if events.count() != 1 {
		t.Fatalf("expected one completion event, got %d", events.count())
	}
}
