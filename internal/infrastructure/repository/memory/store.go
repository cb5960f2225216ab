// Package memory holds process-local stores used when no database is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
)

type StatusStore struct {
	mu       sync.RWMutex
	statuses map[string]domain.UploadStatus
	owners   map[string]string
}

func NewStatusStore() *StatusStore {
	return &StatusStore{
		statuses: make(map[string]domain.UploadStatus),
		owners:   make(map[string]string),
	}
}

func (s *StatusStore) Save(_ context.Context, userID string, status domain.UploadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status.Result == nil {
		if prev, ok := s.statuses[status.UploadID]; ok {
			status.Result = prev.Result
		}
	}
	s.statuses[status.UploadID] = status
	s.owners[status.UploadID] = userID
	return nil
}

func (s *StatusStore) Get(_ context.Context, uploadID string) (*domain.UploadStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[uploadID]
	if !ok {
		return nil, domain.WrapError(domain.ErrUploadNotFound, "get upload status", fmt.Errorf("upload %s", uploadID))
	}
	return &status, nil
}

func (s *StatusStore) Delete(_ context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.statuses[uploadID]; !ok {
		return domain.WrapError(domain.ErrUploadNotFound, "delete upload status", fmt.Errorf("upload %s", uploadID))
	}
	delete(s.statuses, uploadID)
	delete(s.owners, uploadID)
	return nil
}

type storedTask struct {
	userID string
	task   domain.CareTask
}

// TaskStore keeps care tasks per user, ordered by scheduled time on read.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]storedTask
}

func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]storedTask)}
}

func (s *TaskStore) SaveTasks(_ context.Context, userID, _ string, tasks []domain.CareTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range tasks {
		if _, exists := s.tasks[task.ID]; exists {
			continue
		}
		s.tasks[task.ID] = storedTask{userID: userID, task: task}
	}
	return nil
}

func (s *TaskStore) ListTasks(_ context.Context, userID string) ([]domain.CareTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CareTask, 0)
	for _, st := range s.tasks {
		if st.userID == userID {
			out = append(out, st.task)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledTime.Equal(out[j].ScheduledTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledTime.Before(out[j].ScheduledTime)
	})
	return out, nil
}

func (s *TaskStore) GetTask(_ context.Context, userID, taskID string) (*domain.CareTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.tasks[taskID]
	if !ok || st.userID != userID {
		return nil, domain.WrapError(domain.ErrTaskNotFound, "get care task", fmt.Errorf("id=%s", taskID))
	}
	task := st.task
	return &task, nil
}

func (s *TaskStore) UpdateTaskStatus(_ context.Context, userID string, task *domain.CareTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[task.ID]
	if !ok || st.userID != userID {
		return domain.WrapError(domain.ErrTaskNotFound, "update care task status", fmt.Errorf("id=%s", task.ID))
	}
	st.task.Status = task.Status
	st.task.CompletedTime = task.CompletedTime
	s.tasks[task.ID] = st
	return nil
}

func (s *TaskStore) MarkOverdue(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, st := range s.tasks {
		if !st.task.IsOverdue(now) {
			continue
		}
		st.task.Status = domain.TaskStatusOverdue
		s.tasks[id] = st
		n++
	}
	return n, nil
}
