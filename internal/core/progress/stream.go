// Package progress carries the per-attempt progress-event stream every pipeline
// stage publishes to.
package progress

import (
	"sync"
	"time"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
)

// Stream fans status snapshots of one upload attempt out to its subscribers.
//
// Within one state the reported progress never decreases: a smaller value is
// raised to the last one seen. Terminal snapshots close the stream after they
// are delivered, and nothing is delivered after Close returns. Subscribers run
// synchronously and must not call back into the stream.
type Stream struct {
	uploadID string
	now      func() time.Time

	mu     sync.Mutex
	closed bool
	last   map[domain.UploadState]float64
	latest *domain.UploadStatus
	subs   map[int]func(domain.UploadStatus)
	nextID int
}

func NewStream(uploadID string) *Stream {
	return &Stream{
		uploadID: uploadID,
		now:      time.Now,
		last:     make(map[domain.UploadState]float64),
		subs:     make(map[int]func(domain.UploadStatus)),
	}
}

func (s *Stream) UploadID() string {
	if s == nil {
		return ""
	}
	return s.uploadID
}

// Subscribe registers fn and returns a function that removes it.
func (s *Stream) Subscribe(fn func(domain.UploadStatus)) func() {
	if s == nil || fn == nil {
		return func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Publish delivers status to every subscriber. It returns false when the
// stream is already closed and the snapshot was dropped.
func (s *Stream) Publish(status domain.UploadStatus) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if status.UploadID == "" {
		status.UploadID = s.uploadID
	}
	if status.At.IsZero() {
		status.At = s.now().UTC()
	}
	status.Progress = clamp(status.Progress)
	if prev, ok := s.last[status.Status]; ok && status.Progress < prev {
		status.Progress = prev
	}
	s.last[status.Status] = status.Progress

	snapshot := status
	s.latest = &snapshot
	for _, fn := range s.subs {
		fn(status)
	}
	if status.Status.IsTerminal() {
		s.closed = true
	}
	return true
}

// Latest returns the most recent snapshot that was delivered.
func (s *Stream) Latest() (domain.UploadStatus, bool) {
	if s == nil {
		return domain.UploadStatus{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return domain.UploadStatus{}, false
	}
	return *s.latest, true
}

func (s *Stream) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = make(map[int]func(domain.UploadStatus))
}

func (s *Stream) Closed() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
