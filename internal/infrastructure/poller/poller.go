package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
	"github.com/kirillkom/recovery-tracker/internal/core/ports"
)

// Metrics receives poll outcomes. A nil Metrics is allowed.
type Metrics interface {
	RecordPoll(state string)
}

type Options struct {
	InitialDelay time.Duration
	Interval     time.Duration
	// MaxWait bounds the whole polling phase; reaching it is a terminal failure.
	MaxWait time.Duration
}

// Poller checks cached backend responses on a fixed interval until the
// upload reaches a terminal state. Each upload id owns one timer goroutine.
type Poller struct {
	cache      ports.ResponseCache
	normalizer ports.Normalizer
	opts       Options
	metrics    Metrics
	now        func() time.Time

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func New(cache ports.ResponseCache, normalizer ports.Normalizer, opts Options, metrics Metrics) *Poller {
	if opts.InitialDelay < 0 {
		opts.InitialDelay = time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 120 * time.Second
	}
	return &Poller{
		cache:      cache,
		normalizer: normalizer,
		opts:       opts,
		metrics:    metrics,
		now:        time.Now,
		active:     make(map[string]context.CancelFunc),
	}
}

// Start replaces any poller already running for uploadID.
func (p *Poller) Start(uploadID string, onUpdate func(domain.UploadStatus)) {
	p.Stop(uploadID)

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.active[uploadID] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(ctx, uploadID)
		p.run(ctx, uploadID, onUpdate)
	}()
}

func (p *Poller) Stop(uploadID string) {
	p.mu.Lock()
	cancel, ok := p.active[uploadID]
	delete(p.active, uploadID)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Active reports whether a poller is running for uploadID.
func (p *Poller) Active(uploadID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[uploadID]
	return ok
}

// Shutdown stops every poller and waits for their goroutines.
func (p *Poller) Shutdown() {
	p.mu.Lock()
	for id, cancel := range p.active {
		cancel()
		delete(p.active, id)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// PollOnce reports processing until a backend response is cached, then
// completed with the normalized result.
func (p *Poller) PollOnce(ctx context.Context, uploadID string) (domain.UploadStatus, error) {
	raw, ok, err := p.cache.Get(ctx, uploadID)
	if err != nil {
		return domain.UploadStatus{}, fmt.Errorf("get status for upload %s: %w", uploadID, err)
	}
	if !ok {
		return domain.UploadStatus{
			UploadID: uploadID,
			Status:   domain.UploadStateProcessing,
			Stage:    domain.StageProcessing,
			Progress: 50,
			Message:  "Processing PDF...",
			At:       p.now().UTC(),
		}, nil
	}

	result := p.normalizer.Normalize(raw)
	return domain.UploadStatus{
		UploadID: uploadID,
		Status:   domain.UploadStateCompleted,
		Stage:    domain.StageCompleted,
		Progress: 100,
		Message:  "Processing complete!",
		Result:   &result,
		At:       p.now().UTC(),
	}, nil
}

func (p *Poller) run(ctx context.Context, uploadID string, onUpdate func(domain.UploadStatus)) {
	deadline := p.now().Add(p.opts.MaxWait)
	timer := time.NewTimer(p.opts.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		status, err := p.PollOnce(ctx, uploadID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("status_poll_failed", "upload_id", uploadID, "error", err)
			status = domain.UploadStatus{
				UploadID: uploadID,
				Status:   domain.UploadStateFailed,
				Stage:    domain.StageFailed,
				Message:  "Failed to check status",
				Error:    err.Error(),
				At:       p.now().UTC(),
			}
		} else if !status.Status.IsTerminal() && !p.now().Before(deadline) {
			slog.Warn("status_poll_timeout", "upload_id", uploadID, "max_wait", p.opts.MaxWait.String())
			status = domain.UploadStatus{
				UploadID: uploadID,
				Status:   domain.UploadStateFailed,
				Stage:    domain.StageFailed,
				Message:  "Processing timed out",
				Error:    domain.WrapError(domain.ErrPollTimeout, "poll status", fmt.Errorf("no result after %s", p.opts.MaxWait)).Error(),
				At:       p.now().UTC(),
			}
		}

		if p.metrics != nil {
			p.metrics.RecordPoll(string(status.Status))
		}
		onUpdate(status)
		if status.Status.IsTerminal() {
			return
		}
		timer.Reset(p.opts.Interval)
	}
}

func (p *Poller) release(ctx context.Context, uploadID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// A newer Start may already own the slot.
	if cancel, ok := p.active[uploadID]; ok && ctx.Err() == nil {
		cancel()
		delete(p.active, uploadID)
	}
}
