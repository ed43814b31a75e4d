package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/labstack/gommon/log"

	"github.com/deepfake-scanner/backend/internal/models"
)

var (
	// ErrQueueFull is returned by Pool.Dispatch when the job buffer is full.
	ErrQueueFull = errors.New("analysis queue is full")
	// ErrPoolClosed is returned by Pool.Dispatch after Stop.
	ErrPoolClosed = errors.New("analysis pool is stopped")
)

// Pool runs an Analyzer over dispatched jobs with a fixed number of workers.
type Pool struct {
	analyzer Analyzer
	workers  int
	jobs     chan models.AnalysisJob

	mu      sync.RWMutex
	closed  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool. Jobs dispatched before Start are buffered.
func NewPool(analyzer Analyzer, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		analyzer: analyzer,
		workers:  workers,
		jobs:     make(chan models.AnalysisJob, queueSize),
	}
}

// Start launches the workers. Transitions are reported to r.
func (p *Pool) Start(ctx context.Context, r Reporter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, r)
	}
}

// Dispatch enqueues job without blocking.
func (p *Pool) Dispatch(_ context.Context, job models.AnalysisJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new jobs, lets workers drain the buffer and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	cancel := p.cancel
	p.mu.Unlock()

	p.wg.Wait()
	if cancel != nil {
		cancel()
	}
}

func (p *Pool) work(ctx context.Context, r Reporter) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(ctx, r, job)
	}
}

func (p *Pool) run(ctx context.Context, r Reporter, job models.AnalysisJob) {
	id := job.RequestID
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("[Analysis %s] PANIC recovered: %v", shortID(id), rec)
			report(id, r.Fail(id, fmt.Sprintf("analysis panicked: %v", rec)))
		}
	}()

	log.Debugf("[Analysis %s] worker picked up %s", shortID(id), job.OriginalFilename)

	result, err := p.analyzer.Analyze(ctx, job, func(percent int) {
		report(id, r.UpdateProgress(id, percent))
	})
	if err != nil {
		report(id, r.Fail(id, err.Error()))
		return
	}
	report(id, r.Complete(id, result))
}

// report logs transitions that could not be applied, e.g. because the
// request was cleared while it was being analyzed.
func report(id string, err error) {
	if err != nil {
		log.Debugf("[Analysis %s] dropped update: %v", shortID(id), err)
	}
}
