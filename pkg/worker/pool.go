// Package worker provides a bounded asynchronous job pool. Request handlers
// use it to push side effects (access recording, embedding refresh) off the
// hot path so the response never waits on them.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/papercomputeco/memlayer/pkg/logger"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
	defaultJobTimeout        = 30 * time.Second
)

// Job is a unit of work for the pool.
type Job struct {
	// Kind names the job for logs and metrics, e.g. "record_access".
	Kind string

	// Subject identifies what the job touches, e.g. a record ID.
	Subject string

	// Run does the work. The context is cancelled after the pool's JobTimeout.
	Run func(ctx context.Context) error
}

// Config is the configuration options for the worker pool.
type Config struct {
	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// JobTimeout bounds a single job's run (defaults to 30s).
	JobTimeout time.Duration

	// OnResult, when set, is called after every job with its outcome.
	OnResult func(job Job, err error)

	Logger *slog.Logger
}

// Pool runs jobs on a fixed set of goroutines.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: logger.OrNop(c.Logger),
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job without blocking. It returns false when the queue is
// full or the pool is closed, in which case the job is dropped.
func (p *Pool) Enqueue(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("job dropped, pool closed", "kind", job.Kind, "subject", job.Subject)
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("job queued", "kind", job.Kind, "subject", job.Subject)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped", "kind", job.Kind, "subject", job.Subject)
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to drain. It is safe
// to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.process(job)
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}

func (p *Pool) process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
	defer cancel()

	err := p.run(ctx, job)
	if err != nil {
		p.logger.Warn("job failed", "kind", job.Kind, "subject", job.Subject, "error", err)
	}
	if p.config.OnResult != nil {
		p.config.OnResult(job, err)
	}
}

func (p *Pool) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Kind, r)
		}
	}()
	if job.Run == nil {
		return nil
	}
	return job.Run(ctx)
}
