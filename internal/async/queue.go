// Package async runs extractions through a bounded worker pool, used by the
// batch CLI and the HTTP server for fire-and-forget submissions.
package async

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"docketscan/internal/extract"
	"docketscan/internal/pipeline"
)

// Job is one image to extract. Source is a caller-chosen label (file path,
// upload name) carried through to the result.
type Job struct {
	Source      string
	Image       []byte
	SubmittedAt time.Time
	TraceID     string
}

// JobResult pairs a finished job with its outcome. Exactly one of Result and
// Err is meaningful, except for no-data outcomes where both are set.
type JobResult struct {
	Job    Job
	Result *extract.Result
	Err    error
}

// ErrQueueClosed is returned by Enqueue once Shutdown has begun.
var ErrQueueClosed = errors.New("queue is shut down")

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// ExtractorQueue fans jobs out to a fixed worker pool, each worker running
// the full extraction pipeline under a per-job timeout.
type ExtractorQueue struct {
	extractor *pipeline.Extractor
	onResult  func(JobResult)
	logger    *slog.Logger
	workers   int
	timeout   time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*ExtractorQueue)

func WithWorkers(n int) Option {
	return func(q *ExtractorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ExtractorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithJobTimeout(d time.Duration) Option {
	return func(q *ExtractorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// NewExtractorQueue starts the pool immediately. onResult is invoked from
// worker goroutines and must be safe for concurrent use; nil means results
// are logged and dropped.
func NewExtractorQueue(ex *pipeline.Extractor, onResult func(JobResult), logger *slog.Logger, opts ...Option) *ExtractorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ExtractorQueue{
		extractor: ex,
		onResult:  onResult,
		logger:    logger,
		workers:   4,
		timeout:   3 * time.Minute,
		ch:        make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ExtractorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
					res, err := q.extractor.Extract(ctx, job.Image)
					cancel()

					if err != nil {
						q.logger.Error("extraction failed", "worker_id", workerID, "source", job.Source, "error", err)
					} else {
						q.logger.Info("extracted image", "worker_id", workerID, "source", job.Source, "records", len(res.Records))
					}
					if q.onResult != nil {
						q.onResult(JobResult{Job: job, Result: res, Err: err})
					}
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ExtractorQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		q.logger.Info("queued image for extraction", "source", job.Source)
	default:
		q.logger.Warn("queue full, applying backpressure", "source", job.Source)
		q.ch <- job
	}
	return nil
}

func (q *ExtractorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
