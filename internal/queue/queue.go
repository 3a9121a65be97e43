// Package queue implements a durable, at-least-once Postgres job queue:
// jobs are leased with SELECT ... FOR UPDATE SKIP LOCKED, retried with
// exponential backoff on failure, and deduplicated by an idempotency key
// unique index so re-enqueuing the same logical unit of work is a no-op.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/dealerfeed/ingest-pipeline/internal/metrics"
	"github.com/dealerfeed/ingest-pipeline/internal/tracing"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

const (
	selectReadyJobSQL = `
SELECT id, type, idempotency_key, payload, status, attempt_count, max_attempts, next_attempt_at, last_error, created_at, updated_at
FROM jobs
WHERE type = $1 AND status = 'pending' AND next_attempt_at <= now()
ORDER BY id ASC
FOR UPDATE SKIP LOCKED
LIMIT 1`

	countPendingSQL = `SELECT count(*) FROM jobs WHERE type = $1 AND status = 'pending'`

	insertJobSQL = `
INSERT INTO jobs (type, idempotency_key, payload, status, attempt_count, max_attempts, backoff_base_secs, next_attempt_at)
VALUES ($1, $2, $3, 'pending', 0, $4, $5, $6)
ON CONFLICT (idempotency_key) DO NOTHING
RETURNING id`

	markDoneSQL = `UPDATE jobs SET status = 'done', updated_at = now() WHERE id = $1`

	markFailedSQL = `
UPDATE jobs
SET attempt_count = attempt_count + 1,
    last_error = $2,
    status = CASE WHEN attempt_count + 1 >= max_attempts THEN 'dead' ELSE 'pending' END,
    next_attempt_at = now() + make_interval(secs => LEAST(backoff_base_secs * POWER(2, attempt_count), 3600)),
    updated_at = now()
WHERE id = $1`
)

// ErrDuplicate is returned by Enqueue when a job with the same
// idempotency key already exists.
var ErrDuplicate = errors.New("queue: duplicate idempotency key")

// Handler processes one leased job. Returning an error causes the job to
// be retried with backoff, up to its MaxAttempts.
type Handler func(ctx context.Context, job domain.Job) error

// Pool is a durable job queue backed by a Postgres table, shared by every
// worker replica. Feed-ingest jobs carry their own, slower retry curve;
// every other stage shares the faster one.
type Pool struct {
	db     *pgxpool.Pool
	logger *slog.Logger

	ingestAttempts int
	ingestBackoff  time.Duration
	stageAttempts  int
	stageBackoff   time.Duration
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithMaxAttempts sets the retry budget for every job type at once.
func WithMaxAttempts(n int) PoolOption {
	return func(p *Pool) {
		p.ingestAttempts = n
		p.stageAttempts = n
	}
}

// WithRetryPolicy sets the per-stage attempt budgets and exponential
// backoff bases: one pair for feed ingest, one for every other stage.
func WithRetryPolicy(ingestAttempts int, ingestBackoff time.Duration, stageAttempts int, stageBackoff time.Duration) PoolOption {
	return func(p *Pool) {
		p.ingestAttempts = ingestAttempts
		p.ingestBackoff = ingestBackoff
		p.stageAttempts = stageAttempts
		p.stageBackoff = stageBackoff
	}
}

func NewPool(db *pgxpool.Pool, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		db:             db,
		logger:         logger,
		ingestAttempts: 3,
		ingestBackoff:  30 * time.Second,
		stageAttempts:  3,
		stageBackoff:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) maxAttemptsFor(t domain.JobType) int {
	if t == domain.JobFeedIngest {
		return p.ingestAttempts
	}
	return p.stageAttempts
}

func (p *Pool) backoffBaseSecsFor(t domain.JobType) int {
	base := p.stageBackoff
	if t == domain.JobFeedIngest {
		base = p.ingestBackoff
	}
	secs := int(base.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Enqueue inserts a new job keyed by idempotencyKey, ready to run
// immediately. If a job with that key already exists (pending, done, or
// dead), the insert is a no-op and ErrDuplicate is returned so callers can
// treat it as "already scheduled".
func (p *Pool) Enqueue(ctx context.Context, jobType domain.JobType, idempotencyKey string, payload []byte) (int64, error) {
	return p.EnqueueAt(ctx, jobType, idempotencyKey, payload, time.Now())
}

// EnqueueAt is Enqueue with a deferred first attempt, used by the
// scheduler's per-feed jitter so a tick's jobs don't all fire at once.
func (p *Pool) EnqueueAt(ctx context.Context, jobType domain.JobType, idempotencyKey string, payload []byte, at time.Time) (int64, error) {
	var id int64
	err := p.db.QueryRow(ctx, insertJobSQL, jobType, idempotencyKey, payload, p.maxAttemptsFor(jobType), p.backoffBaseSecsFor(jobType), at).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return id, nil
}

// Worker polls for jobs of one type and processes them with Handler until
// ctx is canceled. concurrency pollers run as independent goroutines,
// each leasing one job per transaction with FOR UPDATE SKIP LOCKED, so a
// slow job (a multi-minute feed fetch, say) only occupies its own poller
// and its own row lock while the rest of the pool keeps draining.
type Worker struct {
	pool        *Pool
	jobType     domain.JobType
	handler     Handler
	concurrency int
	interval    time.Duration
}

// NewWorker builds a worker bound to one job type and handler, running
// concurrency parallel pollers.
func NewWorker(pool *Pool, jobType domain.JobType, handler Handler, concurrency int, interval time.Duration) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Worker{pool: pool, jobType: jobType, handler: handler, concurrency: concurrency, interval: interval}
}

// Run starts the poller goroutines plus a depth-gauge tracker and blocks
// until ctx is done and every in-flight job has been committed.
func (w *Worker) Run(ctx context.Context) {
	w.pool.logger.Info("queue_worker_started",
		slog.String("job_type", string(w.jobType)),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("interval", w.interval),
	)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.poll(ctx)
		}()
	}

	w.trackDepth(ctx)
	wg.Wait()
	w.pool.logger.Info("queue_worker_stopping", slog.String("job_type", string(w.jobType)))
}

// poll claims and processes one job at a time, draining the queue on each
// tick until no ready job remains.
func (w *Worker) poll(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				processed, err := w.processOne(ctx)
				if err != nil {
					w.pool.logger.Error("queue_process_error",
						slog.String("job_type", string(w.jobType)),
						slog.String("error", err.Error()),
					)
					break
				}
				if !processed || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// trackDepth refreshes the pending-depth gauge for this job type until ctx
// is done.
func (w *Worker) trackDepth(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var depth int
			if err := w.pool.db.QueryRow(ctx, countPendingSQL, w.jobType).Scan(&depth); err == nil {
				metrics.QueueDepth.WithLabelValues(string(w.jobType)).Set(float64(depth))
			}
		}
	}
}

// processOne leases the next ready job inside its own transaction, runs
// the handler, and commits the done/retry outcome. Returns false when no
// ready job was available.
func (w *Worker) processOne(ctx context.Context) (bool, error) {
	tx, err := w.pool.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	job, ok, err := w.leaseOne(ctx, tx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, tx.Commit(ctx)
	}
	metrics.QueueJobsLeasedTotal.WithLabelValues(string(w.jobType)).Inc()

	w.handle(ctx, tx, job)
	return true, tx.Commit(ctx)
}

func (w *Worker) leaseOne(ctx context.Context, tx pgx.Tx) (domain.Job, bool, error) {
	var j domain.Job
	err := tx.QueryRow(ctx, selectReadyJobSQL, w.jobType).Scan(
		&j.ID, &j.Type, &j.IdempotencyKey, &j.Payload, &j.Status,
		&j.AttemptCount, &j.MaxAttempts, &j.NextAttemptAt, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, err
	}
	return j, true, nil
}

func (w *Worker) handle(ctx context.Context, tx pgx.Tx, job domain.Job) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "queue.job.process")
	defer span.End()
	tracing.SetJobAttributes(span, string(job.Type), job.ID)
	span.SetAttributes(attribute.Int("attempt", job.AttemptCount))

	err := w.handler(ctx, job)
	metrics.QueueJobDuration.WithLabelValues(string(w.jobType)).Observe(time.Since(start).Seconds())

	if err != nil {
		tracing.RecordError(ctx, err)
		if _, markErr := tx.Exec(ctx, markFailedSQL, job.ID, err.Error()); markErr != nil {
			w.pool.logger.Error("queue_mark_failed_error",
				slog.Int64("job_id", job.ID), slog.String("error", markErr.Error()))
		}
		metrics.QueueJobRetries.WithLabelValues(string(w.jobType)).Observe(float64(job.AttemptCount + 1))
		if job.AttemptCount+1 >= job.MaxAttempts {
			metrics.QueueJobsFailedTotal.WithLabelValues(string(w.jobType)).Inc()
		}
		return
	}

	if _, markErr := tx.Exec(ctx, markDoneSQL, job.ID); markErr != nil {
		w.pool.logger.Error("queue_mark_done_error",
			slog.Int64("job_id", job.ID), slog.String("error", markErr.Error()))
	}
}
