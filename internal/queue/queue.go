// Package queue is the Queue & Worker Runtime: durable FIFO queues
// with at-least-once delivery, retries, delayed jobs, and per-queue
// concurrency caps, backed by a single Postgres jobs table (tagged-
// variant payload + kind dispatch table, per spec.md §9's design note
// rather than a table per kind). Atomic claim is grounded on the
// teacher's postgres_leasing.go AcquireLease/ReclaimLease shape,
// generalized to a single-statement SELECT ... FOR UPDATE SKIP LOCKED.
package queue

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"walletanalytics/internal/apierr"
	"walletanalytics/internal/eventbus"
	"walletanalytics/internal/models"
)

const (
	WalletOperations    = "wallet-operations"
	AnalysisOperations  = "analysis-operations"
	SimilarityOperations = "similarity-operations"
	EnrichmentOperations = "enrichment-operations"
)

const (
	DefaultMaxAttempts  = 3
	DefaultBaseBackoff  = 10 * time.Second
	DefaultMaxBackoff   = 5 * time.Minute
)

// Handler processes one job's payload. Progress reports call progress(n)
// with a monotonically non-decreasing 0..100 value; the runtime filters
// sub-5-point increments except the terminal 100 itself, per spec.md
// §4.6's bandwidth contract.
type Handler func(ctx context.Context, job *models.Job, progress func(n int)) (result []byte, err error)

type Runtime struct {
	db      *pgxpool.Pool
	bus     eventbus.Publisher
	handlers map[string]Handler
}

func New(db *pgxpool.Pool, bus eventbus.Publisher) *Runtime {
	return &Runtime{db: db, bus: bus, handlers: make(map[string]Handler)}
}

func (r *Runtime) RegisterHandler(kind string, h Handler) {
	r.handlers[kind] = h
}

// Enqueue inserts a new waiting job and returns its id.
func (r *Runtime) Enqueue(ctx context.Context, queueName, kind string, payload interface{}, maxAttempts int) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindInvalidInput, "marshal job payload", err)
	}
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO app.jobs (queue_name, kind, payload, state, attempts, max_attempts, progress, run_at, created_at)
		VALUES ($1, $2, $3, 'waiting', 0, $4, 0, NOW(), NOW())
		RETURNING id`,
		queueName, kind, body, maxAttempts,
	).Scan(&id)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindInternal, "enqueue job", err)
	}
	return id, nil
}

// ActiveJobExists checks the concurrency gate: is there already a
// waiting/active job of this kind matching predicate (a JSON path
// equality check on the payload, e.g. payload->>'walletAddress' = $1).
// payloadKey2 may be "" to check a single predicate only; otherwise both
// must match the same row -- callers that key on more than one payload
// field (e.g. wallet address AND scope) must narrow in the query itself
// rather than post-filtering the single row the old single-predicate
// form happened to return.
func (r *Runtime) ActiveJobExists(ctx context.Context, queueName, kind, payloadKey, payloadValue, payloadKey2, payloadValue2 string) (int64, bool, error) {
	var id int64
	var err error
	if payloadKey2 == "" {
		err = r.db.QueryRow(ctx, `
			SELECT id FROM app.jobs
			WHERE queue_name = $1 AND kind = $2 AND state IN ('waiting', 'active')
			  AND payload ->> $3 = $4
			ORDER BY created_at ASC
			LIMIT 1`,
			queueName, kind, payloadKey, payloadValue,
		).Scan(&id)
	} else {
		err = r.db.QueryRow(ctx, `
			SELECT id FROM app.jobs
			WHERE queue_name = $1 AND kind = $2 AND state IN ('waiting', 'active')
			  AND payload ->> $3 = $4 AND payload ->> $5 = $6
			ORDER BY created_at ASC
			LIMIT 1`,
			queueName, kind, payloadKey, payloadValue, payloadKey2, payloadValue2,
		).Scan(&id)
	}
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apierr.Wrap(apierr.KindInternal, "check active job", err)
	}
	return id, true, nil
}

// Claim atomically claims the next eligible waiting/delayed job on a
// queue, transitioning it to active and publishing queue-to-start.
func (r *Runtime) Claim(ctx context.Context, queueName string) (*models.Job, error) {
	var j models.Job
	err := r.db.QueryRow(ctx, `
		UPDATE app.jobs SET state = 'active', processed_at = NOW()
		WHERE id = (
			SELECT id FROM app.jobs
			WHERE queue_name = $1 AND state IN ('waiting', 'delayed') AND run_at <= NOW()
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, queue_name, kind, payload, state, attempts, max_attempts, progress, result, error, run_at, created_at, processed_at, finished_at`,
		queueName,
	).Scan(&j.ID, &j.QueueName, &j.Kind, &j.Payload, &j.State, &j.Attempts, &j.MaxAttempts,
		&j.Progress, &j.Result, &j.Error, &j.RunAt, &j.CreatedAt, &j.ProcessedAt, &j.FinishedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "claim job", err)
	}

	r.bus.Publish(eventbus.Event{
		Channel:   eventbus.QueueToStartChannel(queueName, jobIDStr(j.ID)),
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"jobId": j.ID},
	})
	return &j, nil
}

// RunOne claims and executes one job on queueName, if any is available.
// Reports whether a job was found.
func (r *Runtime) RunOne(ctx context.Context, queueName string) (bool, error) {
	job, err := r.Claim(ctx, queueName)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	handler, ok := r.handlers[job.Kind]
	if !ok {
		log.Printf("queue: no handler registered for kind %q, failing job %d", job.Kind, job.ID)
		r.fail(ctx, job, apierr.New(apierr.KindInternal, "no handler for kind "+job.Kind))
		return true, nil
	}

	lastProgress := 0
	progress := func(n int) {
		if n < lastProgress {
			n = lastProgress
		}
		if n != 100 && n-lastProgress < 5 {
			return
		}
		lastProgress = n
		_, _ = r.db.Exec(ctx, `UPDATE app.jobs SET progress = $2 WHERE id = $1`, job.ID, n)
		r.bus.Publish(eventbus.Event{
			Channel:   eventbus.ProgressChannel(queueName, jobIDStr(job.ID)),
			Timestamp: time.Now(),
			Data:      map[string]interface{}{"jobId": job.ID, "progress": n},
		})
	}

	result, err := handler(ctx, job, progress)
	if err != nil {
		if apierr.Retryable(err) && job.Attempts+1 < job.MaxAttempts {
			r.delay(ctx, job, err)
		} else {
			r.fail(ctx, job, err)
		}
		return true, nil
	}

	r.complete(ctx, job, result)
	return true, nil
}

func (r *Runtime) complete(ctx context.Context, job *models.Job, result []byte) {
	_, err := r.db.Exec(ctx, `
		UPDATE app.jobs SET state = 'completed', progress = 100, result = $2, finished_at = NOW()
		WHERE id = $1`,
		job.ID, result,
	)
	if err != nil {
		log.Printf("queue: failed to mark job %d completed: %v", job.ID, err)
	}
	r.bus.Publish(eventbus.Event{
		Channel:   eventbus.CompletedChannel(job.QueueName, jobIDStr(job.ID)),
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"jobId": job.ID, "result": json.RawMessage(result)},
	})
}

func (r *Runtime) fail(ctx context.Context, job *models.Job, cause error) {
	msg := cause.Error()
	_, err := r.db.Exec(ctx, `
		UPDATE app.jobs SET state = 'failed', attempts = attempts + 1, error = $2, finished_at = NOW()
		WHERE id = $1`,
		job.ID, msg,
	)
	if err != nil {
		log.Printf("queue: failed to mark job %d failed: %v", job.ID, err)
	}
	r.bus.Publish(eventbus.Event{
		Channel:   eventbus.FailedChannel(job.QueueName, jobIDStr(job.ID)),
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"jobId": job.ID, "error": msg},
	})
}

func (r *Runtime) delay(ctx context.Context, job *models.Job, cause error) {
	attempt := job.Attempts + 1
	backoff := DefaultBaseBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > DefaultMaxBackoff {
		backoff = DefaultMaxBackoff
	}
	_, err := r.db.Exec(ctx, `
		UPDATE app.jobs SET state = 'delayed', attempts = $2, run_at = NOW() + $3::interval, error = $4
		WHERE id = $1`,
		job.ID, attempt, backoff.String(), cause.Error(),
	)
	if err != nil {
		log.Printf("queue: failed to delay job %d: %v", job.ID, err)
	}
}

func (r *Runtime) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	var j models.Job
	err := r.db.QueryRow(ctx, `
		SELECT id, queue_name, kind, payload, state, attempts, max_attempts, progress, result, error, run_at, created_at, processed_at, finished_at
		FROM app.jobs WHERE id = $1`,
		id,
	).Scan(&j.ID, &j.QueueName, &j.Kind, &j.Payload, &j.State, &j.Attempts, &j.MaxAttempts,
		&j.Progress, &j.Result, &j.Error, &j.RunAt, &j.CreatedAt, &j.ProcessedAt, &j.FinishedAt)
	if err == pgx.ErrNoRows {
		return nil, apierr.New(apierr.KindNotFound, "job not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "get job", err)
	}
	return &j, nil
}

type QueueStats struct {
	Waiting, Active, Completed, Failed, Delayed, Paused int64
}

func (r *Runtime) Stats(ctx context.Context, queueName string) (*QueueStats, error) {
	var s QueueStats
	rows, err := r.db.Query(ctx, `
		SELECT state, count(*) FROM app.jobs WHERE queue_name = $1 GROUP BY state`,
		queueName,
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "queue stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "scan queue stats", err)
		}
		switch models.JobState(state) {
		case models.JobStateWaiting:
			s.Waiting = n
		case models.JobStateActive:
			s.Active = n
		case models.JobStateCompleted:
			s.Completed = n
		case models.JobStateFailed:
			s.Failed = n
		case models.JobStateDelayed:
			s.Delayed = n
		case models.JobStatePaused:
			s.Paused = n
		}
	}
	return &s, rows.Err()
}

func jobIDStr(id int64) string {
	return strconv.FormatInt(id, 10)
}
