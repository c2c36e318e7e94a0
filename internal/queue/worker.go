package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/codecollab/editor-backend/internal/domain"
	"github.com/codecollab/editor-backend/internal/logging"
	"github.com/codecollab/editor-backend/internal/metrics"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Executor is the narrow capability the worker needs from the sandbox: run
// one job to completion and classify the outcome.
type Executor interface {
	Run(ctx context.Context, job SandboxJob) (SandboxResult, error)
}

// SandboxJob and SandboxResult mirror sandbox.Job/Result so this package
// does not import internal/sandbox directly; the concrete adapter lives at
// the call site in cmd/server.
type SandboxJob struct {
	ExecutionID string
	Language    domain.Language
	Code        string
	Stdin       string
	TimeoutMS   int
	MemoryBytes int64
}

type SandboxResult struct {
	Status            domain.ExecutionStatus
	Stdout            string
	Stderr            string
	ExitCode          int
	ExecutionTimeMS   int64
	MemoryBytes       int64
	CompilationTimeMS int64
}

// ExecutionPublisher is the narrow capability the worker needs to report a
// finished job back to the room that requested it.
type ExecutionPublisher interface {
	CompleteExecution(ctx context.Context, roomID, executionID string, result SandboxResult)
}

// Repository is the narrow slice of domain.Repository the worker touches
// directly: once a job is classified, the worker persists the execution log
// itself instead of relying on the room to still be around to do it (the
// room may have been evicted if every member already disconnected).
type Repository interface {
	UpdateExecutionLog(ctx context.Context, e *domain.ExecutionLog) error
}

// Worker drains the durable queue with bounded concurrency, dispatching
// each job to the sandbox and publishing results back to the hub.
type Worker struct {
	js         nats.JetStreamContext
	conn       *nats.Conn
	executor   Executor
	publisher  ExecutionPublisher
	repo       Repository
	deadLetter *deadLetterStore
	cfg        Config
	subs       []*nats.Subscription
}

// NewWorker attaches to the same JetStream stream a Publisher writes to,
// using a durable pull consumer so restarts resume where they left off.
// repo may be nil, in which case the worker only publishes results to the
// room and skips the direct execution-log write.
func NewWorker(cfg Config, executor Executor, publisher ExecutionPublisher, repo Repository) (*Worker, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("codecollab-execution-worker"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("init jetstream context: %w", err)
	}
	return &Worker{
		js: js, conn: conn, executor: executor, publisher: publisher, repo: repo,
		deadLetter: newDeadLetterStore(maxDeadLetter), cfg: cfg,
	}, nil
}

// Run subscribes a durable pull consumer and processes messages with
// cfg.WorkerConcurrency goroutines until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.js.PullSubscribe(subjectPrefix+".>", "execution-workers",
		nats.AckWait(w.cfg.JobAckWait), nats.MaxDeliver(w.cfg.MaxRetries+1))
	if err != nil {
		return fmt.Errorf("create pull subscription: %w", err)
	}
	w.subs = append(w.subs, sub)

	sem := make(chan struct{}, w.cfg.WorkerConcurrency)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(w.cfg.WorkerConcurrency, nats.MaxWait(2*time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			logging.Warn(ctx, "failed to fetch execution jobs", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			sem <- struct{}{}
			go func(msg *nats.Msg) {
				defer func() { <-sem }()
				w.process(ctx, msg)
			}(msg)
		}
	}
}

// process decodes one job, runs it, acks or nacks depending on whether the
// failure was infrastructural (retry) or a classified user-code outcome
// (complete with the failure status, no retry).
func (w *Worker) process(ctx context.Context, msg *nats.Msg) {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		logging.Error(ctx, "failed to decode execution job, dropping", zap.Error(err))
		_ = msg.Ack()
		return
	}

	metrics.ExecutionQueueDepth.Dec()

	meta, _ := msg.Metadata()
	if meta != nil && meta.NumDelivered > 1 {
		backoff := time.Duration(math.Pow(2, float64(meta.NumDelivered-1))) * w.cfg.BaseBackoff
		time.Sleep(backoff)
	}

	result, err := w.executor.Run(ctx, SandboxJob{
		ExecutionID: job.ExecutionID, Language: job.Language, Code: job.Code,
		Stdin: job.Stdin, TimeoutMS: job.TimeoutMS, MemoryBytes: job.MemoryBytes,
	})
	if err != nil {
		// Infrastructural failure: container creation, docker daemon
		// unreachable. Retry up to MaxRetries, then dead-letter.
		if meta != nil && int(meta.NumDelivered) > w.cfg.MaxRetries {
			logging.Error(ctx, "execution job exhausted retries, dead-lettering",
				zap.String("execution_id", job.ExecutionID), zap.Error(err))
			w.deadLetter.add(job)
			metrics.ExecutionDeadLetterTotal.WithLabelValues(string(job.Language)).Inc()
			_ = msg.Ack()
			return
		}
		logging.Warn(ctx, "execution job failed infrastructurally, will retry",
			zap.String("execution_id", job.ExecutionID), zap.Error(err))
		_ = msg.Nak()
		return
	}

	// A classified user-code outcome (timeout, runtime error, memory
	// limit, compilation error, security block) is a completed job, not a
	// delivery failure: it must not retry.
	w.publisher.CompleteExecution(ctx, job.RoomID, job.ExecutionID, result)
	w.persistLog(ctx, job, result)
	_ = msg.Ack()
}

// persistLog writes the final execution outcome directly to the repository.
// This runs independently of the in-memory room publish above: a room can
// be evicted (every member disconnected) while its job is still in flight,
// in which case CompleteExecution is a no-op but the log still must land.
func (w *Worker) persistLog(ctx context.Context, job Job, result SandboxResult) {
	if w.repo == nil {
		return
	}
	var userID *string
	if job.RequesterUserID != "" {
		userID = &job.RequesterUserID
	}
	err := w.repo.UpdateExecutionLog(ctx, &domain.ExecutionLog{
		ID:                job.ExecutionID,
		RoomID:            job.RoomID,
		UserID:            userID,
		Language:          job.Language,
		Code:              job.Code,
		Stdin:             job.Stdin,
		Stdout:            result.Stdout,
		Stderr:            result.Stderr,
		Status:            result.Status,
		ExitCode:          result.ExitCode,
		ExecutionTimeMS:   result.ExecutionTimeMS,
		PeakMemoryBytes:   result.MemoryBytes,
		CompilationTimeMS: result.CompilationTimeMS,
	})
	if err != nil {
		logging.Error(ctx, "failed to persist execution log", zap.String("execution_id", job.ExecutionID), zap.Error(err))
	}
}

// DeadLettered returns the worker's own view of exhausted jobs.
func (w *Worker) DeadLettered() []Job {
	return w.deadLetter.list()
}

// Close drains subscriptions and closes the connection.
func (w *Worker) Close() {
	for _, sub := range w.subs {
		_ = sub.Unsubscribe()
	}
	_ = w.conn.Drain()
	w.conn.Close()
}
