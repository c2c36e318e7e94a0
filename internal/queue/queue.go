// Package queue provides a durable, at-least-once execution job queue on
// top of NATS JetStream, and the Worker that drains it into the sandbox.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/codecollab/editor-backend/internal/domain"
	"github.com/codecollab/editor-backend/internal/logging"
	"github.com/codecollab/editor-backend/internal/metrics"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	streamName    = "CODE_EXECUTION"
	subjectPrefix = "execution.jobs"
	maxDeadLetter = 100
)

// Config controls connection and retry behavior for the job queue.
type Config struct {
	URL             string
	MaxRetries      int
	BaseBackoff     time.Duration
	JobAckWait      time.Duration
	WorkerConcurrency int
}

// DefaultConfig matches the bounded-retry contract from the execution
// surface: 2 retries, 5-worker concurrency.
func DefaultConfig() Config {
	return Config{
		URL:               nats.DefaultURL,
		MaxRetries:        2,
		BaseBackoff:       500 * time.Millisecond,
		JobAckWait:        2 * time.Minute,
		WorkerConcurrency: 5,
	}
}

// Job is the durable payload for one execution request; it is the wire
// form of room.ExecutionJob plus the retry bookkeeping the queue owns.
type Job struct {
	ExecutionID     string          `json:"executionId"`
	RoomID          string          `json:"roomId"`
	RequesterUserID string          `json:"requesterUserId"`
	Language        domain.Language `json:"language"`
	Code            string          `json:"code"`
	Stdin           string          `json:"stdin"`
	TimeoutMS       int             `json:"timeoutMs"`
	MemoryBytes     int64           `json:"memoryBytes"`
	Attempt         int             `json:"attempt"`
}

// subject returns the JetStream subject a job publishes to. Tagging by room
// id keeps per-room jobs FIFO: JetStream preserves publish order within a
// subject, and a single room's jobs all land on the same one.
func subject(roomID string) string {
	return fmt.Sprintf("%s.%s", subjectPrefix, roomID)
}

// Publisher wraps a JetStream context with the stream this package owns.
type Publisher struct {
	js     nats.JetStreamContext
	conn   *nats.Conn
	deadLetter *deadLetterStore
}

// NewPublisher connects to NATS, ensures the durable stream exists, and
// returns a Publisher ready to accept jobs.
func NewPublisher(cfg Config) (*Publisher, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("codecollab-execution-queue"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logging.Warn(context.Background(), "nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info(context.Background(), "nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("init jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(streamName); err != nil {
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:      streamName,
			Subjects:  []string{subjectPrefix + ".>"},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
			MaxAge:    24 * time.Hour,
		}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("create execution stream: %w", err)
		}
	}

	return &Publisher{js: js, conn: conn, deadLetter: newDeadLetterStore(maxDeadLetter)}, nil
}

// Enqueue publishes a job; cmd/server's jobQueueAdapter wraps it to satisfy
// the room.JobQueue capability interface. It is at-least-once: JetStream acknowledges the publish once
// durably stored, but a worker crash after delivery and before Ack will
// cause redelivery.
func (p *Publisher) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal execution job: %w", err)
	}
	if _, err := p.js.Publish(subject(job.RoomID), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish execution job: %w", err)
	}
	metrics.ExecutionQueueDepth.Inc()
	return nil
}

// DeadLettered returns the most recent jobs that exhausted their retries.
func (p *Publisher) DeadLettered() []Job {
	return p.deadLetter.list()
}

// Close drains in-flight publishes and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
	p.conn.Close()
}

// deadLetterStore is a small ring buffer of failed jobs kept for operator
// visibility; it is not itself durable across process restarts.
type deadLetterStore struct {
	mu    sync.Mutex
	cap   int
	items []Job
}

func newDeadLetterStore(cap int) *deadLetterStore {
	return &deadLetterStore{cap: cap}
}

func (d *deadLetterStore) add(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append(d.items, job)
	if len(d.items) > d.cap {
		d.items = d.items[len(d.items)-d.cap:]
	}
}

func (d *deadLetterStore) list() []Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Job, len(d.items))
	copy(out, d.items)
	return out
}
