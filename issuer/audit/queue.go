package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/meridianid/issuer/issuer/core"
)

// queueEnvelopeVersion is bumped whenever the wire shape QueueSink pushes
// onto the list changes, so a rolling deploy's consumer can tell an
// envelope it doesn't understand apart from a malformed one.
const queueEnvelopeVersion = 1

const defaultQueueKey = "issuer:audit:queue"

type queueEnvelope struct {
	Version    int              `json:"version"`
	Event      *core.AuditRecord `json:"event"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

// QueueSink implements core.AuditSink by pushing onto a Redis list instead
// of writing the SQL mirror inline, so a slow database never adds latency
// to the request that produced the audit event. QueueWorker drains the
// list on the other end.
type QueueSink struct {
	client *redis.Client
	key    string
	clock  core.Clock
}

// NewQueueSink creates a queue-mode audit sink over the given Redis client
// and list key (defaulting to "issuer:audit:queue" when key is empty).
func NewQueueSink(client *redis.Client, key string, clock core.Clock) *QueueSink {
	if key == "" {
		key = defaultQueueKey
	}
	return &QueueSink{client: client, key: key, clock: clock}
}

// Log pushes the record onto the queue. LPUSH never blocks on database
// health, which is the entire point of queue mode.
func (s *QueueSink) Log(ctx context.Context, rec *core.AuditRecord) error {
	payload, err := json.Marshal(queueEnvelope{
		Version:    queueEnvelopeVersion,
		Event:      rec,
		EnqueuedAt: s.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal audit envelope: %w", err)
	}
	if err := s.client.LPush(ctx, s.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue audit record: %w", err)
	}
	return nil
}

// Close is a no-op: the queue itself is the durable buffer, there is
// nothing local to flush.
func (s *QueueSink) Close(ctx context.Context) error {
	return nil
}

// QueueWorker drains a QueueSink's list with BRPOP and writes each record
// through to the SQL mirror, batching writes to cut round-trips under load.
type QueueWorker struct {
	client      *redis.Client
	key         string
	records     core.AuditRecordStore
	logger      *zap.Logger
	sensor      *FailureRateSensor
	batchSize   int
	batchWindow time.Duration
}

// NewQueueWorker creates a worker that drains key from client, writing
// through records. batchSize and batchWindow bound how long a partial
// batch is held before being flushed.
func NewQueueWorker(client *redis.Client, key string, records core.AuditRecordStore, logger *zap.Logger, sensor *FailureRateSensor, batchSize int, batchWindow time.Duration) *QueueWorker {
	if key == "" {
		key = defaultQueueKey
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	if batchWindow <= 0 {
		batchWindow = time.Second
	}
	return &QueueWorker{
		client:      client,
		key:         key,
		records:     records,
		logger:      logger,
		sensor:      sensor,
		batchSize:   batchSize,
		batchWindow: batchWindow,
	}
}

// Run drains the queue until ctx is cancelled. It batches records collected
// within batchWindow (or until batchSize is reached) before writing them
// through, one Create call per record so a single bad record doesn't drop
// the whole batch.
func (w *QueueWorker) Run(ctx context.Context) error {
	for {
		batch, err := w.collectBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("audit queue collect failed", zap.Error(err))
			continue
		}
		for _, rec := range batch {
			err := w.records.Create(ctx, rec)
			if w.sensor != nil {
				w.sensor.Record(err == nil)
			}
			if err != nil {
				w.logger.Warn("audit record write-through failed", zap.Error(err), zap.String("event_type", rec.EventType))
			}
		}
	}
}

func (w *QueueWorker) collectBatch(ctx context.Context) ([]*core.AuditRecord, error) {
	deadline := time.Now().Add(w.batchWindow)
	var batch []*core.AuditRecord

	for len(batch) < w.batchSize {
		remaining := time.Until(deadline)
		if len(batch) > 0 && remaining <= 0 {
			break
		}
		var result []string
		var err error
		if len(batch) == 0 {
			result, err = w.client.BRPop(ctx, w.batchWindow, w.key).Result()
		} else {
			// BRPOP rounds timeouts below one second up to one second, so the
			// rest of a started batch is polled until batchWindow runs out.
			var payload string
			if payload, err = w.client.RPop(ctx, w.key).Result(); err == redis.Nil {
				time.Sleep(min(remaining, 10*time.Millisecond))
				continue
			}
			result = []string{w.key, payload}
		}
		if err == redis.Nil {
			break
		}
		if err != nil {
			if len(batch) > 0 {
				return batch, nil
			}
			return nil, err
		}
		// result[0] is the key name, result[1] is the payload.
		var env queueEnvelope
		if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
			w.logger.Warn("dropping malformed audit queue entry", zap.Error(err))
			continue
		}
		if env.Event != nil {
			batch = append(batch, env.Event)
		}
	}
	return batch, nil
}
