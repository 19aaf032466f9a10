package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-gateway/internal/lock"
	"github.com/noah-isme/backend-gateway/internal/resilience"
)

// Job kinds consumed by the worker process.
const (
	KindSettlePayment  = "settle-payment"
	KindSettleRefund   = "settle-refund"
	KindDeliverWebhook = "deliver-webhook"
)

// Task represents a job to be processed asynchronously.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	// Attempt is the 1-indexed attempt number, populated for handlers.
	Attempt int
}

// Enqueuer publishes tasks to Redis backed delayed queues.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue inserts the task into the queue. The task becomes eligible for
// processing at or after now+Delay. If an idempotency key is supplied the task
// is only enqueued once within the configured deduplication window.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		Attempt:     0,
		MaxAttempts: t.MaxAttempts,
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = e.MaxAttempts
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = 5
	}
	availableAt := time.Now().Add(t.Delay)
	msg.AvailableAt = availableAt.UnixNano()

	if msg.Key != "" {
		dedupKey := e.dedupKey(kind, msg.Key)
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, dedupKey, "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	queueKey := e.queueKey(kind)
	score := float64(msg.AvailableAt)
	return e.R.ZAdd(ctx, queueKey, redis.Z{Score: score, Member: raw}).Err()
}

// Counts reports the number of jobs per state for a kind.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// JobCounts returns per-state job counts for the given kind. Waiting and
// delayed split the ready set on eligibility time; completed and failed are
// monotonic counters maintained by workers.
func (e Enqueuer) JobCounts(ctx context.Context, kind string) (Counts, error) {
	var counts Counts
	if e.R == nil {
		return counts, errors.New("queue: redis client not configured")
	}
	kind = sanitizeKind(kind)
	if kind == "" {
		return counts, errors.New("queue: task kind is required")
	}
	now := fmt.Sprintf("%d", time.Now().UnixNano())

	waiting, err := e.R.ZCount(ctx, e.queueKey(kind), "-inf", now).Result()
	if err != nil {
		return counts, err
	}
	delayed, err := e.R.ZCount(ctx, e.queueKey(kind), "("+now, "+inf").Result()
	if err != nil {
		return counts, err
	}
	active, err := e.R.ZCard(ctx, e.processingKey(kind)).Result()
	if err != nil {
		return counts, err
	}
	completed, err := e.R.Get(ctx, e.counterKey(kind, "completed")).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return counts, err
	}
	failed, err := e.R.Get(ctx, e.counterKey(kind, "failed")).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return counts, err
	}
	counts.Waiting = waiting
	counts.Delayed = delayed
	counts.Active = active
	counts.Completed = completed
	counts.Failed = failed
	return counts, nil
}

func (e Enqueuer) queueKey(kind string) string      { return queueKey(e.Prefix, kind) }
func (e Enqueuer) processingKey(kind string) string { return processingKey(e.Prefix, kind) }
func (e Enqueuer) dedupKey(kind, key string) string { return dedupKey(e.Prefix, kind, key) }
func (e Enqueuer) counterKey(kind, state string) string {
	return counterKey(e.Prefix, kind, state)
}

// Worker consumes tasks for a specific kind.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	Handler           func(context.Context, Task) error
	// Backoff computes the retry delay from the 1-indexed attempt number.
	// When nil an exponential backoff derived from RetryBase is used.
	Backoff     func(attempt int) time.Duration
	RetryBase   time.Duration
	RetryJitter float64
	Store       Store
	// Lock serialises handler execution per task key, so a copy requeued by
	// the visibility timeout cannot run concurrently with the original.
	Lock    *lock.Locker
	LockTTL time.Duration
	Logger  *zerolog.Logger
}

// Run starts processing tasks until the context is cancelled. Active tasks are
// tracked in a processing set to enable redelivery when workers crash.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return errors.New("queue: worker kind is required")
	}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	procKey := processingKey(w.Prefix, kind)
	qKey := queueKey(w.Prefix, kind)

	requeueTicker := time.NewTicker(time.Second)
	defer requeueTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-requeueTicker.C:
			if err := w.requeueExpired(ctx, procKey, qKey); err != nil {
				return err
			}
		default:
		}

		res, err := w.R.ZPopMin(ctx, qKey, 1).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				wg.Wait()
				return nil
			}
			if err == redis.Nil {
				sleepOrDone(ctx, 100*time.Millisecond)
				continue
			}
			return err
		}
		if len(res) == 0 {
			sleepOrDone(ctx, 100*time.Millisecond)
			continue
		}
		member, ok := res[0].Member.(string)
		if !ok {
			continue
		}
		msg, err := decodeMessage(member)
		if err != nil {
			continue
		}
		now := time.Now().UnixNano()
		if msg.AvailableAt > now {
			// not due yet, push back and wait
			w.R.ZAdd(ctx, qKey, redis.Z{Score: float64(msg.AvailableAt), Member: member})
			sleep := time.Duration(msg.AvailableAt - now)
			if sleep > time.Second {
				sleep = time.Second
			}
			sleepOrDone(ctx, sleep)
			continue
		}

		msg.Attempt++
		rawBytes, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		raw := string(rawBytes)
		deadline := time.Now().Add(visibility).UnixNano()
		if err := w.R.ZAdd(ctx, procKey, redis.Z{Score: float64(deadline), Member: raw}).Err(); err != nil {
			return err
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(raw string, m taskMessage) {
			defer func() { <-sem }()
			defer wg.Done()
			task := Task{
				Kind:           kind,
				Payload:        m.Payload,
				IdempotencyKey: m.Key,
				MaxAttempts:    m.MaxAttempts,
				Attempt:        m.Attempt,
			}
			var err error
			if w.Lock != nil && m.Key != "" {
				err = w.Lock.WithLock(ctx, lockKey(w.Prefix, kind, m.Key), w.LockTTL, func(ctx context.Context) error {
					return w.Handler(ctx, task)
				})
			} else {
				err = w.Handler(ctx, task)
			}
			if err != nil {
				w.handleFailure(ctx, qKey, procKey, raw, m, err)
				return
			}
			w.ack(ctx, procKey, raw, m)
		}(raw, msg)
	}
}

func (w Worker) nextDelay(attempt int) time.Duration {
	if w.Backoff != nil {
		return w.Backoff(attempt)
	}
	base := w.RetryBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	return resilience.Backoff(base, attempt, w.RetryJitter)
}

func (w Worker) handleFailure(ctx context.Context, qKey, procKey, raw string, msg taskMessage, cause error) {
	if raw != "" {
		_ = w.R.ZRem(ctx, procKey, raw).Err()
	}
	if msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts {
		w.moveToDLQ(ctx, msg, cause)
		return
	}
	delay := w.nextDelay(msg.Attempt)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	rawBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if w.Logger != nil {
		w.Logger.Warn().
			Str("kind", msg.Kind).
			Int("attempt", msg.Attempt).
			Dur("retry_in", delay).
			Err(cause).
			Msg("task failed, scheduling retry")
	}
	QueueProcessedTotal.WithLabelValues(msg.Kind, "retried").Inc()
	_ = w.R.ZAdd(ctx, qKey, redis.Z{Score: float64(msg.AvailableAt), Member: string(rawBytes)}).Err()
}

func (w Worker) moveToDLQ(ctx context.Context, msg taskMessage, cause error) {
	if w.Logger != nil {
		w.Logger.Error().
			Str("kind", msg.Kind).
			Int("attempt", msg.Attempt).
			Err(cause).
			Msg("task exhausted retries, moving to dlq")
	}
	_ = w.R.Incr(ctx, counterKey(w.Prefix, msg.Kind, "failed")).Err()
	QueueProcessedTotal.WithLabelValues(msg.Kind, "failed").Inc()
	if msg.Key != "" {
		_ = w.R.Del(ctx, dedupKey(w.Prefix, msg.Kind, msg.Key)).Err()
	}
	if w.Store != nil {
		var lastErr *string
		if cause != nil {
			s := cause.Error()
			lastErr = &s
		}
		if _, err := w.Store.InsertQueueDlq(ctx, DLQEntry{
			Kind:           msg.Kind,
			IdempotencyKey: msg.Key,
			Payload:        msg.Payload,
			Attempts:       msg.Attempt,
			LastError:      lastErr,
		}); err != nil && w.Logger != nil {
			w.Logger.Error().Err(err).Msg("persist dlq entry")
		}
		return
	}
	// No store configured: keep the terminal entry in a Redis list instead.
	rawBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = w.R.LPush(ctx, dlqKey(w.Prefix, msg.Kind), rawBytes).Err()
}

func (w Worker) ack(ctx context.Context, procKey, raw string, msg taskMessage) {
	if raw != "" {
		_ = w.R.ZRem(ctx, procKey, raw).Err()
	}
	if msg.Key != "" {
		_ = w.R.Del(ctx, dedupKey(w.Prefix, msg.Kind, msg.Key)).Err()
	}
	_ = w.R.Incr(ctx, counterKey(w.Prefix, msg.Kind, "completed")).Err()
	QueueProcessedTotal.WithLabelValues(msg.Kind, "completed").Inc()
}

func (w Worker) requeueExpired(ctx context.Context, procKey, qKey string) error {
	now := float64(time.Now().UnixNano())
	due, err := w.R.ZRangeByScore(ctx, procKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	for _, raw := range due {
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		_ = w.R.ZRem(ctx, procKey, raw).Err()
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, qKey, redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err()
	}
	return nil
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func queueKey(prefix, kind string) string {
	if prefix == "" {
		return fmt.Sprintf("queue:%s", kind)
	}
	return fmt.Sprintf("%s:queue:%s", prefix, kind)
}

func processingKey(prefix, kind string) string {
	if prefix == "" {
		return fmt.Sprintf("queue:%s:processing", kind)
	}
	return fmt.Sprintf("%s:queue:%s:processing", prefix, kind)
}

func dlqKey(prefix, kind string) string {
	if prefix == "" {
		return fmt.Sprintf("queue:%s:dlq", kind)
	}
	return fmt.Sprintf("%s:queue:%s:dlq", prefix, kind)
}

func lockKey(prefix, kind, key string) string {
	if prefix == "" {
		return fmt.Sprintf("lock:%s:%s", kind, key)
	}
	return fmt.Sprintf("%s:lock:%s:%s", prefix, kind, key)
}

func dedupKey(prefix, kind, key string) string {
	if prefix == "" {
		return fmt.Sprintf("queue:dedup:%s:%s", kind, key)
	}
	return fmt.Sprintf("%s:dedup:%s:%s", prefix, kind, key)
}

func counterKey(prefix, kind, state string) string {
	if prefix == "" {
		return fmt.Sprintf("queue:%s:count:%s", kind, state)
	}
	return fmt.Sprintf("%s:queue:%s:count:%s", prefix, kind, state)
}

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		if c >= 'a' && c <= 'z' {
			continue
		}
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '-' || c == '_' || c == ':' {
			continue
		}
		return ""
	}
	return kind
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}

type taskMessage struct {
	Kind        string          `json:"kind"`
	Key         string          `json:"key,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	AvailableAt int64           `json:"available_at"`
}
