package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TopicEmailSends carries model.SendJob payloads.
const TopicEmailSends = "email_sends"

// Handler processes one payload. A returned error triggers a retry.
type Handler func(ctx context.Context, payload []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler Handler) error
}

// InMemoryQueue delivers to subscribers in-process with retry and backoff.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]Handler
	log        *zap.Logger
	maxRetries int
	backoff    time.Duration
	wg         sync.WaitGroup
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log *zap.Logger) *InMemoryQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		log:        log.Named("queue.memory"),
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
	}
}

// WithRetry overrides retry count and base backoff.
func (q *InMemoryQueue) WithRetry(maxRetries int, backoff time.Duration) *InMemoryQueue {
	q.maxRetries = maxRetries
	q.backoff = backoff
	return q
}

// job wraps a message payload with retry info
type job struct {
	topic      string
	payload    []byte
	retryCount int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(_ context.Context, topic string, payload []byte) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go q.processJob(handler, job{topic: topic, payload: payload})
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler Handler, j job) {
	defer q.wg.Done()

	for j.retryCount <= q.maxRetries {
		err := handler(context.Background(), j.payload)
		if err == nil {
			return
		}

		j.retryCount++
		q.log.Warn("job failed",
			zap.String("topic", j.topic),
			zap.Int("attempt", j.retryCount),
			zap.Int("max_retries", q.maxRetries),
			zap.Error(err),
		)

		if j.retryCount > q.maxRetries {
			q.log.Error("job permanently failed", zap.String("topic", j.topic), zap.Int("attempts", j.retryCount))
			return
		}

		time.Sleep(time.Duration(j.retryCount) * q.backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished, including retries.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

var _ Queue = (*InMemoryQueue)(nil)
