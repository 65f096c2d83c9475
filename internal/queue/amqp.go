package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const retryHeader = "x-retry-count"

// AMQPQueue publishes to and consumes from durable RabbitMQ queues, one per
// topic. Failed deliveries are republished with an incremented retry header
// until MaxRetries is reached, then rejected without requeue.
type AMQPQueue struct {
	conn       *amqp.Connection
	pubCh      *amqp.Channel
	pubMu      sync.Mutex
	log        *zap.Logger
	MaxRetries int

	mu       sync.Mutex
	declared map[string]bool
	wg       sync.WaitGroup
}

func NewAMQPQueue(url string, log *zap.Logger) (*AMQPQueue, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	return &AMQPQueue{
		conn:       conn,
		pubCh:      ch,
		log:        log.Named("queue.amqp"),
		MaxRetries: 3,
		declared:   map[string]bool{},
	}, nil
}

func (q *AMQPQueue) declare(ch *amqp.Channel, topic string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.declared[topic] {
		return nil
	}
	_, err := ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	q.declared[topic] = true
	return nil
}

func (q *AMQPQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	return q.publish(ctx, topic, payload, 0)
}

func (q *AMQPQueue) publish(ctx context.Context, topic string, payload []byte, retryCount int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	if err := q.declare(q.pubCh, topic); err != nil {
		return err
	}
	return q.pubCh.Publish(
		"",    // default exchange
		topic, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      amqp.Table{retryHeader: retryCount},
			Body:         payload,
		},
	)
}

// Subscribe starts consuming topic on its own channel. Consumption stops when
// the queue is closed.
func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	if err := q.declare(ch, topic); err != nil {
		ch.Close()
		return err
	}
	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("register consumer: %w", err)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer ch.Close()
		for d := range msgs {
			q.handle(topic, d, handler)
		}
	}()
	return nil
}

func (q *AMQPQueue) handle(topic string, d amqp.Delivery, handler Handler) {
	ctx := context.Background()
	err := handler(ctx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	retryCount := retryCountOf(d.Headers)
	if int(retryCount) < q.MaxRetries {
		q.log.Warn("job failed, requeueing",
			zap.String("topic", topic),
			zap.Int32("retry_count", retryCount+1),
			zap.Error(err),
		)
		if pubErr := q.publish(ctx, topic, d.Body, retryCount+1); pubErr != nil {
			q.log.Error("republish failed", zap.String("topic", topic), zap.Error(pubErr))
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)
		return
	}

	q.log.Error("job permanently failed",
		zap.String("topic", topic),
		zap.Int32("retry_count", retryCount),
		zap.Error(err),
	)
	_ = d.Nack(false, false)
}

func retryCountOf(headers amqp.Table) int32 {
	switch v := headers[retryHeader].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	case int16:
		return int32(v)
	case int8:
		return int32(v)
	default:
		return 0
	}
}

// Close stops consumers and closes the connection.
func (q *AMQPQueue) Close() error {
	err := q.conn.Close()
	q.wg.Wait()
	return err
}

var _ Queue = (*AMQPQueue)(nil)
