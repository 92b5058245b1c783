package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"codegraphix.dev/engine/namespace"
)

// AMQPBackend is the Backend used when eventBus.kind=external, grounded on
// queue/rabbit.go's RabbitMQService: a durable queue per partition on the
// default exchange, published as JSON. Unlike Redis's BLPop, AMQP consumers
// are push-based, so Dequeue drains from a local buffered channel fed by a
// background Consume loop started per partition on first use.
type AMQPBackend struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	scope   *namespace.Scope
	prefix  string

	mu       sync.Mutex
	inboxes  map[int]chan Item
	consumed map[int]bool
}

// AMQPConfig configures the AMQP-backed queue backend.
type AMQPConfig struct {
	URL    string
	Prefix string // default "ingest.partition."
}

// NewAMQPBackend dials the broker and opens a channel for publish/consume.
func NewAMQPBackend(cfg AMQPConfig, scope *namespace.Scope) (*AMQPBackend, error) {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ingest.partition."
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return &AMQPBackend{
		conn:     conn,
		channel:  ch,
		scope:    scope,
		prefix:   prefix,
		inboxes:  make(map[int]chan Item),
		consumed: make(map[int]bool),
	}, nil
}

func (b *AMQPBackend) queueName(partition int) string {
	return b.scope.QualifyRedisKey(fmt.Sprintf("%s%d", b.prefix, partition))
}

func (b *AMQPBackend) ensureQueue(partition int) (string, error) {
	name := b.queueName(partition)
	_, err := b.channel.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return "", fmt.Errorf("failed to declare queue: %w", err)
	}
	return name, nil
}

func (b *AMQPBackend) Enqueue(ctx context.Context, partition int, item Item) error {
	name, err := b.ensureQueue(partition)
	if err != nil {
		return err
	}
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	return b.channel.Publish("", name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
}

func (b *AMQPBackend) startConsuming(partition int) (chan Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if inbox, ok := b.inboxes[partition]; ok {
		return inbox, nil
	}

	name, err := b.ensureQueue(partition)
	if err != nil {
		return nil, err
	}
	deliveries, err := b.channel.Consume(name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume queue: %w", err)
	}

	inbox := make(chan Item, 256)
	b.inboxes[partition] = inbox
	b.consumed[partition] = true

	go func() {
		for d := range deliveries {
			var item Item
			if err := json.Unmarshal(d.Body, &item); err != nil {
				d.Nack(false, false)
				continue
			}
			inbox <- item
			d.Ack(false)
		}
	}()

	return inbox, nil
}

func (b *AMQPBackend) Dequeue(ctx context.Context, partition int, timeout time.Duration) (*Item, error) {
	inbox, err := b.startConsuming(partition)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item := <-inbox:
		return &item, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *AMQPBackend) Depth(ctx context.Context, partition int) (int, error) {
	name, err := b.ensureQueue(partition)
	if err != nil {
		return 0, err
	}
	q, err := b.channel.QueueInspect(name)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return q.Messages, nil
}

// Close closes the channel and connection.
func (b *AMQPBackend) Close() error {
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
