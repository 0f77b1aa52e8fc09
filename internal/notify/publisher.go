package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher writes intents to a durable queue. An amqp channel is not safe
// for concurrent use, so publishes serialize on the mutex.
type Publisher struct {
	mu    sync.Mutex
	ch    *amqp.Channel
	queue string
}

// NewPublisher declares the durable intent queue and returns a publisher
// bound to it.
func NewPublisher(conn *amqp.Connection, queue string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("notify publisher: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("notify publisher: declare %s: %w", queue, err)
	}
	return &Publisher{ch: ch, queue: queue}, nil
}

// Publish enqueues one intent as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, in Intent) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("notify publisher: encode: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    in.ID,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("notify publisher: publish: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
