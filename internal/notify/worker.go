package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/teamtalk/internal/logger"
)

// ErrNoRoute is returned by a Sender that has no way to reach the recipient
// (no push subscription, no email address). The worker tries the next channel.
var ErrNoRoute = errors.New("no route to recipient")

// Sender is one delivery channel of the worker.
type Sender interface {
	Name() string
	Send(ctx context.Context, in Intent) error
}

// Worker consumes the intent queue and delivers through its channels.
// Delivery is at-least-once: a transiently failed intent is requeued once,
// then dropped with a log line.
type Worker struct {
	ch      *amqp.Channel
	queue   string
	senders []Sender
}

func NewWorker(conn *amqp.Connection, queue string, senders ...Sender) (*Worker, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("notify worker: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("notify worker: declare %s: %w", queue, err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("notify worker: qos: %w", err)
	}
	return &Worker{ch: ch, queue: queue, senders: senders}, nil
}

// Run consumes until ctx is cancelled or the channel dies.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.ch.Consume(w.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("notify worker: consume: %w", err)
	}
	logger.Infof("notify worker: consuming %s", w.queue)
	for {
		select {
		case <-ctx.Done():
			return w.ch.Close()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("notify worker: delivery channel closed")
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	var in Intent
	if err := json.Unmarshal(d.Body, &in); err != nil {
		logger.Errorf("notify worker: bad intent %s: %v", d.MessageId, err)
		d.Nack(false, false)
		return
	}

	err := w.deliver(ctx, in)
	switch {
	case err == nil, errors.Is(err, ErrNoRoute):
		d.Ack(false)
	case d.Redelivered:
		logger.Errorf("notify worker: dropping intent %s after retry: %v", in.ID, err)
		d.Nack(false, false)
	default:
		logger.Errorf("notify worker: requeueing intent %s: %v", in.ID, err)
		d.Nack(false, true)
	}
}

// deliver routes the intent: an explicit channel hint is honored, otherwise
// the senders are tried in registration order until one has a route.
func (w *Worker) deliver(ctx context.Context, in Intent) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var lastErr error = ErrNoRoute
	for _, s := range w.senders {
		if in.Channel != "" && in.Channel != s.Name() {
			continue
		}
		err := s.Send(ctx, in)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNoRoute) {
			continue
		}
		lastErr = fmt.Errorf("%s: %w", s.Name(), err)
	}
	return lastErr
}
