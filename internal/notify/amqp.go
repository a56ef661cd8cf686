package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher publishes each event to the durable queue named after its type through the
// default exchange. The connection is opened lazily and re-dialed after it drops.
type AMQPPublisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewAMQPPublisher(url string) *AMQPPublisher {
	return &AMQPPublisher{url: url}
}

func (p *AMQPPublisher) connection() (*amqp.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, err
	}
	if err := declareQueues(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return conn, nil
}

// declareQueues makes every event queue exist before the first publish, so consumers started
// later still find the events published while they were down.
func declareQueues(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()
	for _, q := range Queues() {
		if _, err := ch.QueueDeclare(string(q), true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}
	return nil
}

// newPublishing encodes ev for the queue named after its type.
func newPublishing(ev ReservationEvent) (string, amqp.Publishing, error) {
	if !knownType(ev.Type) {
		return "", amqp.Publishing{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return "", amqp.Publishing{}, err
	}
	ts := ev.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return string(ev.Type), amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%s:%d", ev.Type, ev.ReservationID),
		Timestamp:    ts.UTC(),
		Body:         body,
	}, nil
}

func knownType(t EventType) bool {
	for _, q := range Queues() {
		if q == t {
			return true
		}
	}
	return false
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev ReservationEvent) error {
	queue, msg, err := newPublishing(ev)
	if err != nil {
		return err
	}
	conn, err := p.connection()
	if err != nil {
		log.Printf("[notify] rabbitmq dial failed: %v", err)
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		log.Printf("[notify] rabbitmq channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if err := ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		log.Printf("[notify] publish failed queue=%s reservation_id=%d err=%v", queue, ev.ReservationID, err)
		return err
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
