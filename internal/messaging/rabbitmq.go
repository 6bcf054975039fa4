package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const diagnosisRecordedType = "diagnosis.recorded"

var ErrNotConnected = errors.New("rabbitmq connection is not available")

// session is one connection with a channel on which the diagnosis events
// queue has been declared.
type session struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  chan *amqp.Error
}

func dial(url string, prefetch int) (*session, error) {
	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= MaxConnectRetry; attempt++ {
		if conn, err = amqp.Dial(url); err == nil {
			break
		}
		slog.Warn("failed to connect to rabbitmq", "attempt", attempt, "max_attempts", MaxConnectRetry, "error", err)
		if attempt < MaxConnectRetry {
			time.Sleep(RetryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("unable to connect to rabbitmq after %d attempts: %w", MaxConnectRetry, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if prefetch > 0 {
		if err := channel.Qos(prefetch, 0, false); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set channel qos: %w", err)
		}
	}

	if _, err := channel.QueueDeclare(DiagnosisEventsQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare rabbitmq queue %s: %w", DiagnosisEventsQueue, err)
	}

	slog.Info("connected to rabbitmq", "queue", DiagnosisEventsQueue)

	return &session{
		conn:    conn,
		channel: channel,
		closed:  channel.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

func (s *session) close() {
	if err := s.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		slog.Error("error closing rabbitmq connection", "error", err)
	}
}

// redial keeps dialing until it succeeds or stop is closed, in which case it
// returns nil.
func redial(url string, prefetch int, stop <-chan struct{}) *session {
	for {
		select {
		case <-stop:
			return nil
		case <-time.After(RetryDelay):
		}

		s, err := dial(url, prefetch)
		if err == nil {
			return s
		}
		slog.Error("rabbitmq reconnect failed, retrying", "error", err)
	}
}

// RabbitMQPublisher publishes diagnosis events as persistent messages. When
// the connection drops it reconnects in the background; publishes in the
// meantime fail with ErrNotConnected.
type RabbitMQPublisher struct {
	url string

	mu      sync.RWMutex
	session *session

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRabbitMQPublisher(rabbitMQURL string) (*RabbitMQPublisher, error) {
	s, err := dial(rabbitMQURL, 0)
	if err != nil {
		return nil, err
	}

	p := &RabbitMQPublisher{url: rabbitMQURL, session: s, stop: make(chan struct{})}
	go p.watch(s)

	return p, nil
}

func (p *RabbitMQPublisher) watch(s *session) {
	for {
		select {
		case err, ok := <-s.closed:
			if !ok {
				return
			}
			slog.Warn("rabbitmq publisher connection lost, reconnecting", "error", err)

			p.mu.Lock()
			p.session = nil
			p.mu.Unlock()

			if s = redial(p.url, 0, p.stop); s == nil {
				return
			}

			p.mu.Lock()
			p.session = s
			p.mu.Unlock()
			slog.Info("rabbitmq publisher reconnected")
		case <-p.stop:
			return
		}
	}
}

func (p *RabbitMQPublisher) PublishDiagnosisRecorded(ctx context.Context, payload DiagnosisRecordedPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal diagnosis event: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.session == nil || p.session.channel.IsClosed() {
		return ErrNotConnected
	}

	err = p.session.channel.PublishWithContext(ctx, "", DiagnosisEventsQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    payload.DiagnosisId.String(),
		Type:         diagnosisRecordedType,
		Timestamp:    payload.CreationTime,
		Body:         body,
	})
	if err != nil {
		slog.Error("failed to publish diagnosis event", "diagnosis_id", payload.DiagnosisId, "error", err)
		return fmt.Errorf("failed to publish diagnosis event: %w", err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() {
	p.stopOnce.Do(func() {
		close(p.stop)

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.session != nil {
			p.session.close()
			p.session = nil
		}
	})
}

type RabbitMQTask struct {
	d amqp.Delivery
}

func (t *RabbitMQTask) Type() string {
	return t.d.RoutingKey
}

func (t *RabbitMQTask) Payload() []byte {
	return t.d.Body
}

func (t *RabbitMQTask) Ack() error {
	return t.d.Ack(false)
}

// Nack drops the event. Events are informational and are not requeued.
func (t *RabbitMQTask) Nack() error {
	return t.d.Nack(false, false)
}

func (t *RabbitMQTask) Reject() error {
	return t.d.Reject(false)
}

// RabbitMQReceiver delivers diagnosis events one at a time. The task channel
// is closed once Close has been called.
type RabbitMQReceiver struct {
	url   string
	tasks chan Task

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRabbitMQReceiver(rabbitMQURL string) (*RabbitMQReceiver, error) {
	r := &RabbitMQReceiver{
		url:   rabbitMQURL,
		tasks: make(chan Task),
		stop:  make(chan struct{}),
	}

	s, err := dial(rabbitMQURL, 1)
	if err != nil {
		return nil, err
	}

	msgs, err := consume(s)
	if err != nil {
		return nil, err
	}

	go r.run(s, msgs)

	return r, nil
}

func consume(s *session) (<-chan amqp.Delivery, error) {
	msgs, err := s.channel.Consume(DiagnosisEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to consume from rabbitmq queue %s: %w", DiagnosisEventsQueue, err)
	}
	return msgs, nil
}

// reconnect returns a nil session when the receiver is stopped first.
func (r *RabbitMQReceiver) reconnect() (*session, <-chan amqp.Delivery) {
	for {
		s := redial(r.url, 1, r.stop)
		if s == nil {
			return nil, nil
		}

		msgs, err := consume(s)
		if err == nil {
			return s, msgs
		}
		slog.Error("failed to restart rabbitmq consumer", "error", err)
	}
}

func (r *RabbitMQReceiver) run(s *session, msgs <-chan amqp.Delivery) {
	defer close(r.tasks)

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				// wait for the close notification to decide whether to reconnect
				msgs = nil
				continue
			}
			select {
			case r.tasks <- &RabbitMQTask{d: d}:
			case <-r.stop:
				s.close()
				return
			}

		case err, ok := <-s.closed:
			if !ok {
				slog.Info("rabbitmq consumer channel closed")
				return
			}
			slog.Warn("rabbitmq consumer connection lost, reconnecting", "error", err)

			if s, msgs = r.reconnect(); s == nil {
				return
			}
			slog.Info("rabbitmq consumer reconnected")

		case <-r.stop:
			slog.Info("stopping rabbitmq consumer")
			s.close()
			return
		}
	}
}

func (r *RabbitMQReceiver) Tasks() <-chan Task {
	return r.tasks
}

func (r *RabbitMQReceiver) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}
