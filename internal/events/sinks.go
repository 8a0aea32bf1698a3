package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

// Message is the wire form of an event.
type Message struct {
	Type        string    `json:"type"`
	BookingID   string    `json:"booking_id"`
	Status      string    `json:"status"`
	Version     int64     `json:"version"`
	ResourceIDs []string  `json:"resource_ids"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Priority    string    `json:"priority"`
	RequestedBy string    `json:"requested_by,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewMessage converts an event to its wire form.
func NewMessage(event scheduler.Event) Message {
	return Message{
		Type:        string(event.Type),
		BookingID:   event.BookingID,
		Status:      string(event.Status),
		Version:     event.Version,
		ResourceIDs: event.ResourceIDs,
		Start:       event.Window.Start.UTC(),
		End:         event.Window.End.UTC(),
		Priority:    string(event.Priority),
		RequestedBy: event.RequestedBy,
		OccurredAt:  event.OccurredAt.UTC(),
	}
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink logging at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (s *LogSink) Deliver(ctx context.Context, event scheduler.Event) error {
	s.logger.InfoContext(ctx, "booking event",
		"event", string(event.Type),
		"booking_id", event.BookingID,
		"status", string(event.Status),
		"version", event.Version,
		"resource_ids", event.ResourceIDs,
	)
	return nil
}

// AMQPSink publishes events as persistent JSON messages to a durable queue.
type AMQPSink struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewAMQPSink dials url and declares queue.
func NewAMQPSink(url, queue string) (*AMQPSink, error) {
	if url == "" {
		return nil, errors.New("events: amqp url is empty")
	}
	if queue == "" {
		queue = "booking.events"
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	return &AMQPSink{conn: conn, ch: ch, queue: queue}, nil
}

// Name implements Sink.
func (s *AMQPSink) Name() string { return "amqp" }

// Deliver implements Sink.
func (s *AMQPSink) Deliver(ctx context.Context, event scheduler.Event) error {
	body, err := json.Marshal(NewMessage(event))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%s:%d", event.BookingID, event.Version),
		Type:         string(event.Type),
		Timestamp:    event.OccurredAt.UTC(),
		Body:         body,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch.PublishWithContext(ctx,
		"",      // default exchange
		s.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		pub,
	)
}

// Close releases the channel and connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.ch.Close(), s.conn.Close())
}
