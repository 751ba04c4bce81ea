package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

type Type string

const (
	VoucherActivated    Type = "voucher.activated"
	VoucherExpired      Type = "voucher.expired"
	VoucherUsed         Type = "voucher.used"
	VoucherBatchCreated Type = "voucher.batch_created"
)

type Event struct {
	Type     Type        `json:"type"`
	DeviceID int64       `json:"device_id"`
	Subject  string      `json:"subject"`
	Payload  interface{} `json:"payload,omitempty"`
	At       time.Time   `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type Config struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

const DefaultTopic = "mikrobill.events"

// New returns a Kafka publisher, or a Nop one when no brokers are configured.
func New(cfg Config) Publisher {
	if len(cfg.Brokers) == 0 {
		slog.Info("No Kafka brokers configured, lifecycle events are discarded")
		return Nop{}
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	slog.Info("Kafka event publisher initialized", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return NewKafka(w)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events keyed by device id so events of one device stay
// ordered within a partition.
type Kafka struct {
	writer messageWriter
}

func NewKafka(w messageWriter) *Kafka {
	return &Kafka{writer: w}
}

func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	msg, err := Message(ev)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	slog.Debug("Published event", "type", ev.Type, "device_id", ev.DeviceID, "subject", ev.Subject)
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Message encodes ev as a Kafka message.
func Message(ev Event) (kafka.Message, error) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode %s: %w", ev.Type, err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.DeviceID, 10)),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}, nil
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Emit publishes ev and logs a failure instead of returning it.
func Emit(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		slog.Warn("Failed to publish event",
			"type", ev.Type,
			"device_id", ev.DeviceID,
			"subject", ev.Subject,
			"error", err)
	}
}
