// Package audit publishes security events (logins, rotations, 2FA changes).
// Publishing is best effort and never fails the operation that emitted it.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types.
const (
	LoginSucceeded        = "login.succeeded"
	LoginFailed           = "login.failed"
	TokenRefreshed        = "token.refreshed"
	LoggedOut             = "session.logged_out"
	TwoFactorSetup        = "2fa.setup"
	TwoFactorEnabled      = "2fa.enabled"
	TwoFactorDisabled     = "2fa.disabled"
	BackupCodeUsed        = "2fa.backup_code_used"
	BackupCodesRegenerate = "2fa.backup_codes_regenerated"
)

// Event is one audit record. It never carries secrets or token values.
type Event struct {
	Type   string            `json:"type"`
	UserID string            `json:"user_id,omitempty"`
	At     time.Time         `json:"at"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// Publisher emits audit events.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Nop drops every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) {}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events as JSON messages keyed by user id.
type Kafka struct {
	w   messageWriter
	log *zap.Logger
}

var _ Publisher = (*Kafka)(nil)

// NewKafka returns an asynchronous publisher writing to topic.
func NewKafka(brokers []string, topic string, log *zap.Logger) *Kafka {
	if log == nil {
		log = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn("audit: delivery failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
	return &Kafka{w: w, log: log}
}

// Publish implements Publisher.
func (k *Kafka) Publish(ctx context.Context, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		k.log.Warn("audit: encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	msg := kafka.Message{Key: []byte(ev.UserID), Value: b, Time: ev.At}
	if err := k.w.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		k.log.Warn("audit: publish", zap.String("type", ev.Type), zap.Error(err))
	}
}

// Close flushes pending messages.
func (k *Kafka) Close() error { return k.w.Close() }
