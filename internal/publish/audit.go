package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvilelaf/tsunami/internal/posts"
	"github.com/dvilelaf/tsunami/pkg/validation"
)

// DefaultAuditTopic receives one record per successful channel publication.
const DefaultAuditTopic = "tsunami.publications"

// Record describes one successful channel publication.
type Record struct {
	PostID      string        `json:"post_id" validate:"required,uuid"`
	Channel     posts.Channel `json:"channel" validate:"required,channel"`
	MessageID   string        `json:"message_id" validate:"required"`
	Source      string        `json:"source,omitempty"`
	PublishedAt time.Time     `json:"published_at"`
}

// AuditSink receives publication records. Errors are logged by the tracker
// and never affect the post flags.
type AuditSink interface {
	Record(ctx context.Context, rec Record) error
}

type producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaAudit writes records keyed by post ID. Malformed records are
// rejected before they reach the broker.
type KafkaAudit struct {
	producer  producer
	topic     string
	validator *validation.Validator
}

func NewKafkaAudit(p producer, topic string) *KafkaAudit {
	if topic == "" {
		topic = DefaultAuditTopic
	}
	names := make([]string, 0, len(posts.AllChannels))
	for _, ch := range posts.AllChannels {
		names = append(names, string(ch))
	}
	return &KafkaAudit{producer: p, topic: topic, validator: validation.New(names...)}
}

func (k *KafkaAudit) Record(ctx context.Context, rec Record) error {
	if err := k.validator.Struct(rec); err != nil {
		return fmt.Errorf("audit record %s: %w", rec.PostID, err)
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	return k.producer.Produce(ctx, k.topic, []byte(rec.PostID), value, map[string]string{
		"channel": string(rec.Channel),
	})
}
