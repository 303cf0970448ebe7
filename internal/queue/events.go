package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EventProjectCreated = "project.created"
	EventProjectDeleted = "project.deleted"
)

// Event describes a project lifecycle change published for external
// consumers (indexers, analytics). Delivery is fire-and-forget.
type Event struct {
	Type      string
	ProjectID string
	OwnerID   string
	At        time.Time
}

// Publisher appends events to a Redis stream.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// PublisherConfig configures the Redis stream publisher.
type PublisherConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

// NewPublisher builds a Redis stream publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("event stream required")
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &Publisher{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		maxLen: maxLen,
	}, nil
}

// Publish appends one event to the stream, trimming it approximately.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":       ev.Type,
			"project_id": ev.ProjectID,
			"owner_id":   ev.OwnerID,
			"at":         at.Format(time.RFC3339Nano),
		},
	}).Err()
}
