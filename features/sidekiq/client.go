package sidekiq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fedipull/internal/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// job is a Sidekiq-compatible payload. The Rails side picks it up from the
// Redis list and runs the fetch worker; delivery is at-least-once and
// fire-and-forget from this side.
type job struct {
	Class      string   `json:"class"`
	Args       []string `json:"args"`
	Queue      string   `json:"queue"`
	Retry      bool     `json:"retry"`
	JID        string   `json:"jid"`
	CreatedAt  float64  `json:"created_at"`
	EnqueuedAt float64  `json:"enqueued_at"`
}

// Client enqueues fetch jobs onto the Sidekiq Redis backend.
type Client struct {
	rdb *redis.Client
	cfg *config.QueueConfig
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg *config.QueueConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{rdb: rdb, cfg: cfg}, nil
}

// EnqueueFetch pushes one fetch job for the given post URI.
func (c *Client) EnqueueFetch(ctx context.Context, uri string) error {
	now := float64(time.Now().UnixNano()) / float64(time.Second)

	payload, err := json.Marshal(job{
		Class:      c.cfg.JobClass,
		Args:       []string{uri},
		Queue:      c.cfg.SidekiqQueue,
		Retry:      true,
		JID:        newJID(),
		CreatedAt:  now,
		EnqueuedAt: now,
	})
	if err != nil {
		return fmt.Errorf("marshal fetch job: %w", err)
	}

	key := "queue:" + c.cfg.QueueName
	if err := c.rdb.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue fetch job: %w", err)
	}

	log.Info().Str("uri", uri).Msg("Pulling post")

	return nil
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// newJID mirrors Sidekiq's 24-hex-character job identifiers.
func newJID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:24]
}
