package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream audit entries are appended to.
const DefaultStream = "hookbox:audit"

// RedisConfig defines the Redis connection for the stream sink.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	Database int
	Stream   string
	// MaxLen caps the stream approximately. Zero keeps everything.
	MaxLen int64
}

// RedisSink appends entries to a Redis stream with XADD so other services
// can consume the audit trail.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(cfg RedisConfig) (*RedisSink, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisSink{client: client, stream: stream, maxLen: cfg.MaxLen}, nil
}

func (s *RedisSink) Record(ctx context.Context, e Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"action":        e.Action,
			"resource_type": e.ResourceType,
			"resource_id":   e.ResourceID,
			"actor":         e.Actor,
			"ip_address":    e.IPAddress,
			"details":       string(details),
			"timestamp":     e.Timestamp.UTC().Format(time.RFC3339),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
