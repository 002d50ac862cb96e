package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "gateman:event:"

// Channel is the pub/sub channel that carries changes for eventID.
func Channel(eventID string) string {
	return channelPrefix + eventID + ":changed"
}

// NewRedisClient parses url (a redis:// URL or a bare host:port), applies
// pool settings and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	opts.PoolSize = 50
	opts.MinIdleConns = 5
	opts.MaxRetries = 3

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// RedisNotifier fans changes out across nodes over Redis pub/sub.
type RedisNotifier struct {
	client redis.UniversalClient
	log    *slog.Logger
}

func NewRedisNotifier(client redis.UniversalClient, log *slog.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, log: log}
}

var _ Notifier = (*RedisNotifier)(nil)

func (n *RedisNotifier) Publish(ctx context.Context, eventID string) error {
	if err := n.client.Publish(ctx, Channel(eventID), eventID).Err(); err != nil {
		return fmt.Errorf("Publish: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, eventID string) (<-chan struct{}, func(), error) {
	ps := n.client.Subscribe(ctx, Channel(eventID))
	// Receive blocks until the SUBSCRIBE is acknowledged, so a publish
	// issued after Subscribe returns is never missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("Subscribe: %w", err)
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ps.Channel() {
			signal(out)
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				n.log.Warn("redis unsubscribe failed", "event_id", eventID, "err", err)
			}
			<-done
		})
	}
	return out, cancel, nil
}
