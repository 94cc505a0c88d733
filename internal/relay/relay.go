package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/levelmind/levelmind-go/internal/config"
	"github.com/levelmind/levelmind-go/internal/download"
	"github.com/levelmind/levelmind-go/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// Publisher is the subset of *redis.Client the relay uses
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Feed provides registry snapshots
type Feed interface {
	Subscribe(ctx context.Context) (*store.Subscription, error)
}

// Connect creates a Redis client and checks the connection
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// SnapshotChannel is where full registry snapshots are published
func SnapshotChannel(prefix string) string {
	return prefix + ":downloads"
}

// EventChannel is where job progress and status messages are published
func EventChannel(prefix string) string {
	return prefix + ":events"
}

// Relay republishes the registry feed and job events on Redis channels
type Relay struct {
	client Publisher
	prefix string
	logger *zap.Logger
}

// New creates a Relay
func New(client Publisher, prefix string, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "levelmind"
	}
	return &Relay{
		client: client,
		prefix: prefix,
		logger: logger.Named("relay"),
	}
}

// Run forwards messages until ctx is cancelled or the notifier stops.
// notifier may be nil, in which case only snapshots are relayed.
func (r *Relay) Run(ctx context.Context, feed Feed, notifier *download.ProgressNotifier) error {
	sub, err := feed.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to registry: %w", err)
	}
	defer sub.Close()

	var events <-chan []byte
	if notifier != nil {
		client := download.NewClient("redis-relay")
		if notifier.Register(client) {
			defer notifier.Unregister(client)
			events = client.SendChan
		}
	}

	r.logger.Info("relay started",
		zap.String("snapshots", SnapshotChannel(r.prefix)),
		zap.String("events", EventChannel(r.prefix)))

	for {
		select {
		case <-ctx.Done():
			return nil

		case snapshot, ok := <-sub.Updates():
			if !ok {
				return nil
			}
			data, err := encodeSnapshot(snapshot)
			if err != nil {
				r.logger.Error("failed to encode snapshot", zap.Error(err))
				continue
			}
			r.publish(ctx, SnapshotChannel(r.prefix), data)

		case data, ok := <-events:
			if !ok {
				return nil
			}
			r.publish(ctx, EventChannel(r.prefix), data)
		}
	}
}

func (r *Relay) publish(ctx context.Context, channel string, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		r.logger.Warn("failed to publish", zap.String("channel", channel), zap.Error(err))
	}
}

func encodeSnapshot(tracks []store.DownloadedTrack) ([]byte, error) {
	return json.Marshal(&download.Message{Type: download.MessageSnapshot, Payload: tracks})
}
