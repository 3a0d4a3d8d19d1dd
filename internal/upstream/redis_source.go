package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/live-relay/pkg/log"
)

// RedisFactory reads each room from its own Redis pub/sub channel. The
// bridge that talks to the live platform publishes RawEvent JSON there.
type RedisFactory struct {
	client *redis.Client
	prefix string
}

// NewRedisFactory creates the factory and checks the server is reachable.
func NewRedisFactory(cfg RedisConfig) (*RedisFactory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "live:room"
	}

	return &RedisFactory{client: client, prefix: prefix}, nil
}

// Channel returns the pub/sub channel carrying room's events.
func (f *RedisFactory) Channel(room string) string {
	return RedisChannel(f.prefix, room)
}

// RedisChannel builds the channel name for room under prefix.
func RedisChannel(prefix, room string) string {
	return fmt.Sprintf("%s:%s", prefix, room)
}

func (f *RedisFactory) NewSource(room string) Source {
	return &RedisSource{
		client:  f.client,
		room:    room,
		channel: f.Channel(room),
		events:  make(chan RawEvent, 100),
		done:    make(chan struct{}),
	}
}

func (f *RedisFactory) Close() error {
	return f.client.Close()
}

// RedisSource is one room subscription.
type RedisSource struct {
	client  *redis.Client
	room    string
	channel string
	events  chan RawEvent

	mu     sync.Mutex
	pubsub *redis.PubSub
	closed bool
	done   chan struct{}
	once   sync.Once
}

func (s *RedisSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	ps := s.client.Subscribe(ctx, s.channel)

	// Wait for subscription to be active
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ps.Close()
		return ErrClosed
	}
	s.pubsub = ps
	s.mu.Unlock()

	go s.processMessages(ps)
	return nil
}

func (s *RedisSource) Events() <-chan RawEvent {
	return s.events
}

func (s *RedisSource) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		ps := s.pubsub
		s.mu.Unlock()

		close(s.done)
		if ps != nil {
			err = ps.Close()
		} else {
			close(s.events)
		}
	})
	return err
}

// processMessages reads messages from the Redis pubsub and sends them to the event channel.
func (s *RedisSource) processMessages(ps *redis.PubSub) {
	defer close(s.events)
	l := log.L()

	ch := ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var raw RawEvent
			if err := json.Unmarshal([]byte(msg.Payload), &raw); err != nil {
				l.Debug().Err(err).Str(log.FieldRoom, s.room).Msg("redis source: invalid payload")
				continue
			}

			select {
			case s.events <- raw:
			case <-s.done:
				return
			}
		}
	}
}
