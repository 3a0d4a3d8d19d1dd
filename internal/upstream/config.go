package upstream

import (
	"fmt"
	"time"
)

// Drivers.
const (
	DriverRedis     = "redis"
	DriverKafka     = "kafka"
	DriverWebSocket = "websocket"
	DriverMemory    = "memory"
)

// Config holds the upstream source configuration.
type Config struct {
	Driver         string          `mapstructure:"driver"`
	ConnectTimeout time.Duration   `mapstructure:"connect_timeout"`
	EventBuffer    int             `mapstructure:"event_buffer"`
	Redis          RedisConfig     `mapstructure:"redis"`
	Kafka          KafkaConfig     `mapstructure:"kafka"`
	WebSocket      WebSocketConfig `mapstructure:"websocket"`
}

// RedisConfig configures the Redis pub/sub source. Each room is read from
// the channel "<ChannelPrefix>:<room>".
type RedisConfig struct {
	Address       string        `mapstructure:"address"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	PoolSize      int           `mapstructure:"pool_size"`
	ChannelPrefix string        `mapstructure:"channel_prefix"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig configures the Kafka source. Events for all rooms share one
// topic and are keyed by room name.
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// WebSocketConfig configures the WebSocket source. URLTemplate contains a
// single %s replaced by the path-escaped room name.
type WebSocketConfig struct {
	URLTemplate      string        `mapstructure:"url_template"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Driver:         DriverRedis,
		ConnectTimeout: 15 * time.Second,
		EventBuffer:    256,
		Redis: RedisConfig{
			Address:       "localhost:6379",
			PoolSize:      10,
			ChannelPrefix: "live:room",
			ReadTimeout:   3 * time.Second,
			WriteTimeout:  3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: "localhost:9092",
			Topic:   "live-events",
			GroupID: "live-relay",
		},
		WebSocket: WebSocketConfig{
			HandshakeTimeout: 10 * time.Second,
			PongWait:         60 * time.Second,
		},
	}
}

// AdapterOptions derives the adapter options from the configuration.
func (c Config) AdapterOptions() Options {
	return Options{
		ConnectTimeout: c.ConnectTimeout,
		EventBuffer:    c.EventBuffer,
	}
}

// NewFactory creates the SourceFactory for the configured driver.
func NewFactory(cfg Config) (SourceFactory, error) {
	switch cfg.Driver {
	case DriverRedis, "":
		return NewRedisFactory(cfg.Redis)
	case DriverKafka:
		return NewKafkaFactory(cfg.Kafka)
	case DriverWebSocket:
		return NewWebSocketFactory(cfg.WebSocket)
	case DriverMemory:
		return NewMemoryFactory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
