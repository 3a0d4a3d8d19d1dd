package config

import (
	"time"

	"github.com/spf13/viper"
	"github.com/weiawesome/live-relay/internal/upstream"
	pkgconfig "github.com/weiawesome/live-relay/pkg/config"
	"github.com/weiawesome/live-relay/pkg/log"
)

type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig
	WebSocket WebSocketConfig
	Upstream  upstream.Config
	Log       log.Config
}

type ServerConfig struct {
	Host string
	Port int
}

type GRPCConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

// DefaultWebSocketConfig mirrors the defaults applied by Load.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     256,
	}
}

// Load reads ./config/config.yaml (optional) and the environment.
func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper applies defaults and environment bindings to v and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	up := upstream.DefaultConfig()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50070)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("upstream.driver", up.Driver)
	v.SetDefault("upstream.connect_timeout", up.ConnectTimeout.String())
	v.SetDefault("upstream.event_buffer", up.EventBuffer)
	v.SetDefault("upstream.redis.address", up.Redis.Address)
	v.SetDefault("upstream.redis.password", "")
	v.SetDefault("upstream.redis.db", 0)
	v.SetDefault("upstream.redis.pool_size", up.Redis.PoolSize)
	v.SetDefault("upstream.redis.channel_prefix", up.Redis.ChannelPrefix)
	v.SetDefault("upstream.redis.read_timeout", up.Redis.ReadTimeout.String())
	v.SetDefault("upstream.redis.write_timeout", up.Redis.WriteTimeout.String())
	v.SetDefault("upstream.kafka.brokers", up.Kafka.Brokers)
	v.SetDefault("upstream.kafka.topic", up.Kafka.Topic)
	v.SetDefault("upstream.kafka.group_id", up.Kafka.GroupID)
	v.SetDefault("upstream.websocket.url_template", "")
	v.SetDefault("upstream.websocket.handshake_timeout", up.WebSocket.HandshakeTimeout.String())
	v.SetDefault("upstream.websocket.pong_wait", up.WebSocket.PongWait.String())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "live-relay")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("grpc.port", "GRPC_PORT")
	v.BindEnv("upstream.driver", "UPSTREAM_DRIVER")
	v.BindEnv("upstream.redis.address", "REDIS_ADDRESS")
	v.BindEnv("upstream.redis.password", "REDIS_PASSWORD")
	v.BindEnv("upstream.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("upstream.kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("upstream.websocket.url_template", "UPSTREAM_URL_TEMPLATE")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Upstream.ConnectTimeout = parseDuration(v, "upstream.connect_timeout", up.ConnectTimeout)
	cfg.Upstream.Redis.ReadTimeout = parseDuration(v, "upstream.redis.read_timeout", up.Redis.ReadTimeout)
	cfg.Upstream.Redis.WriteTimeout = parseDuration(v, "upstream.redis.write_timeout", up.Redis.WriteTimeout)
	cfg.Upstream.WebSocket.HandshakeTimeout = parseDuration(v, "upstream.websocket.handshake_timeout", up.WebSocket.HandshakeTimeout)
	cfg.Upstream.WebSocket.PongWait = parseDuration(v, "upstream.websocket.pong_wait", up.WebSocket.PongWait)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
