package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/me-niyas-ali/stream/pkg/config"
	pkglog "github.com/me-niyas-ali/stream/pkg/log"
	"github.com/me-niyas-ali/stream/pkg/pubsub"
)

// Host departure policies.
const (
	HostPolicyPromote = "promote"
	HostPolicyEnd     = "end"
)

type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig `mapstructure:"grpc"`
	WebSocket WebSocketConfig
	Room      RoomConfig
	CORS      CORSConfig   `mapstructure:"cors"`
	WebRTC    WebRTCConfig `mapstructure:"webrtc"`
	PubSub    pubsub.Config
	Log       pkglog.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type GRPCConfig struct {
	Enabled bool
	Port    int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type RoomConfig struct {
	HostPolicy     string  `mapstructure:"host_policy"`
	ReadyThreshold float64 `mapstructure:"ready_threshold"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type WebRTCConfig struct {
	ICEServers []ICEServerConfig `mapstructure:"ice_servers"`
}

type ICEServerConfig struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// Load reads ./config/config.yaml (or dir/config.yaml) and the environment.
func Load(dir string) (*Config, error) {
	v, err := pkgconfig.Load(pkgconfig.Source{Dir: dir, Name: "config"})
	if err != nil {
		return nil, err
	}
	setDefaults(v)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("grpc.port", "GRPC_PORT")
	v.BindEnv("room.host_policy", "HOST_POLICY")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Server.ShutdownTimeout = parseDuration(v, "server.shutdown_timeout", 10*time.Second)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.PubSub.Redis.ReadTimeout = parseDuration(v, "pubsub.redis.read_timeout", 3*time.Second)
	cfg.PubSub.Redis.WriteTimeout = parseDuration(v, "pubsub.redis.write_timeout", 3*time.Second)

	// Comma-separated env values arrive as a single element.
	cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := pubsub.DefaultConfig()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.port", 9090)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 1<<20)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("room.host_policy", HostPolicyPromote)
	v.SetDefault("room.ready_threshold", 0.05)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("pubsub.driver", def.Driver)
	v.SetDefault("pubsub.redis.address", def.Redis.Address)
	v.SetDefault("pubsub.redis.password", "")
	v.SetDefault("pubsub.redis.db", 0)
	v.SetDefault("pubsub.redis.pool_size", def.Redis.PoolSize)
	v.SetDefault("pubsub.redis.read_timeout", def.Redis.ReadTimeout.String())
	v.SetDefault("pubsub.redis.write_timeout", def.Redis.WriteTimeout.String())
	v.SetDefault("pubsub.kafka.brokers", def.Kafka.Brokers)
	v.SetDefault("pubsub.kafka.partitions", def.Kafka.Partitions)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "stream")
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Room.HostPolicy {
	case HostPolicyPromote, HostPolicyEnd:
	default:
		return fmt.Errorf("room.host_policy must be %q or %q, got %q", HostPolicyPromote, HostPolicyEnd, c.Room.HostPolicy)
	}
	if c.Room.ReadyThreshold <= 0 || c.Room.ReadyThreshold > 1 {
		return fmt.Errorf("room.ready_threshold must be in (0, 1], got %v", c.Room.ReadyThreshold)
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket.ping_interval must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket.send_buffer must be positive")
	}
	return nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
