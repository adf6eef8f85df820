package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Hub    HubConfig    `mapstructure:"hub"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Client ClientConfig `mapstructure:"client"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type HubConfig struct {
	SendBufferSize    int           `mapstructure:"send_buffer_size"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	IdleEvictAfter    time.Duration `mapstructure:"idle_evict_after"`
	JanitorInterval   time.Duration `mapstructure:"janitor_interval"`
	MaxBroadcastBytes int64         `mapstructure:"max_broadcast_bytes"`
	ValidateSessions  bool          `mapstructure:"validate_sessions"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type ClientConfig struct {
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	// 0 takes the client default; a negative value disables reconnection.
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	// 0 disables the write timeout; SSE streams are long-lived.
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "")

	v.SetDefault("hub.send_buffer_size", 256)
	v.SetDefault("hub.write_timeout", 10*time.Second)
	v.SetDefault("hub.pong_timeout", 60*time.Second)
	v.SetDefault("hub.ping_interval", 54*time.Second)
	v.SetDefault("hub.cleanup_interval", 30*time.Second)
	v.SetDefault("hub.idle_evict_after", 5*time.Minute)
	v.SetDefault("hub.janitor_interval", time.Minute)
	v.SetDefault("hub.max_broadcast_bytes", 1<<20)
	v.SetDefault("hub.validate_sessions", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "ama")

	v.SetDefault("client.reconnect_interval", 3*time.Second)
	v.SetDefault("client.max_reconnect_attempts", 10)
	v.SetDefault("client.heartbeat_interval", 30*time.Second)
	v.SetDefault("client.handshake_timeout", 10*time.Second)
}

// Load reads configuration from an optional file and AMA_* environment
// variables, e.g. AMA_REDIS_ADDR overrides redis.addr. An empty path only
// searches ./config.yaml and ./configs/config.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Hub.SendBufferSize <= 0 {
		return errors.New("hub.send_buffer_size must be positive")
	}
	if c.Hub.PingInterval >= c.Hub.PongTimeout {
		return fmt.Errorf("hub.ping_interval (%s) must be shorter than hub.pong_timeout (%s)",
			c.Hub.PingInterval, c.Hub.PongTimeout)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis.enabled is set")
	}
	if c.Client.ReconnectInterval <= 0 {
		return errors.New("client.reconnect_interval must be positive")
	}
	return nil
}
