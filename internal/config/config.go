// Package config loads odin-db's runtime configuration: bind address,
// channel capacities, and the ambient logging/metrics/bridge knobs. It
// deliberately does not cover authentication, TLS, or the CLI surface —
// those are non-goals of the core (spec.md §1).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for odin-db.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Store     StoreConfig     `mapstructure:"store"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
}

// ServerConfig contains network level settings for the upgrade listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// WebSocketConfig controls the per-connection engine.
type WebSocketConfig struct {
	Path                 string `mapstructure:"path"`
	CommandChannelSize   int    `mapstructure:"command_channel_size"`
	StatusChannelSize    int    `mapstructure:"status_channel_size"`
}

// StoreConfig controls the expiring table. Reaper tick granularity is
// deliberately not a knob — the reaper always sleeps exactly until the
// next expiry, per spec.md §4.1 — but the table's initial bucket count
// can be hinted to avoid early grow-and-rehash churn for deployments that
// know their steady-state key count.
type StoreConfig struct {
	InitialCapacityHint int `mapstructure:"initial_capacity_hint"`
}

// BroadcastConfig controls the broadcast bus. Bus capacity (the maximum
// number of concurrent subscribers the bus will accept) and per-subscriber
// backlog (how many envelopes a single lagging subscriber may queue) are
// independently tunable per the Open Question in spec.md §9 — the source
// fixed both to one shared CHANNEL_SIZE with a TODO to split them; here
// they are deliberately separate knobs because they bound different
// things: fan-out width versus one subscriber's tolerance for lag.
type BroadcastConfig struct {
	BusCapacity           int `mapstructure:"bus_capacity"`
	SubscriberBacklogSize int `mapstructure:"subscriber_backlog_size"`
}

// MetricsConfig controls the Prometheus/health HTTP endpoint.
type MetricsConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	ListenAddr          string        `mapstructure:"listen_addr"`
	Endpoint            string        `mapstructure:"endpoint"`
	ProcessSampleInterval time.Duration `mapstructure:"process_sample_interval"`
}

// LoggingConfig controls zap logger level/encoding. SamplingInitial and
// SamplingThereafter tune zap's sampling core: unlike a request-handling
// server where every log line is a distinct event, odin-db's chattiest
// loggers fire once per frame on a long-lived connection (decode failures,
// receiver lag warnings, state transitions) — a busy connection can emit
// thousands of identical-message lines per second, so Thereafter is set
// much higher than Initial to crush repeats hard once a burst is confirmed.
type LoggingConfig struct {
	Level              string `mapstructure:"level"`
	Development        bool   `mapstructure:"development"`
	SamplingInitial    int    `mapstructure:"sampling_initial"`
	SamplingThereafter int    `mapstructure:"sampling_thereafter"`
}

// BridgeConfig controls the optional NATS observability mirror. Disabled by
// default; never affects client-visible behavior when enabled or not.
type BridgeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// Load reads configuration from defaults, an optional config file, and
// ODIN_-prefixed environment variables, in that precedence order.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.handshake_timeout", 10*time.Second)

	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.command_channel_size", 1000)
	v.SetDefault("websocket.status_channel_size", 1000)

	v.SetDefault("store.initial_capacity_hint", 1024)

	v.SetDefault("broadcast.bus_capacity", 1000)
	v.SetDefault("broadcast.subscriber_backlog_size", 1000)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9095")
	v.SetDefault("metrics.endpoint", "/metrics")
	v.SetDefault("metrics.process_sample_interval", 5*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.sampling_initial", 50)
	v.SetDefault("logging.sampling_thereafter", 1000)

	v.SetDefault("bridge.enabled", false)
	v.SetDefault("bridge.url", "nats://127.0.0.1:4222")
	v.SetDefault("bridge.subject", "odin.broadcast")

	v.SetConfigName("odin")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("ODIN")
	v.AutomaticEnv()

	// Config file is optional; absence is not an error.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.WebSocket.CommandChannelSize <= 0 {
		cfg.WebSocket.CommandChannelSize = 1000
	}
	if cfg.WebSocket.StatusChannelSize <= 0 {
		cfg.WebSocket.StatusChannelSize = 1000
	}
	if cfg.Broadcast.BusCapacity <= 0 {
		cfg.Broadcast.BusCapacity = 1000
	}
	if cfg.Broadcast.SubscriberBacklogSize <= 0 {
		cfg.Broadcast.SubscriberBacklogSize = 1000
	}
	if cfg.Store.InitialCapacityHint < 0 {
		cfg.Store.InitialCapacityHint = 0
	}
	if cfg.Logging.SamplingInitial <= 0 {
		cfg.Logging.SamplingInitial = 50
	}
	if cfg.Logging.SamplingThereafter <= 0 {
		cfg.Logging.SamplingThereafter = 1000
	}

	return cfg, nil
}
