// Package config defines all configuration for the streaming engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive-free overrides via STREAMCORE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure (spec §6 "Environment/config").
type Config struct {
	Market   MarketConfig   `mapstructure:"market"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Resync   ResyncConfig   `mapstructure:"resync"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// MarketConfig names the assets to subscribe to on startup and the digest
// algorithm used to verify every book.
type MarketConfig struct {
	Assets        []string `mapstructure:"assets"`
	HashAlgorithm string   `mapstructure:"hash_algorithm"`
}

// FeedConfig configures the two WebSocket channels and the broadcast fan-out
// behind them (spec §6's `ws_market_url`/`ws_user_url`/`heartbeat_interval_s`/
// `reconnect_initial_ms`/`reconnect_max_ms`/`event_buffer_size`).
type FeedConfig struct {
	WSMarketURL        string        `mapstructure:"ws_market_url"`
	WSUserURL          string        `mapstructure:"ws_user_url"`
	UserMarkets        []string      `mapstructure:"user_markets"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval_s"`
	ReconnectInitial   time.Duration `mapstructure:"reconnect_initial_ms"`
	ReconnectMax       time.Duration `mapstructure:"reconnect_max_ms"`
	EventBufferSize    int           `mapstructure:"event_buffer_size"`
	InboundQueueSize   int           `mapstructure:"inbound_queue_size"`
	AutoSyncOnMismatch bool          `mapstructure:"auto_sync_on_hash_mismatch"`

	// MaxReconnectAttempts bounds consecutive failed connection attempts
	// before a connector gives up and reports Failed. Zero means unbounded
	// (spec §4.5 "attempt count is unbounded unless configured").
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts"`

	// ApiKey/Passphrase/Secret authenticate the user channel. Secret is
	// never logged; see internal/auth's HMAC signer.
	ApiKey     string `mapstructure:"api_key"`
	Passphrase string `mapstructure:"passphrase"`
	Secret     string `mapstructure:"secret"`
}

// RecorderConfig controls the Session Recorder (spec §4.7, §6).
type RecorderConfig struct {
	Enabled       bool   `mapstructure:"recorder_enabled"`
	RootPath      string `mapstructure:"recorder_root_path"`
	QueueCapacity int    `mapstructure:"recorder_queue_capacity"`
}

// ResyncConfig tunes the Resync Coordinator's REST snapshot source and
// retry budget (spec §4.9).
type ResyncConfig struct {
	RESTBaseURL    string        `mapstructure:"rest_base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

// MetricsConfig controls the standalone Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("STREAMCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("market.hash_algorithm", "keccak256")
	v.SetDefault("feed.heartbeat_interval_s", 10*time.Second)
	v.SetDefault("feed.reconnect_initial_ms", 500*time.Millisecond)
	v.SetDefault("feed.reconnect_max_ms", 30*time.Second)
	v.SetDefault("feed.event_buffer_size", 256)
	v.SetDefault("feed.inbound_queue_size", 256)
	v.SetDefault("feed.auto_sync_on_hash_mismatch", true)
	v.SetDefault("recorder.recorder_enabled", true)
	v.SetDefault("recorder.recorder_root_path", "./data")
	v.SetDefault("recorder.recorder_queue_capacity", 64)
	v.SetDefault("resync.request_timeout", 5*time.Second)
	v.SetDefault("resync.initial_backoff", 500*time.Millisecond)
	v.SetDefault("resync.max_backoff", 30*time.Second)
	v.SetDefault("resync.max_attempts", 5)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Market.Assets) == 0 {
		return fmt.Errorf("market.assets must name at least one asset to subscribe to")
	}
	switch c.Market.HashAlgorithm {
	case "keccak256", "blake2b-256":
	default:
		return fmt.Errorf("market.hash_algorithm must be one of: keccak256, blake2b-256")
	}
	if c.Feed.WSMarketURL == "" {
		return fmt.Errorf("feed.ws_market_url is required")
	}
	if c.Feed.HeartbeatInterval <= 0 {
		return fmt.Errorf("feed.heartbeat_interval_s must be > 0")
	}
	if c.Feed.ReconnectInitial <= 0 || c.Feed.ReconnectMax < c.Feed.ReconnectInitial {
		return fmt.Errorf("feed.reconnect_initial_ms must be > 0 and <= feed.reconnect_max_ms")
	}
	if c.Feed.EventBufferSize <= 0 {
		return fmt.Errorf("feed.event_buffer_size must be > 0")
	}
	if c.Recorder.Enabled && c.Recorder.RootPath == "" {
		return fmt.Errorf("recorder.recorder_root_path is required when recorder.recorder_enabled is true")
	}
	if c.Resync.RESTBaseURL == "" {
		return fmt.Errorf("resync.rest_base_url is required")
	}
	if c.Feed.WSUserURL != "" && (c.Feed.ApiKey == "" || c.Feed.Secret == "" || c.Feed.Passphrase == "") {
		return fmt.Errorf("feed.api_key, feed.secret, and feed.passphrase are required when feed.ws_user_url is set")
	}
	return nil
}
