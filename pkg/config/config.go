package config

import (
	"fmt"
	"time"

	"github.com/ethergo-sdk/logstream/internal/common"
	"github.com/ethergo-sdk/logstream/internal/logger"
)

// Config represents the complete configuration for a logstream client.
type Config struct {
	// Node contains the remote node connection configuration
	Node NodeConfig `yaml:"node" json:"node" toml:"node"`

	// Watcher contains the subscription and reorg-tracking configuration
	Watcher WatcherConfig `yaml:"watcher" json:"watcher" toml:"watcher"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// ApplyDefaults sets default values for all optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Node.ApplyDefaults()
	c.Watcher.ApplyDefaults()

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks the full configuration for consistency.
func (c *Config) Validate() error {
	if err := c.Node.Validate(); err != nil {
		return err
	}
	if err := c.Watcher.Validate(); err != nil {
		return err
	}
	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}
	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// NodeConfig represents the remote node connection configuration.
type NodeConfig struct {
	// RPCURL is the node endpoint URL. Use a ws:// or wss:// endpoint to
	// enable push subscriptions; http(s) endpoints are poll-only.
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// ChunkSize is the maximum block range per log range query
	ChunkSize uint64 `yaml:"chunk_size" json:"chunk_size" toml:"chunk_size"`

	// RequestTimeout bounds every individual node query
	RequestTimeout common.Duration `yaml:"request_timeout" json:"request_timeout" toml:"request_timeout"`

	// Retry contains RPC retry configuration with exponential backoff
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional node configuration fields.
func (n *NodeConfig) ApplyDefaults() {
	if n.ChunkSize == 0 {
		n.ChunkSize = 5000
	}
	if n.RequestTimeout.Duration == 0 {
		n.RequestTimeout = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if n.Retry != nil {
		n.Retry.ApplyDefaults()
	}
}

// Validate checks if the node configuration is valid.
func (n *NodeConfig) Validate() error {
	if n.RPCURL == "" {
		return fmt.Errorf("node.rpc_url: required")
	}
	if n.ChunkSize == 0 {
		return fmt.Errorf("node.chunk_size: must be positive")
	}
	return nil
}

// WatcherConfig represents the subscription and reorg-tracking configuration.
type WatcherConfig struct {
	// ConfirmationDepth is the number of blocks built on top of a record's
	// block before the record is treated as final
	ConfirmationDepth uint64 `yaml:"confirmation_depth" json:"confirmation_depth" toml:"confirmation_depth"`

	// MaxCacheSize bounds the per-registration block-hash cache
	MaxCacheSize int `yaml:"max_cache_size" json:"max_cache_size" toml:"max_cache_size"`

	// PollInterval is the default interval between poll ticks
	PollInterval common.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// PreferPush requests push subscriptions when the transport supports them
	PreferPush bool `yaml:"prefer_push" json:"prefer_push" toml:"prefer_push"`

	// DedupCacheSize bounds the delivered-record identity window used to
	// drop duplicates at poll chunk boundaries
	DedupCacheSize int `yaml:"dedup_cache_size" json:"dedup_cache_size" toml:"dedup_cache_size"`
}

// ApplyDefaults sets default values for optional watcher configuration fields.
func (w *WatcherConfig) ApplyDefaults() {
	if w.ConfirmationDepth == 0 {
		w.ConfirmationDepth = 12
	}
	if w.MaxCacheSize == 0 {
		w.MaxCacheSize = 1000
	}
	if w.PollInterval.Duration == 0 {
		// one mainnet block time
		w.PollInterval = common.NewDuration(12 * time.Second) //nolint:mnd
	}
	if w.DedupCacheSize == 0 {
		w.DedupCacheSize = 8192
	}
}

// Validate checks if the watcher configuration is valid.
func (w *WatcherConfig) Validate() error {
	if w.MaxCacheSize < 0 {
		return fmt.Errorf("watcher.max_cache_size: must be non-negative")
	}
	if w.DedupCacheSize < 0 {
		return fmt.Errorf("watcher.dedup_cache_size: must be non-negative")
	}
	return nil
}

// RetryConfig represents RPC retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - record-source: record subscription and polling
	//   - reorg-tracker: reorganization detection
	//   - listener-registry: registration lifecycle
	//   - rpc-client: node transport
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return level
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether the metrics HTTP endpoint is active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("metrics.listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("metrics.path is required when metrics are enabled")
		}
	}
	return nil
}
