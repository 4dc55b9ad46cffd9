package config

import (
	"fmt"
	"time"

	"github.com/grovetools/tabsd/pkg/models"
	"github.com/mitchellh/mapstructure"
)

// DaemonConfig configures the daemon process itself.
type DaemonConfig struct {
	Socket              string `yaml:"socket,omitempty" toml:"socket,omitempty" jsonschema:"description=Unix socket path (default: runtime dir)"`
	PidFile             string `yaml:"pid_file,omitempty" toml:"pid_file,omitempty" jsonschema:"description=Pid file path (default: runtime dir)"`
	ReapIntervalSeconds int    `yaml:"reap_interval_seconds,omitempty" toml:"reap_interval_seconds,omitempty" jsonschema:"description=How often watched sessions are checked for a dead owner process,minimum=1"`
	ShutdownTimeoutSecs int    `yaml:"shutdown_timeout_seconds,omitempty" toml:"shutdown_timeout_seconds,omitempty" jsonschema:"description=Grace period for in-flight requests on stop,minimum=1"`
}

// ThrottleConfig is the per-uid speculative request policy.
type ThrottleConfig struct {
	WindowSeconds          int `json:"window_seconds,omitempty" yaml:"window_seconds,omitempty" toml:"window_seconds,omitempty" jsonschema:"description=Length of the sliding window,minimum=1"`
	MaxRequests            int `json:"max_requests,omitempty" yaml:"max_requests,omitempty" toml:"max_requests,omitempty" jsonschema:"description=Speculative requests allowed per window,minimum=1"`
	BanAfterDenials        int `json:"ban_after_denials,omitempty" yaml:"ban_after_denials" toml:"ban_after_denials" jsonschema:"description=Consecutive denials before a uid is banned (0 disables),minimum=0"`
	PersistIntervalSeconds int `json:"persist_interval_seconds,omitempty" yaml:"persist_interval_seconds,omitempty" toml:"persist_interval_seconds,omitempty" jsonschema:"description=How often throttle state is flushed to disk,minimum=1"`
}

// Window returns the sliding window as a duration.
func (t ThrottleConfig) Window() time.Duration {
	return time.Duration(t.WindowSeconds) * time.Second
}

// SpeculationConfig selects and tunes the hidden tab backend.
type SpeculationConfig struct {
	Engine              string                  `yaml:"engine,omitempty" toml:"engine,omitempty" jsonschema:"description=Hidden tab backend,enum=http,enum=rod,enum=none"`
	RequireWarmup       *bool                   `yaml:"require_warmup,omitempty" toml:"require_warmup,omitempty" jsonschema:"description=Refuse may-launch until warmup was called (default: true)"`
	PrefetchMaxBytes    int64                   `yaml:"prefetch_max_bytes,omitempty" toml:"prefetch_max_bytes,omitempty" jsonschema:"description=Body size cap for the http engine,minimum=1"`
	FetchTimeoutMs      int                     `yaml:"fetch_timeout_ms,omitempty" toml:"fetch_timeout_ms,omitempty" jsonschema:"description=Timeout of a hidden tab load,minimum=1"`
	PreconnectTimeoutMs int                     `yaml:"preconnect_timeout_ms,omitempty" toml:"preconnect_timeout_ms,omitempty" jsonschema:"description=Timeout of a best-effort preconnect,minimum=1"`
	Rod                 RodConfig               `yaml:"rod,omitempty" toml:"rod,omitempty" jsonschema:"description=Chrome settings for the rod engine"`
	DefaultFlags        *models.PermissionFlags `yaml:"default_flags,omitempty" toml:"default_flags,omitempty" jsonschema:"description=Permission flags new sessions start with"`
	WarmOrigins         []string                `yaml:"warm_origins,omitempty" toml:"warm_origins,omitempty" jsonschema:"description=Origins preconnected when the network predictor starts during the first warmup"`
}

// RequiresWarmup reports whether may-launch is gated on warmup.
func (s SpeculationConfig) RequiresWarmup() bool {
	return s.RequireWarmup == nil || *s.RequireWarmup
}

// RodConfig configures the Chrome instance driven by the rod engine.
type RodConfig struct {
	ControlURL string `yaml:"control_url,omitempty" toml:"control_url,omitempty" jsonschema:"description=DevTools websocket url of a running Chrome; launched when empty"`
	Bin        string `yaml:"bin,omitempty" toml:"bin,omitempty" jsonschema:"description=Chrome binary used when launching"`
	Headless   *bool  `yaml:"headless,omitempty" toml:"headless,omitempty" jsonschema:"description=Launch Chrome headless (default: true)"`
}

// IsHeadless defaults to true.
func (r RodConfig) IsHeadless() bool {
	return r.Headless == nil || *r.Headless
}

// PolicyConfig holds the device and network conditions speculation is gated on.
type PolicyConfig struct {
	DeviceClass              string   `json:"device_class,omitempty" yaml:"device_class,omitempty" toml:"device_class,omitempty" jsonschema:"description=Device class; speculation is disabled on low_end,enum=standard,enum=low_end"`
	ThirdPartyCookiesBlocked bool     `json:"third_party_cookies_blocked,omitempty" yaml:"third_party_cookies_blocked" toml:"third_party_cookies_blocked" jsonschema:"description=Block speculation when third-party cookies are blocked"`
	NetworkPrediction        *bool    `json:"network_prediction,omitempty" yaml:"network_prediction,omitempty" toml:"network_prediction,omitempty" jsonschema:"description=Network prediction enabled (default: true)"`
	DataSaver                bool     `json:"data_saver,omitempty" yaml:"data_saver" toml:"data_saver" jsonschema:"description=Data saver is on"`
	MeteredNetwork           bool     `json:"metered_network,omitempty" yaml:"metered_network" toml:"metered_network" jsonschema:"description=The active network is metered"`
	BackgroundUIDs           []uint32 `json:"background_uids,omitempty" yaml:"background_uids,omitempty" toml:"background_uids,omitempty" jsonschema:"description=Uids allowed to warm up without being in the foreground"`
}

// NetworkPredictionEnabled defaults to true.
func (p PolicyConfig) NetworkPredictionEnabled() bool {
	return p.NetworkPrediction == nil || *p.NetworkPrediction
}

// OriginsConfig configures app to web origin verification.
type OriginsConfig struct {
	// Links maps a package name to origin host patterns it is associated with.
	Links           map[string][]string `yaml:"links,omitempty" toml:"links,omitempty" jsonschema:"description=Static origin host patterns per package"`
	Online          bool                `yaml:"online" toml:"online" jsonschema:"description=Fetch /.well-known/assetlinks.json when no static link matches"`
	CacheTTLSeconds int                 `yaml:"cache_ttl_seconds,omitempty" toml:"cache_ttl_seconds,omitempty" jsonschema:"description=How long verification results are cached,minimum=1"`
}

// Config is the tabsd configuration document.
type Config struct {
	Version     string            `yaml:"version" toml:"version" jsonschema:"description=Configuration version (e.g. 1.0)"`
	Daemon      DaemonConfig      `yaml:"daemon,omitempty" toml:"daemon,omitempty" jsonschema:"description=Daemon process settings"`
	Throttle    ThrottleConfig    `yaml:"throttle,omitempty" toml:"throttle,omitempty" jsonschema:"description=Per-uid speculative request limits"`
	Speculation SpeculationConfig `yaml:"speculation,omitempty" toml:"speculation,omitempty" jsonschema:"description=Hidden tab backend"`
	Policy      PolicyConfig      `yaml:"policy,omitempty" toml:"policy,omitempty" jsonschema:"description=Speculation policy inputs"`
	Origins     OriginsConfig     `yaml:"origins,omitempty" toml:"origins,omitempty" jsonschema:"description=Origin verification"`

	// Extensions captures all other top-level keys for extensibility.
	Extensions map[string]interface{} `yaml:",inline" toml:"-" jsonschema:"-"`
}

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}

	if c.Daemon.ReapIntervalSeconds == 0 {
		c.Daemon.ReapIntervalSeconds = 5
	}
	if c.Daemon.ShutdownTimeoutSecs == 0 {
		c.Daemon.ShutdownTimeoutSecs = 5
	}

	if c.Throttle.WindowSeconds == 0 {
		c.Throttle.WindowSeconds = 60
	}
	if c.Throttle.MaxRequests == 0 {
		c.Throttle.MaxRequests = 10
	}
	if c.Throttle.PersistIntervalSeconds == 0 {
		c.Throttle.PersistIntervalSeconds = 30
	}

	if c.Speculation.Engine == "" {
		c.Speculation.Engine = "http"
	}
	if c.Speculation.PrefetchMaxBytes == 0 {
		c.Speculation.PrefetchMaxBytes = 4 << 20
	}
	if c.Speculation.FetchTimeoutMs == 0 {
		c.Speculation.FetchTimeoutMs = 10000
	}
	if c.Speculation.PreconnectTimeoutMs == 0 {
		c.Speculation.PreconnectTimeoutMs = 2000
	}
	if c.Speculation.DefaultFlags == nil {
		c.Speculation.DefaultFlags = &models.PermissionFlags{CanUseHiddenTab: true}
	}

	if c.Policy.DeviceClass == "" {
		c.Policy.DeviceClass = "standard"
	}

	if c.Origins.CacheTTLSeconds == 0 {
		c.Origins.CacheTTLSeconds = 3600
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// UnmarshalExtension decodes a specific extension's configuration from the
// loaded tabsd.yml into the provided target struct. The target must be a pointer.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		// It's not an error if the key doesn't exist.
		// The target struct will simply remain zero-valued.
		return nil
	}

	// Decode with `yaml` tags so extension structs need a single set of tags.
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
