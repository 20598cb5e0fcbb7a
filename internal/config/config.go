// Package config provides configuration management for browserpilot.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
)

// FileConfig is the YAML configuration structure. Durations are strings
// ("30s", "5m") parsed during Resolve.
type FileConfig struct {
	LogLevel string `yaml:"logLevel,omitempty"`

	API     APIConfig     `yaml:"api"`
	Auth    AuthConfig    `yaml:"auth"`
	Pool    PoolConfig    `yaml:"pool,omitempty"`
	Stream  StreamConfig  `yaml:"stream,omitempty"`
	Store   StoreConfig   `yaml:"store,omitempty"`
	Notify  NotifyConfig  `yaml:"notify,omitempty"`
	Browser BrowserConfig `yaml:"browser,omitempty"`
	Safety  SafetyConfig  `yaml:"safety,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// APIConfig holds the HTTP listener settings.
type APIConfig struct {
	Listen        string `yaml:"listen,omitempty"`
	RateLimit     int    `yaml:"rateLimit,omitempty"` // requests/min per tenant
	ReadTimeout   string `yaml:"readTimeout,omitempty"`
	WriteTimeout  string `yaml:"writeTimeout,omitempty"`
	ShutdownGrace string `yaml:"shutdownGrace,omitempty"`
}

// AuthConfig holds bearer-token settings.
type AuthConfig struct {
	Secret   string `yaml:"secret,omitempty"` // HS256 signing secret
	Issuer   string `yaml:"issuer,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"` // development only
}

// PoolConfig bounds the session pool and its sweeper.
type PoolConfig struct {
	IdleTimeout       string `yaml:"idleTimeout,omitempty"`       // default 30m
	HeartbeatTimeout  string `yaml:"heartbeatTimeout,omitempty"`  // default 60s
	SweepInterval     string `yaml:"sweepInterval,omitempty"`     // default 5m
	LiveStreamTimeout string `yaml:"liveStreamTimeout,omitempty"` // default 60s
	HeartbeatHint     string `yaml:"heartbeatHint,omitempty"`     // default 30s
	CommandTimeout    string `yaml:"commandTimeout,omitempty"`    // default 30s
	ScreenshotTimeout string `yaml:"screenshotTimeout,omitempty"` // default 60s
	EvaluateTimeout   string `yaml:"evaluateTimeout,omitempty"`   // default 30s
	MaxProfiles       int    `yaml:"maxProfilesPerTenant,omitempty"`
}

// StreamConfig holds MJPEG/WebRTC producer defaults.
type StreamConfig struct {
	MJPEGFPS     int `yaml:"mjpegFps,omitempty"`     // default 10, max 30
	MJPEGQuality int `yaml:"mjpegQuality,omitempty"` // default 80
	WebRTCFPS    int `yaml:"webrtcFps,omitempty"`    // default 15
}

// StoreConfig selects the profile/plugin store backend.
type StoreConfig struct {
	Backend string `yaml:"backend,omitempty"` // "sqlite" or "memory"
	Path    string `yaml:"path,omitempty"`    // sqlite file
}

// NotifyConfig configures the push-notification dispatcher.
type NotifyConfig struct {
	RedisAddr  string `yaml:"redisAddr,omitempty"` // empty disables pushes
	Queue      string `yaml:"queue,omitempty"`
	BufferSize int    `yaml:"bufferSize,omitempty"`
}

// BrowserConfig configures the browser driver.
type BrowserConfig struct {
	ExecPath    string `yaml:"execPath,omitempty"`
	NoSandbox   bool   `yaml:"noSandbox,omitempty"`
	OpenTimeout string `yaml:"openTimeout,omitempty"` // default 60s
}

// SafetyConfig controls the script checker.
type SafetyConfig struct {
	Strict bool `yaml:"strict,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// AppConfig is the resolved runtime configuration.
type AppConfig struct {
	LogLevel string

	Listen        string
	RateLimit     int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	AuthSecret   string
	AuthIssuer   string
	AuthDisabled bool

	CleanupPolicy     model.CleanupPolicy
	LiveStreamTimeout time.Duration
	HeartbeatHint     time.Duration
	CommandTimeout    time.Duration
	ScreenshotTimeout time.Duration
	EvaluateTimeout   time.Duration
	MaxProfiles       int

	MJPEGFPS     int
	MJPEGQuality int
	WebRTCFPS    int

	StoreBackend string
	StorePath    string

	RedisAddr        string
	NotifyQueue      string
	NotifyBufferSize int

	BrowserExecPath    string
	BrowserNoSandbox   bool
	BrowserOpenTimeout time.Duration

	SafetyStrict   bool
	MetricsEnabled bool
}

// Load reads the YAML file (optional), applies environment overrides and
// resolves defaults. A missing path yields the pure default configuration.
func Load(path string) (AppConfig, error) {
	var fc FileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return AppConfig{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return AppConfig{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&fc)
	return fc.Resolve()
}

// Environment overrides use the BROWSERPILOT_ prefix and beat file values.
func applyEnv(fc *FileConfig) {
	if v := os.Getenv("BROWSERPILOT_LISTEN"); v != "" {
		fc.API.Listen = v
	}
	if v := os.Getenv("BROWSERPILOT_LOG_LEVEL"); v != "" {
		fc.LogLevel = v
	}
	if v := os.Getenv("BROWSERPILOT_AUTH_SECRET"); v != "" {
		fc.Auth.Secret = v
	}
	if v := os.Getenv("BROWSERPILOT_REDIS_ADDR"); v != "" {
		fc.Notify.RedisAddr = v
	}
	if v := os.Getenv("BROWSERPILOT_STORE_PATH"); v != "" {
		fc.Store.Path = v
		if fc.Store.Backend == "" {
			fc.Store.Backend = "sqlite"
		}
	}
	if v := os.Getenv("BROWSERPILOT_BROWSER_PATH"); v != "" {
		fc.Browser.ExecPath = v
	}
	if v := os.Getenv("BROWSERPILOT_SWEEP_INTERVAL"); v != "" {
		fc.Pool.SweepInterval = v
	}
	if v := os.Getenv("BROWSERPILOT_MAX_PROFILES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			fc.Pool.MaxProfiles = n
		}
	}
}

// Resolve parses durations, fills defaults and validates ranges.
func (fc FileConfig) Resolve() (AppConfig, error) {
	cfg := AppConfig{
		LogLevel:         fc.LogLevel,
		Listen:           fc.API.Listen,
		RateLimit:        fc.API.RateLimit,
		AuthSecret:       fc.Auth.Secret,
		AuthIssuer:       fc.Auth.Issuer,
		AuthDisabled:     fc.Auth.Disabled,
		MaxProfiles:      fc.Pool.MaxProfiles,
		MJPEGFPS:         fc.Stream.MJPEGFPS,
		MJPEGQuality:     fc.Stream.MJPEGQuality,
		WebRTCFPS:        fc.Stream.WebRTCFPS,
		StoreBackend:     fc.Store.Backend,
		StorePath:        fc.Store.Path,
		RedisAddr:        fc.Notify.RedisAddr,
		NotifyQueue:      fc.Notify.Queue,
		NotifyBufferSize: fc.Notify.BufferSize,
		BrowserExecPath:  fc.Browser.ExecPath,
		BrowserNoSandbox: fc.Browser.NoSandbox,
		SafetyStrict:     fc.Safety.Strict,
		MetricsEnabled:   fc.Metrics.Enabled == nil || *fc.Metrics.Enabled,
	}

	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 600
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "memory"
	}
	if cfg.NotifyQueue == "" {
		cfg.NotifyQueue = "browserpilot:notifications"
	}
	if cfg.NotifyBufferSize <= 0 {
		cfg.NotifyBufferSize = 256
	}

	var err error
	parse := func(name, raw string, def time.Duration) time.Duration {
		if err != nil {
			return 0
		}
		if raw == "" {
			return def
		}
		d, perr := time.ParseDuration(raw)
		if perr != nil {
			err = fmt.Errorf("%s: %w", name, perr)
			return 0
		}
		return d
	}

	cfg.ReadTimeout = parse("api.readTimeout", fc.API.ReadTimeout, 30*time.Second)
	cfg.WriteTimeout = parse("api.writeTimeout", fc.API.WriteTimeout, 0) // streaming responses
	cfg.ShutdownGrace = parse("api.shutdownGrace", fc.API.ShutdownGrace, 15*time.Second)

	cfg.CleanupPolicy = model.CleanupPolicy{
		MaxIdle:        parse("pool.idleTimeout", fc.Pool.IdleTimeout, 30*time.Minute),
		MaxNoHeartbeat: parse("pool.heartbeatTimeout", fc.Pool.HeartbeatTimeout, 60*time.Second),
		SweepInterval:  parse("pool.sweepInterval", fc.Pool.SweepInterval, 5*time.Minute),
	}
	cfg.LiveStreamTimeout = parse("pool.liveStreamTimeout", fc.Pool.LiveStreamTimeout, 60*time.Second)
	cfg.HeartbeatHint = parse("pool.heartbeatHint", fc.Pool.HeartbeatHint, 30*time.Second)
	cfg.CommandTimeout = parse("pool.commandTimeout", fc.Pool.CommandTimeout, 30*time.Second)
	cfg.ScreenshotTimeout = parse("pool.screenshotTimeout", fc.Pool.ScreenshotTimeout, 60*time.Second)
	cfg.EvaluateTimeout = parse("pool.evaluateTimeout", fc.Pool.EvaluateTimeout, 30*time.Second)
	cfg.BrowserOpenTimeout = parse("browser.openTimeout", fc.Browser.OpenTimeout, 60*time.Second)
	if err != nil {
		return AppConfig{}, err
	}

	if cfg.MJPEGFPS <= 0 {
		cfg.MJPEGFPS = 10
	}
	if cfg.MJPEGQuality <= 0 {
		cfg.MJPEGQuality = 80
	}
	if cfg.WebRTCFPS <= 0 {
		cfg.WebRTCFPS = 15
	}

	if verr := cfg.Validate(); verr != nil {
		return AppConfig{}, verr
	}
	return cfg, nil
}

// Validate rejects out-of-range values.
func (c AppConfig) Validate() error {
	if c.MJPEGFPS < 1 || c.MJPEGFPS > 30 {
		return fmt.Errorf("stream.mjpegFps must be in 1..30, got %d", c.MJPEGFPS)
	}
	if c.MJPEGQuality < 1 || c.MJPEGQuality > 100 {
		return fmt.Errorf("stream.mjpegQuality must be in 1..100, got %d", c.MJPEGQuality)
	}
	if c.WebRTCFPS < 1 || c.WebRTCFPS > 60 {
		return fmt.Errorf("stream.webrtcFps must be in 1..60, got %d", c.WebRTCFPS)
	}
	switch c.StoreBackend {
	case "memory":
	case "sqlite":
		if c.StorePath == "" {
			return fmt.Errorf("store.path required for sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if !c.AuthDisabled && strings.TrimSpace(c.AuthSecret) == "" {
		return fmt.Errorf("auth.secret required unless auth is disabled")
	}
	if c.CleanupPolicy.MaxNoHeartbeat <= 0 || c.CleanupPolicy.MaxIdle <= 0 || c.CleanupPolicy.SweepInterval <= 0 {
		return fmt.Errorf("pool timeouts must be positive")
	}
	return nil
}
