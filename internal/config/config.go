package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"gigstream/internal/logging"
	"gigstream/internal/ratelimit"
)

// Route names guarded by the rate limiter
const (
	RouteStream    = "stream"
	RouteWebSocket = "ws"
	RouteNotify    = "notify"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP      *HTTPConfig
	Auth      *AuthConfig
	Stream    *StreamConfig
	RateLimit *RateLimitConfig
	Logging   *LoggingConfig
}

// HTTPConfig controls the listener. WriteTimeout applies to plain API calls;
// stream handlers clear it for their own connections.
// TrustedProxies lists the peers (IPs or CIDRs) whose X-Forwarded-For and
// X-Real-IP headers name the client; empty means rate limits key on the socket peer.
type HTTPConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TrustedProxies  []string
}

// AuthConfig gates both sides of the fan-out.
// TrustUserHeader lets stream clients name themselves via X-User-ID or ?user_id=,
// which is only safe behind a gateway that sets the header. Off by default:
// the binary then refuses every stream until an authenticator is supplied.
// NotifyToken is the shared bearer secret for POST /api/notifications;
// the route is not served while it is empty.
type AuthConfig struct {
	TrustUserHeader bool
	NotifyToken     string
}

// minNotifyTokenLength keeps the shared secret out of guessing range
const minNotifyTokenLength = 16

// StreamConfig holds push-channel tunables
type StreamConfig struct {
	KeepaliveInterval     time.Duration
	SinkBuffer            int
	WebSocketWriteTimeout time.Duration
	InboundRate           float64
	InboundBurst          int
}

// RateLimitConfig holds the fixed-window policies per route.
// Routes only carries explicit overrides; every other route follows Default.
type RateLimitConfig struct {
	SweepInterval time.Duration
	Default       ratelimit.Policy
	Routes        map[string]ratelimit.Policy
}

// PolicyFor returns the route's policy, or the default when none is configured
func (c *RateLimitConfig) PolicyFor(route string) ratelimit.Policy {
	if p, ok := c.Routes[route]; ok {
		return p
	}
	return c.Default
}

type LoggingConfig struct {
	Level   string
	Console bool
}

// FUNCTIONAL DISCOVERY: Production-ready defaults
// 30s keepalive keeps idle streams alive through common proxy idle timeouts
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Auth: &AuthConfig{
			TrustUserHeader: false,
		},
		Stream: &StreamConfig{
			KeepaliveInterval:     30 * time.Second,
			SinkBuffer:            64,
			WebSocketWriteTimeout: 10 * time.Second,
			InboundRate:           5,
			InboundBurst:          20,
		},
		RateLimit: &RateLimitConfig{
			SweepInterval: ratelimit.DefaultSweepInterval,
			Default:       ratelimit.DefaultPolicy(),
			// Stream and websocket handshakes follow Default. The notify route is
			// called by backend services and carries their aggregate traffic.
			Routes: map[string]ratelimit.Policy{
				RouteNotify: {Window: time.Minute, MaxAttempts: 1200},
			},
		},
		Logging: &LoggingConfig{
			Level:   "info",
			Console: false,
		},
	}
}

// Validate rejects configurations that would fail at runtime
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP shutdown timeout must be positive")
	}
	if _, err := ratelimit.NewProxyTrust(c.HTTP.TrustedProxies); err != nil {
		return fmt.Errorf("HTTP trusted proxies: %w", err)
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if c.Auth.NotifyToken != "" && len(c.Auth.NotifyToken) < minNotifyTokenLength {
		return fmt.Errorf("auth notify token must be at least %d characters", minNotifyTokenLength)
	}

	if c.Stream == nil {
		return fmt.Errorf("stream configuration is required")
	}
	if c.Stream.KeepaliveInterval <= 0 {
		return fmt.Errorf("stream keepalive interval must be positive")
	}
	if c.Stream.SinkBuffer <= 0 {
		return fmt.Errorf("stream sink buffer must be positive")
	}
	if c.Stream.WebSocketWriteTimeout <= 0 {
		return fmt.Errorf("websocket write timeout must be positive")
	}
	if c.Stream.InboundRate <= 0 || c.Stream.InboundBurst <= 0 {
		return fmt.Errorf("websocket inbound rate and burst must be positive")
	}

	if c.RateLimit == nil {
		return fmt.Errorf("rate limit configuration is required")
	}
	if c.RateLimit.SweepInterval <= 0 {
		return fmt.Errorf("rate limit sweep interval must be positive")
	}
	if err := validatePolicy("default", c.RateLimit.Default); err != nil {
		return err
	}
	for route, p := range c.RateLimit.Routes {
		if err := validatePolicy(route, p); err != nil {
			return err
		}
	}

	if c.Logging == nil {
		return fmt.Errorf("logging configuration is required")
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

func validatePolicy(name string, p ratelimit.Policy) error {
	if p.Window <= 0 {
		return fmt.Errorf("rate limit policy %s: window must be positive", name)
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("rate limit policy %s: max attempts must be positive", name)
	}
	return nil
}

// Load builds the effective configuration: defaults, then environment, then
// the file at path (if any). The file wins so deployments can pin values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv applies GIGSTREAM_* variables over the defaults
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Supports containerized deployments and configuration management systems
func applyEnv(cfg *Config) error {
	var err error
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" && err == nil {
			n, convErr := strconv.Atoi(v)
			if convErr != nil {
				err = fmt.Errorf("%s: %w", key, convErr)
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" && err == nil {
			d, parseErr := time.ParseDuration(v)
			if parseErr != nil {
				err = fmt.Errorf("%s: %w", key, parseErr)
				return
			}
			*dst = d
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" && err == nil {
			b, parseErr := strconv.ParseBool(v)
			if parseErr != nil {
				err = fmt.Errorf("%s: %w", key, parseErr)
				return
			}
			*dst = b
		}
	}

	setString("GIGSTREAM_HTTP_HOST", &cfg.HTTP.Host)
	setInt("GIGSTREAM_HTTP_PORT", &cfg.HTTP.Port)
	setDuration("GIGSTREAM_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	setDuration("GIGSTREAM_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	setDuration("GIGSTREAM_HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout)
	if v := os.Getenv("GIGSTREAM_HTTP_TRUSTED_PROXIES"); v != "" {
		cfg.HTTP.TrustedProxies = splitList(v)
	}

	setBool("GIGSTREAM_AUTH_TRUST_USER_HEADER", &cfg.Auth.TrustUserHeader)
	setString("GIGSTREAM_AUTH_NOTIFY_TOKEN", &cfg.Auth.NotifyToken)

	setDuration("GIGSTREAM_STREAM_KEEPALIVE_INTERVAL", &cfg.Stream.KeepaliveInterval)
	setInt("GIGSTREAM_STREAM_SINK_BUFFER", &cfg.Stream.SinkBuffer)

	setDuration("GIGSTREAM_RATE_LIMIT_SWEEP_INTERVAL", &cfg.RateLimit.SweepInterval)
	setDuration("GIGSTREAM_RATE_LIMIT_WINDOW", &cfg.RateLimit.Default.Window)
	setInt("GIGSTREAM_RATE_LIMIT_MAX_ATTEMPTS", &cfg.RateLimit.Default.MaxAttempts)

	setString("GIGSTREAM_LOG_LEVEL", &cfg.Logging.Level)
	setBool("GIGSTREAM_LOG_CONSOLE", &cfg.Logging.Console)

	return err
}

// splitList parses a comma-separated environment value, dropping blanks
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ConfigFile is the on-disk shape; durations are strings such as "30s"
// FUNCTIONAL DISCOVERY: Separate struct for parsing to handle duration strings
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http" yaml:"http"`
	Auth      *AuthConfigFile      `json:"auth" yaml:"auth"`
	Stream    *StreamConfigFile    `json:"stream" yaml:"stream"`
	RateLimit *RateLimitConfigFile `json:"rate_limit" yaml:"rate_limit"`
	Logging   *LoggingConfigFile   `json:"logging" yaml:"logging"`
}

type HTTPConfigFile struct {
	Host            string   `json:"host" yaml:"host"`
	Port            int      `json:"port" yaml:"port"`
	ReadTimeout     string   `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    string   `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout string   `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	TrustedProxies  []string `json:"trusted_proxies,omitempty" yaml:"trusted_proxies,omitempty"`
}

type AuthConfigFile struct {
	TrustUserHeader *bool  `json:"trust_user_header" yaml:"trust_user_header"`
	NotifyToken     string `json:"notify_token,omitempty" yaml:"notify_token,omitempty"`
}

type StreamConfigFile struct {
	KeepaliveInterval     string  `json:"keepalive_interval" yaml:"keepalive_interval"`
	SinkBuffer            int     `json:"sink_buffer" yaml:"sink_buffer"`
	WebSocketWriteTimeout string  `json:"websocket_write_timeout" yaml:"websocket_write_timeout"`
	InboundRate           float64 `json:"inbound_rate" yaml:"inbound_rate"`
	InboundBurst          int     `json:"inbound_burst" yaml:"inbound_burst"`
}

type PolicyFile struct {
	Window      string `json:"window" yaml:"window"`
	MaxAttempts int    `json:"max_attempts" yaml:"max_attempts"`
}

type RateLimitConfigFile struct {
	SweepInterval string                `json:"sweep_interval" yaml:"sweep_interval"`
	Default       *PolicyFile           `json:"default" yaml:"default"`
	Routes        map[string]PolicyFile `json:"routes" yaml:"routes"`
}

type LoggingConfigFile struct {
	Level   string `json:"level" yaml:"level"`
	Console *bool  `json:"console" yaml:"console"`
}

// LoadFromFile reads a JSON or YAML file (by extension) over the defaults
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyFile(cfg, path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := file.apply(cfg); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

// apply overlays every field present in the file onto cfg
func (f *ConfigFile) apply(cfg *Config) error {
	if h := f.HTTP; h != nil {
		if h.Host != "" {
			cfg.HTTP.Host = h.Host
		}
		if h.Port > 0 {
			cfg.HTTP.Port = h.Port
		}
		if err := parseDuration("http.read_timeout", h.ReadTimeout, &cfg.HTTP.ReadTimeout); err != nil {
			return err
		}
		if err := parseDuration("http.write_timeout", h.WriteTimeout, &cfg.HTTP.WriteTimeout); err != nil {
			return err
		}
		if err := parseDuration("http.shutdown_timeout", h.ShutdownTimeout, &cfg.HTTP.ShutdownTimeout); err != nil {
			return err
		}
		if h.TrustedProxies != nil {
			cfg.HTTP.TrustedProxies = h.TrustedProxies
		}
	}

	if a := f.Auth; a != nil {
		if a.TrustUserHeader != nil {
			cfg.Auth.TrustUserHeader = *a.TrustUserHeader
		}
		if a.NotifyToken != "" {
			cfg.Auth.NotifyToken = a.NotifyToken
		}
	}

	if s := f.Stream; s != nil {
		if err := parseDuration("stream.keepalive_interval", s.KeepaliveInterval, &cfg.Stream.KeepaliveInterval); err != nil {
			return err
		}
		if err := parseDuration("stream.websocket_write_timeout", s.WebSocketWriteTimeout, &cfg.Stream.WebSocketWriteTimeout); err != nil {
			return err
		}
		if s.SinkBuffer > 0 {
			cfg.Stream.SinkBuffer = s.SinkBuffer
		}
		if s.InboundRate > 0 {
			cfg.Stream.InboundRate = s.InboundRate
		}
		if s.InboundBurst > 0 {
			cfg.Stream.InboundBurst = s.InboundBurst
		}
	}

	if r := f.RateLimit; r != nil {
		if err := parseDuration("rate_limit.sweep_interval", r.SweepInterval, &cfg.RateLimit.SweepInterval); err != nil {
			return err
		}
		if r.Default != nil {
			if err := r.Default.apply("rate_limit.default", &cfg.RateLimit.Default); err != nil {
				return err
			}
		}
		for route, pf := range r.Routes {
			p, ok := cfg.RateLimit.Routes[route]
			if !ok {
				p = cfg.RateLimit.Default
			}
			if err := pf.apply("rate_limit.routes."+route, &p); err != nil {
				return err
			}
			cfg.RateLimit.Routes[route] = p
		}
	}

	if l := f.Logging; l != nil {
		if l.Level != "" {
			cfg.Logging.Level = l.Level
		}
		if l.Console != nil {
			cfg.Logging.Console = *l.Console
		}
	}
	return nil
}

func (pf PolicyFile) apply(name string, p *ratelimit.Policy) error {
	if err := parseDuration(name+".window", pf.Window, &p.Window); err != nil {
		return err
	}
	if pf.MaxAttempts > 0 {
		p.MaxAttempts = pf.MaxAttempts
	}
	return nil
}

func parseDuration(name, value string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}

// ToFile renders cfg in the on-disk shape, for printing the effective config
func (c *Config) ToFile() *ConfigFile {
	routes := make(map[string]PolicyFile, len(c.RateLimit.Routes))
	for route, p := range c.RateLimit.Routes {
		routes[route] = policyFile(p)
	}
	def := policyFile(c.RateLimit.Default)
	console := c.Logging.Console
	trustHeader := c.Auth.TrustUserHeader

	return &ConfigFile{
		HTTP: &HTTPConfigFile{
			Host:            c.HTTP.Host,
			Port:            c.HTTP.Port,
			ReadTimeout:     c.HTTP.ReadTimeout.String(),
			WriteTimeout:    c.HTTP.WriteTimeout.String(),
			ShutdownTimeout: c.HTTP.ShutdownTimeout.String(),
			TrustedProxies:  c.HTTP.TrustedProxies,
		},
		Auth: &AuthConfigFile{
			TrustUserHeader: &trustHeader,
			NotifyToken:     c.Auth.NotifyToken,
		},
		Stream: &StreamConfigFile{
			KeepaliveInterval:     c.Stream.KeepaliveInterval.String(),
			SinkBuffer:            c.Stream.SinkBuffer,
			WebSocketWriteTimeout: c.Stream.WebSocketWriteTimeout.String(),
			InboundRate:           c.Stream.InboundRate,
			InboundBurst:          c.Stream.InboundBurst,
		},
		RateLimit: &RateLimitConfigFile{
			SweepInterval: c.RateLimit.SweepInterval.String(),
			Default:       &def,
			Routes:        routes,
		},
		Logging: &LoggingConfigFile{
			Level:   c.Logging.Level,
			Console: &console,
		},
	}
}

func policyFile(p ratelimit.Policy) PolicyFile {
	return PolicyFile{Window: p.Window.String(), MaxAttempts: p.MaxAttempts}
}
