// Package config loads the fedsigd configuration.
//
// Configuration is read from a single YAML file named by the --config flag
// (via LoadFile) or the FEDSIG_CONFIG environment variable (via Load).
// There is no automatic file discovery.
//
// ${VAR} and ${VAR:-default} patterns in secret-bearing fields (the
// database DSN and the redis password) are expanded from the environment
// so secrets need not be written to the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable consulted by Load.
const EnvConfigPath = "FEDSIG_CONFIG"

// Backend and driver names.
const (
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the fedsigd configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Federation FederationConfig `yaml:"federation"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Store      StoreConfig      `yaml:"store"`
	Policy     PolicyConfig     `yaml:"policy"`
	Signature  SignatureConfig  `yaml:"signature"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Listen is the address to serve on.
	// Default: :8080
	Listen string `yaml:"listen"`

	// TrustedProxies lists proxies whose forwarding headers are believed
	// when deriving the client address used for circuit breaking. Empty
	// means RemoteAddr is used as is.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// FederationConfig configures outbound identity fetches.
type FederationConfig struct {
	// LocalDomain is the host this server answers on. Required.
	LocalDomain string `yaml:"local_domain"`

	// FetchTimeout bounds every outbound request.
	// Default: 5s
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// AllowHTTP permits plain http fetches. Development only.
	AllowHTTP bool `yaml:"allow_http"`

	// AllowPrivate permits fetches to loopback and private addresses.
	// Development only.
	AllowPrivate bool `yaml:"allow_private"`

	// UserAgent is sent with every fetch.
	UserAgent string `yaml:"user_agent"`
}

// BreakerConfig configures the circuit breaker around fetches.
type BreakerConfig struct {
	// Threshold is the number of transport failures that opens the
	// breaker for a source.
	// Default: 1
	Threshold int `yaml:"threshold"`

	// CoolOff is how long an open breaker short-circuits.
	// Default: 5m
	CoolOff time.Duration `yaml:"cool_off"`

	// Backend is "memory" or "redis".
	// Default: memory
	Backend string `yaml:"backend"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis breaker backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// StoreConfig configures the identity store.
type StoreConfig struct {
	// Driver is "memory" or "postgres".
	// Default: memory
	Driver string `yaml:"driver"`

	// DSN is the postgres connection string.
	DSN string `yaml:"dsn"`

	// StaleAfter is the age after which a cached identity is refreshed in
	// full rather than key only.
	// Default: 24h
	StaleAfter time.Duration `yaml:"stale_after"`
}

// PolicyConfig configures the domain policy.
type PolicyConfig struct {
	// BlockedDomains are refused along with their subdomains.
	BlockedDomains []string `yaml:"blocked_domains"`

	// AllowedDomains, when set, refuses every other domain.
	AllowedDomains []string `yaml:"allowed_domains"`

	// RegoFile is an optional Rego module evaluated after the static
	// lists.
	RegoFile string `yaml:"rego_file"`
}

// SignatureConfig configures signature parsing.
type SignatureConfig struct {
	// StrictParams rejects Signature headers with malformed segments.
	StrictParams bool `yaml:"strict_params"`

	// MaxBodySize bounds the request body hashed for the digest line.
	// Default: 1048576
	MaxBodySize int64 `yaml:"max_body_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	// Default: info
	Level string `yaml:"level"`

	// Format is text or json.
	// Default: text
	Format string `yaml:"format"`
}

// Default returns the configuration used as a base before the file is
// applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: ":8080",
		},
		Federation: FederationConfig{
			FetchTimeout: 5 * time.Second,
			UserAgent:    "fedsig (+https://github.com/vitalvas/fedsig)",
		},
		Breaker: BreakerConfig{
			Threshold: 1,
			CoolOff:   5 * time.Minute,
			Backend:   BackendMemory,
			Redis: RedisConfig{
				Prefix: "fedsig:breaker:",
			},
		},
		Store: StoreConfig{
			Driver:     DriverMemory,
			StaleAfter: 24 * time.Hour,
		},
		Signature: SignatureConfig{
			MaxBodySize: 1 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads the file named by FEDSIG_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your fedsig.yaml config file, or use --config flag", EnvConfigPath)
	}

	return LoadFile(path)
}

// LoadFile loads configuration from path over Default and validates it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes YAML data over Default and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) expandVariables() {
	c.Store.DSN = expandVars(c.Store.DSN)
	c.Breaker.Redis.Addr = expandVars(c.Breaker.Redis.Addr)
	c.Breaker.Redis.Password = expandVars(c.Breaker.Redis.Password)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)

		if value := os.Getenv(parts[1]); value != "" {
			return value
		}

		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}

	if c.Federation.LocalDomain == "" {
		errs = append(errs, errors.New("federation.local_domain is required"))
	}

	if c.Federation.FetchTimeout <= 0 {
		errs = append(errs, errors.New("federation.fetch_timeout must be positive"))
	}

	if c.Breaker.Threshold < 1 {
		errs = append(errs, errors.New("breaker.threshold must be at least 1"))
	}

	if c.Breaker.CoolOff <= 0 {
		errs = append(errs, errors.New("breaker.cool_off must be positive"))
	}

	switch c.Breaker.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Breaker.Redis.Addr == "" {
			errs = append(errs, errors.New("breaker.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("breaker.backend must be one of: %v", []string{BackendMemory, BackendRedis}))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be one of: %v", []string{DriverMemory, DriverPostgres}))
	}

	if c.Store.StaleAfter <= 0 {
		errs = append(errs, errors.New("store.stale_after must be positive"))
	}

	if c.Signature.MaxBodySize <= 0 {
		errs = append(errs, errors.New("signature.max_body_size must be positive"))
	}

	for _, domain := range c.Policy.AllowedDomains {
		if slices.Contains(c.Policy.BlockedDomains, domain) {
			errs = append(errs, fmt.Errorf("policy: %s is both allowed and blocked", domain))
		}
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", []string{"text", "json"}))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// SlogLevel returns the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}

	return level, nil
}
