// Package config is spec §6's "single configuration object supplied at
// startup, sourced from file or environment", plus the CLI flags an
// operator overrides it with. It follows a flat-options pattern (one
// struct, a setDefaults step, a validate step) applied to the core
// pipeline's per-subsystem tunables, with flag registration handed to
// goflags rather than a hand-rolled flag table, since goflags gives
// every flag a long/short name and a grouped -h listing for free.
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/projectdiscovery/goflags"
	"gopkg.in/yaml.v3"

	"github.com/slicingmelon/gofetch-mcp/internal/admission"
	"github.com/slicingmelon/gofetch-mcp/internal/breaker"
	"github.com/slicingmelon/gofetch-mcp/internal/fetch"
	"github.com/slicingmelon/gofetch-mcp/internal/pool"
	"github.com/slicingmelon/gofetch-mcp/internal/pool/dialer"
	"github.com/slicingmelon/gofetch-mcp/internal/ratelimit"
	"github.com/slicingmelon/gofetch-mcp/internal/scheduler"
)

// Config is spec §6's configuration table in full. Every field has a
// yaml tag so it round-trips through a config file (spec: "sourced from
// file or environment").
type Config struct {
	MaxConcurrentRequests int           `yaml:"max_concurrent_requests"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`
	ReadTimeout           time.Duration `yaml:"read_timeout"`
	WriteTimeout          time.Duration `yaml:"write_timeout"`

	Pool      PoolConfig      `yaml:"pool"`
	TLS       TLSConfig       `yaml:"tls"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Cache     CacheConfig     `yaml:"cache"`
	Security  SecurityConfig  `yaml:"security"`

	ConfigFile string `yaml:"-"`
}

type PoolConfig struct {
	MaxIdlePerHost        int           `yaml:"max_idle_per_host"`
	MaxConnectionsPerHost int           `yaml:"max_connections_per_host"`
	IdleTimeout           time.Duration `yaml:"idle_timeout"`
}

type TLSConfig struct {
	MinVersion string `yaml:"min_version"`
	MaxVersion string `yaml:"max_version"`
}

type RateLimitConfig struct {
	GlobalRate         float64       `yaml:"global_rate"`
	PerHostRate        float64       `yaml:"per_host_rate"`
	AdaptationInterval time.Duration `yaml:"adaptation_interval"`
	ErrorLow           float64       `yaml:"error_low"`
	ErrorHigh          float64       `yaml:"error_high"`
	UpFactor           float64       `yaml:"up_factor"`
	DownFactor         float64       `yaml:"down_factor"`
}

type BreakerConfig struct {
	FailureThreshold   int64         `yaml:"failure_threshold"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	HalfOpenMaxCalls   int32         `yaml:"half_open_max_calls"`
	SuccessThreshold   int32         `yaml:"success_threshold"`
	SmoothingFactor    float64       `yaml:"smoothing_factor"`
}

// CacheConfig's MaxMemorySize is interpreted as an entry-count bound, not
// a byte budget: internal/cache.ARC (spec §4.5) is sized by resident-list
// length, not payload bytes, since nothing downstream tracks per-entry
// memory footprint.
type CacheConfig struct {
	MaxMemorySize int64         `yaml:"max_memory_size"`
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	MaxEntrySize  int64         `yaml:"max_entry_size"`
}

type SecurityConfig struct {
	AllowedSchemes  []string `yaml:"allowed_schemes"`
	BlockedHosts    []string `yaml:"blocked_hosts"`
	AllowPrivateIPs bool     `yaml:"allow_private_ips"`
	MaxURLLength    int      `yaml:"max_url_length"`
}

// Default mirrors spec §6's parenthesized defaults.
func Default() Config {
	return Config{
		MaxConcurrentRequests: 10000,
		RequestTimeout:        60 * time.Second,
		ConnectTimeout:        10 * time.Second,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		Pool: PoolConfig{
			MaxIdlePerHost:        10,
			MaxConnectionsPerHost: 100,
			IdleTimeout:           90 * time.Second,
		},
		TLS: TLSConfig{
			MinVersion: "1.2",
			MaxVersion: "1.3",
		},
		RateLimit: RateLimitConfig{
			GlobalRate:         1000,
			PerHostRate:        50,
			AdaptationInterval: 30 * time.Second,
			ErrorLow:           0.01,
			ErrorHigh:          0.05,
			UpFactor:           1.1,
			DownFactor:         0.9,
		},
		Breaker: BreakerConfig{
			FailureThreshold:   5,
			ErrorRateThreshold: 0.5,
			Timeout:            5 * time.Second,
			HalfOpenMaxCalls:   1,
			SuccessThreshold:   2,
			SmoothingFactor:    0.1,
		},
		Cache: CacheConfig{
			MaxMemorySize: 10000,
			DefaultTTL:    5 * time.Minute,
			MaxEntrySize:  5 << 20,
		},
		Security: SecurityConfig{
			AllowedSchemes:  []string{"http", "https"},
			AllowPrivateIPs: false,
			MaxURLLength:    8192,
		},
	}
}

// validate rejects a config that would otherwise produce a subsystem in a
// nonsensical state.
func (c Config) validate() error {
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("max_concurrent_requests must be > 0")
	}
	if c.RateLimit.GlobalRate <= 0 || c.RateLimit.PerHostRate <= 0 {
		return fmt.Errorf("rate_limit.global_rate and per_host_rate must be > 0")
	}
	if c.Cache.MaxMemorySize <= 0 {
		return fmt.Errorf("cache.max_memory_size must be > 0")
	}
	if _, err := tlsVersion(c.TLS.MinVersion); err != nil {
		return fmt.Errorf("tls.min_version: %w", err)
	}
	if _, err := tlsVersion(c.TLS.MaxVersion); err != nil {
		return fmt.Errorf("tls.max_version: %w", err)
	}
	return nil
}

func tlsVersion(v string) (uint16, error) {
	switch v {
	case "1.0":
		return tls.VersionTLS10, nil
	case "1.1":
		return tls.VersionTLS11, nil
	case "1.2", "":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unrecognized TLS version %q", v)
	}
}

// Load builds a Config from defaults and command-line flags, then overlays
// an optional YAML file and environment variables, in that order: a key
// present in the file, or a set environment variable, overrides the same
// option given as a flag. Env var names follow spec §6's dotted option
// names with underscores, e.g. GOFETCH_RATE_LIMIT_GLOBAL_RATE for
// rate_limit.global_rate; flag names are hyphenated and may be shorter.
func Load() (Config, error) {
	cfg := Default()

	flagSet := goflags.NewFlagSet()
	flagSet.SetDescription("gofetch-mcp: high-throughput web-fetch MCP server")

	flagSet.CreateGroup("input", "Input",
		flagSet.StringVarP(&cfg.ConfigFile, "config", "c", "", "path to a YAML config file"),
	)
	flagSet.CreateGroup("scheduler", "Scheduler",
		flagSet.IntVarP(&cfg.MaxConcurrentRequests, "max-concurrent-requests", "mcr", cfg.MaxConcurrentRequests, "scheduler worker pool capacity"),
	)
	flagSet.CreateGroup("timeouts", "Timeouts",
		flagSet.DurationVarP(&cfg.RequestTimeout, "request-timeout", "rt", cfg.RequestTimeout, "total per-request deadline fallback"),
		flagSet.DurationVarP(&cfg.ConnectTimeout, "connect-timeout", "ctt", cfg.ConnectTimeout, "connect phase timeout"),
		flagSet.DurationVarP(&cfg.ReadTimeout, "read-timeout", "", cfg.ReadTimeout, "read phase timeout"),
		flagSet.DurationVarP(&cfg.WriteTimeout, "write-timeout", "", cfg.WriteTimeout, "write phase timeout"),
	)
	flagSet.CreateGroup("pool", "Connection pool",
		flagSet.IntVarP(&cfg.Pool.MaxIdlePerHost, "pool-max-idle-per-host", "", cfg.Pool.MaxIdlePerHost, "idle connections kept per host"),
		flagSet.IntVarP(&cfg.Pool.MaxConnectionsPerHost, "pool-max-connections-per-host", "", cfg.Pool.MaxConnectionsPerHost, "active connection cap per host"),
		flagSet.DurationVarP(&cfg.Pool.IdleTimeout, "pool-idle-timeout", "", cfg.Pool.IdleTimeout, "idle connection eviction age"),
	)
	flagSet.CreateGroup("tls", "TLS",
		flagSet.StringVarP(&cfg.TLS.MinVersion, "tls-min-version", "", cfg.TLS.MinVersion, "minimum TLS version (1.0-1.3)"),
		flagSet.StringVarP(&cfg.TLS.MaxVersion, "tls-max-version", "", cfg.TLS.MaxVersion, "maximum TLS version (1.0-1.3)"),
	)
	flagSet.CreateGroup("rate-limit", "Rate limiting",
		flagSet.Float64VarP(&cfg.RateLimit.GlobalRate, "rate-limit-global", "", cfg.RateLimit.GlobalRate, "global token bucket refill rate, tokens/sec"),
		flagSet.Float64VarP(&cfg.RateLimit.PerHostRate, "rate-limit-per-host", "", cfg.RateLimit.PerHostRate, "initial per-host refill rate, tokens/sec"),
		flagSet.DurationVarP(&cfg.RateLimit.AdaptationInterval, "rate-limit-adaptation-interval", "", cfg.RateLimit.AdaptationInterval, "MIMD adjustment period"),
	)
	flagSet.CreateGroup("breaker", "Circuit breaker",
		flagSet.Int64VarP(&cfg.Breaker.FailureThreshold, "breaker-failure-threshold", "", cfg.Breaker.FailureThreshold, "raw failure count that trips the breaker"),
		flagSet.Float64VarP(&cfg.Breaker.ErrorRateThreshold, "breaker-error-rate-threshold", "", cfg.Breaker.ErrorRateThreshold, "smoothed error rate that trips the breaker"),
		flagSet.DurationVarP(&cfg.Breaker.Timeout, "breaker-timeout", "", cfg.Breaker.Timeout, "open-state duration before a half-open probe"),
	)
	flagSet.CreateGroup("cache", "Cache",
		flagSet.Int64VarP(&cfg.Cache.MaxMemorySize, "cache-max-entries", "", cfg.Cache.MaxMemorySize, "ARC resident+ghost capacity, in entries"),
		flagSet.DurationVarP(&cfg.Cache.DefaultTTL, "cache-default-ttl", "", cfg.Cache.DefaultTTL, "cache.default_ttl setting; not applied by the fetch pipeline, which stores responses without max-age or Expires with no expiry"),
	)
	flagSet.CreateGroup("security", "Admission policy",
		flagSet.BoolVarP(&cfg.Security.AllowPrivateIPs, "allow-private-ips", "", cfg.Security.AllowPrivateIPs, "permit requests to private/loopback/link-local IPs"),
		flagSet.IntVarP(&cfg.Security.MaxURLLength, "max-url-length", "", cfg.Security.MaxURLLength, "reject URLs longer than this"),
	)

	if err := flagSet.Parse(); err != nil {
		return Config{}, fmt.Errorf("config: parsing flags: %w", err)
	}

	if cfg.ConfigFile != "" {
		if err := mergeFile(&cfg, cfg.ConfigFile); err != nil {
			return Config{}, err
		}
	}
	mergeEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeFile overlays YAML file contents onto cfg. Unset fields in the file
// leave cfg's existing (flag/default) values untouched, since yaml.Unmarshal
// only writes keys present in the document.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// envOverride is one GOFETCH_-prefixed environment variable and the field
// setter it feeds, used by mergeEnv below.
type envOverride struct {
	name string
	set  func(v string) error
}

// mergeEnv applies GOFETCH_* environment overrides, spec §6's "sourced
// from file or environment" environment path. Only scalar leaf options are
// exposed; slice options (security.blocked_hosts) are file/flag-only.
func mergeEnv(cfg *Config) {
	overrides := []envOverride{
		{"GOFETCH_MAX_CONCURRENT_REQUESTS", intSetter(&cfg.MaxConcurrentRequests)},
		{"GOFETCH_REQUEST_TIMEOUT", durationSetter(&cfg.RequestTimeout)},
		{"GOFETCH_CONNECT_TIMEOUT", durationSetter(&cfg.ConnectTimeout)},
		{"GOFETCH_READ_TIMEOUT", durationSetter(&cfg.ReadTimeout)},
		{"GOFETCH_WRITE_TIMEOUT", durationSetter(&cfg.WriteTimeout)},
		{"GOFETCH_POOL_MAX_IDLE_PER_HOST", intSetter(&cfg.Pool.MaxIdlePerHost)},
		{"GOFETCH_POOL_MAX_CONNECTIONS_PER_HOST", intSetter(&cfg.Pool.MaxConnectionsPerHost)},
		{"GOFETCH_POOL_IDLE_TIMEOUT", durationSetter(&cfg.Pool.IdleTimeout)},
		{"GOFETCH_TLS_MIN_VERSION", stringSetter(&cfg.TLS.MinVersion)},
		{"GOFETCH_TLS_MAX_VERSION", stringSetter(&cfg.TLS.MaxVersion)},
		{"GOFETCH_RATE_LIMIT_GLOBAL_RATE", floatSetter(&cfg.RateLimit.GlobalRate)},
		{"GOFETCH_RATE_LIMIT_PER_HOST_RATE", floatSetter(&cfg.RateLimit.PerHostRate)},
		{"GOFETCH_BREAKER_FAILURE_THRESHOLD", int64Setter(&cfg.Breaker.FailureThreshold)},
		{"GOFETCH_BREAKER_ERROR_RATE_THRESHOLD", floatSetter(&cfg.Breaker.ErrorRateThreshold)},
		{"GOFETCH_CACHE_MAX_MEMORY_SIZE", int64Setter(&cfg.Cache.MaxMemorySize)},
		{"GOFETCH_CACHE_DEFAULT_TTL", durationSetter(&cfg.Cache.DefaultTTL)},
		{"GOFETCH_SECURITY_ALLOW_PRIVATE_IPS", boolSetter(&cfg.Security.AllowPrivateIPs)},
		{"GOFETCH_SECURITY_MAX_URL_LENGTH", intSetter(&cfg.Security.MaxURLLength)},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.name); ok {
			// Malformed values are ignored rather than failing startup;
			// validate() below still catches out-of-range results.
			_ = o.set(v)
		}
	}
}

func stringSetter(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func boolSetter(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func intSetter(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func int64Setter(dst *int64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func floatSetter(dst *float64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func durationSetter(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

// AdmissionPolicy maps spec §6's security.* group onto admission.Policy.
func (c Config) AdmissionPolicy() admission.Policy {
	return admission.Policy{
		AllowedSchemes:  c.Security.AllowedSchemes,
		BlockedHosts:    c.Security.BlockedHosts,
		AllowPrivateIPs: c.Security.AllowPrivateIPs,
		MaxURLLength:    c.Security.MaxURLLength,
		MaxBodySize:     c.Cache.MaxEntrySize,
	}
}

// SchedulerConfig maps max_concurrent_requests onto scheduler.Config.
func (c Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{MaxConcurrent: c.MaxConcurrentRequests, DefaultWeight: 1}
}

// DialerConfig maps tls.* and connect_timeout onto dialer.Config.
func (c Config) DialerConfig() dialer.Config {
	d := dialer.DefaultConfig()
	d.DialTimeout = c.ConnectTimeout
	if v, err := tlsVersion(c.TLS.MinVersion); err == nil {
		d.TLSMinVersion = v
	}
	if v, err := tlsVersion(c.TLS.MaxVersion); err == nil {
		d.TLSMaxVersion = v
	}
	return d
}

// PoolConfig maps pool.* onto pool.Config. internal/pool's HostPool has a
// single adaptive cap governing both active connections and idle
// retention (spec §4.6's cap adaptation), not a separate idle ceiling, so
// max_connections_per_host becomes the starting and maximum cap while
// max_idle_per_host becomes the floor cap adaptation won't shrink below.
func (c Config) PoolConfig() pool.Config {
	p := pool.DefaultConfig()
	p.InitialCap = int32(c.Pool.MaxConnectionsPerHost)
	p.MaxCap = int32(c.Pool.MaxConnectionsPerHost)
	p.MinCap = int32(c.Pool.MaxIdlePerHost)
	p.IdleTimeout = c.Pool.IdleTimeout
	p.ConnectTimeout = c.ConnectTimeout
	return p
}

// RateLimiterGlobal maps rate_limit.global_rate onto the global bucket.
func (c Config) RateLimiterGlobal() ratelimit.BucketConfig {
	return ratelimit.BucketConfig{
		Capacity: c.RateLimit.GlobalRate,
		Rate:     c.RateLimit.GlobalRate,
		RateMin:  c.RateLimit.GlobalRate,
		RateMax:  c.RateLimit.GlobalRate,
	}
}

// RateLimiterHostDefault maps rate_limit.per_host_rate onto the template
// used for newly observed hosts; RateMin/RateMax bound MIMD adaptation.
func (c Config) RateLimiterHostDefault() ratelimit.BucketConfig {
	return ratelimit.BucketConfig{
		Capacity: c.RateLimit.PerHostRate,
		Rate:     c.RateLimit.PerHostRate,
		RateMin:  c.RateLimit.PerHostRate / 10,
		RateMax:  c.RateLimit.PerHostRate * 10,
	}
}

// RateLimiterAdaptation maps rate_limit.* MIMD parameters.
func (c Config) RateLimiterAdaptation() ratelimit.AdaptationConfig {
	return ratelimit.AdaptationConfig{
		Interval:   c.RateLimit.AdaptationInterval,
		ErrorLow:   c.RateLimit.ErrorLow,
		ErrorHigh:  c.RateLimit.ErrorHigh,
		UpFactor:   c.RateLimit.UpFactor,
		DownFactor: c.RateLimit.DownFactor,
	}
}

// BreakerConfig maps breaker.* onto breaker.Config.
func (c Config) BreakerConfig() breaker.Config {
	b := breaker.DefaultConfig()
	b.FailureThreshold = c.Breaker.FailureThreshold
	b.ErrorRateThreshold = c.Breaker.ErrorRateThreshold
	b.Timeout = c.Breaker.Timeout
	b.HalfOpenMaxCalls = c.Breaker.HalfOpenMaxCalls
	b.SuccessThreshold = c.Breaker.SuccessThreshold
	b.SmoothingFactor = c.Breaker.SmoothingFactor
	return b
}

// CacheCapacity maps cache.max_memory_size onto the ARC's entry-count cap.
func (c Config) CacheCapacity() int {
	return int(c.Cache.MaxMemorySize)
}

// FetchConfig maps request_timeout onto fetch.Config's wire-level default.
func (c Config) FetchConfig() fetch.Config {
	f := fetch.DefaultConfig()
	f.WireTimeout = c.RequestTimeout
	return f
}
