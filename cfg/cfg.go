package cfg

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}
func (s *Secret) UnmarshalYAML(n *yaml.Node) error {
	var v string
	if err := n.Decode(&v); err != nil {
		return err
	}
	s.value = []byte(v)
	return nil
}

type Cfg struct {
	Port             string        `yaml:"port"`
	Environment      string        `yaml:"environment"`
	LogLevel         string        `yaml:"log_level"`
	BaseURL          string        `yaml:"base_url"`
	MaxPasteSize     int64         `yaml:"max_paste_size"`
	MaxTTL           time.Duration `yaml:"max_ttl"`
	MaxViews         int           `yaml:"max_views"`
	IDLength         int           `yaml:"id_length"`
	StoreShards      int           `yaml:"store_shards"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	ContextTimeout   time.Duration `yaml:"context_timeout"`
	RedisURL         string        `yaml:"redis_url"`
	RedisTLS         bool          `yaml:"redis_tls"`
	RedisCACert      string        `yaml:"redis_ca_cert"`
	RedisUsername    string        `yaml:"redis_username"`
	RedisPassword    Secret        `yaml:"redis_password"`
	RedisTimeout     time.Duration `yaml:"redis_timeout"`
	RateLimit        RateLimitCfg  `yaml:"rate_limit"`
	LimiterCacheSize int           `yaml:"limiter_cache_size"`
	TrustedProxies   []string      `yaml:"trusted_proxies"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	MetricsUser      string        `yaml:"metrics_user"`
	MetricsPass      Secret        `yaml:"metrics_pass"`
	PprofEnabled     bool          `yaml:"pprof_enabled"`
}

type RateLimitCfg struct {
	RPM               int `yaml:"rpm"`
	Burst             int `yaml:"burst"`
	ConservativeLimit int `yaml:"conservative"`
}

func Defaults() *Cfg {
	return &Cfg{
		Port:             "8080",
		Environment:      "development",
		LogLevel:         "info",
		MaxPasteSize:     512 * 1024,
		MaxTTL:           30 * 24 * time.Hour,
		MaxViews:         1_000_000,
		IDLength:         12,
		StoreShards:      32,
		SweepInterval:    time.Minute,
		ContextTimeout:   5 * time.Second,
		RedisTimeout:     5 * time.Second,
		LimiterCacheSize: 10000,
		RateLimit: RateLimitCfg{
			RPM:               600,
			Burst:             20,
			ConservativeLimit: 60,
		},
		AllowedOrigins: []string{},
		TrustedProxies: []string{},
	}
}

// Load builds the configuration from, in increasing precedence: built-in
// defaults, the YAML file named by CONFIG_FILE, and environment variables.
// A .env file in the working directory is loaded first if present; it never
// overrides variables already set in the process environment.
func Load() (*Cfg, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Wrap(err, "load .env")
	}
	c := Defaults()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, c); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(c); err != nil {
		return nil, err
	}
	return c, nil
}
func loadFile(path string, c *Cfg) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open config file")
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return errors.Wrapf(err, "decode config file %s", path)
	}
	return nil
}
func applyEnv(c *Cfg) error {
	var err error
	c.Port = getEnv("PORT", c.Port)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.BaseURL = strings.TrimRight(getEnv("BASE_URL", c.BaseURL), "/")
	if c.MaxPasteSize, err = getInt64("MAX_PASTE_SIZE", c.MaxPasteSize); err != nil {
		return err
	}
	if c.MaxTTL, err = getDuration("MAX_TTL", c.MaxTTL); err != nil {
		return err
	}
	if c.MaxViews, err = getInt("MAX_VIEWS", c.MaxViews); err != nil {
		return err
	}
	if c.IDLength, err = getInt("ID_LENGTH", c.IDLength); err != nil {
		return err
	}
	if c.StoreShards, err = getInt("STORE_SHARDS", c.StoreShards); err != nil {
		return err
	}
	if c.SweepInterval, err = getDuration("SWEEP_INTERVAL", c.SweepInterval); err != nil {
		return err
	}
	if c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", c.ContextTimeout); err != nil {
		return err
	}
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	if c.RedisTLS, err = getBool("REDIS_TLS", c.RedisTLS); err != nil {
		return err
	}
	c.RedisCACert = getEnv("REDIS_TLS_CA_CERT", c.RedisCACert)
	c.RedisUsername = getEnv("REDIS_USERNAME", c.RedisUsername)
	if v, ok := os.LookupEnv("REDIS_PASSWORD"); ok {
		c.RedisPassword = NewSecret(v)
	}
	if c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", c.RedisTimeout); err != nil {
		return err
	}
	if c.RateLimit.RPM, err = getInt("RATE_LIMIT_RPM", c.RateLimit.RPM); err != nil {
		return err
	}
	if c.RateLimit.Burst, err = getInt("RATE_LIMIT_BURST", c.RateLimit.Burst); err != nil {
		return err
	}
	if c.RateLimit.ConservativeLimit, err = getInt("RATE_LIMIT_CONSERVATIVE", c.RateLimit.ConservativeLimit); err != nil {
		return err
	}
	if c.LimiterCacheSize, err = getInt("LIMITER_CACHE_SIZE", c.LimiterCacheSize); err != nil {
		return err
	}
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", c.TrustedProxies)
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.MetricsUser = getEnv("METRICS_USER", c.MetricsUser)
	if v, ok := os.LookupEnv("METRICS_PASS"); ok {
		c.MetricsPass = NewSecret(v)
	}
	if c.PprofEnabled, err = getBool("PPROF_ENABLED", c.PprofEnabled); err != nil {
		return err
	}
	return nil
}
func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	if c.MaxPasteSize <= 0 {
		return errors.New("MAX_PASTE_SIZE must be positive")
	}
	if c.MaxPasteSize > 10*1024*1024 {
		return errors.New("MAX_PASTE_SIZE cannot exceed 10MB")
	}
	if c.MaxTTL < time.Second {
		return errors.New("MAX_TTL must be at least 1s")
	}
	if c.MaxViews <= 0 {
		return errors.New("MAX_VIEWS must be positive")
	}
	if c.IDLength < 10 || c.IDLength > 64 {
		return errors.New("ID_LENGTH must be between 10 and 64")
	}
	if c.StoreShards <= 0 || c.StoreShards > 4096 {
		return errors.New("STORE_SHARDS must be between 1 and 4096")
	}
	if c.SweepInterval < time.Second {
		return errors.New("SWEEP_INTERVAL must be at least 1s")
	}
	if c.ContextTimeout <= 0 {
		return errors.New("CONTEXT_TIMEOUT must be positive")
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
	}
	if c.RateLimit.RPM <= 0 {
		return errors.New("RATE_LIMIT_RPM must be positive")
	}
	if c.RateLimit.Burst <= 0 {
		return errors.New("RATE_LIMIT_BURST must be positive")
	}
	if c.RateLimit.ConservativeLimit <= 0 {
		return errors.New("RATE_LIMIT_CONSERVATIVE must be positive")
	}
	if c.LimiterCacheSize <= 0 || c.LimiterCacheSize > 100000 {
		return errors.New("LIMITER_CACHE_SIZE must be between 1 and 100000")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else {
			if net.ParseIP(proxy) == nil {
				return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
			}
		}
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
		if c.PprofEnabled {
			return errors.New("PPROF_ENABLED must be false in production")
		}
	}
	return nil
}
func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getBool(key string, fallback bool) (bool, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid bool for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
