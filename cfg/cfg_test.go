package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	c := Defaults()
	require.NoError(t, Validate(c))
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, 12, c.IDLength)
	assert.Equal(t, 32, c.StoreShards)
	assert.Equal(t, time.Minute, c.SweepInterval)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("BASE_URL", "https://paste.example/")
	t.Setenv("MAX_TTL", "48h")
	t.Setenv("MAX_VIEWS", "10")
	t.Setenv("STORE_SHARDS", "8")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 127.0.0.1 ,")
	t.Setenv("REDIS_PASSWORD", "hunter2")
	t.Setenv("PPROF_ENABLED", "true")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", c.Port)
	assert.Equal(t, "https://paste.example", c.BaseURL)
	assert.Equal(t, 48*time.Hour, c.MaxTTL)
	assert.Equal(t, 10, c.MaxViews)
	assert.Equal(t, 8, c.StoreShards)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, c.TrustedProxies)
	assert.Equal(t, "hunter2", c.RedisPassword.Value())
	assert.Equal(t, "***REDACTED***", c.RedisPassword.String())
	assert.True(t, c.PprofEnabled)
	require.NoError(t, Validate(c))
}

func TestLoadBadEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	tests := map[string]string{
		"MAX_VIEWS":      "many",
		"MAX_TTL":        "forever",
		"PPROF_ENABLED":  "maybe",
		"MAX_PASTE_SIZE": "1e3",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "pastelite.yaml")
	yml := `port: "7000"
environment: staging
max_views: 50
sweep_interval: 30s
rate_limit:
  rpm: 100
  burst: 5
  conservative: 10
allowed_origins:
  - https://a.example
metrics_pass: s3cret
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MAX_VIEWS", "70")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7000", c.Port)
	assert.Equal(t, "staging", c.Environment)
	assert.Equal(t, 70, c.MaxViews)
	assert.Equal(t, 30*time.Second, c.SweepInterval)
	assert.Equal(t, RateLimitCfg{RPM: 100, Burst: 5, ConservativeLimit: 10}, c.RateLimit)
	assert.Equal(t, []string{"https://a.example"}, c.AllowedOrigins)
	assert.Equal(t, "s3cret", c.MetricsPass.Value())
	assert.Equal(t, 32, c.StoreShards)
}

func TestLoadFileUnknownKey(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_path: x.db\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	_, err := Load()
	require.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ID_LENGTH=16\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ID_LENGTH") })
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 16, c.IDLength)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Cfg)
	}{
		{"non-numeric port", func(c *Cfg) { c.Port = "http" }},
		{"empty port", func(c *Cfg) { c.Port = "" }},
		{"zero paste size", func(c *Cfg) { c.MaxPasteSize = 0 }},
		{"huge paste size", func(c *Cfg) { c.MaxPasteSize = 11 * 1024 * 1024 }},
		{"tiny max ttl", func(c *Cfg) { c.MaxTTL = time.Millisecond }},
		{"zero max views", func(c *Cfg) { c.MaxViews = 0 }},
		{"short ids", func(c *Cfg) { c.IDLength = 6 }},
		{"no shards", func(c *Cfg) { c.StoreShards = 0 }},
		{"fast sweep", func(c *Cfg) { c.SweepInterval = 10 * time.Millisecond }},
		{"no ctx timeout", func(c *Cfg) { c.ContextTimeout = 0 }},
		{"bad redis scheme", func(c *Cfg) { c.RedisURL = "http://localhost:6379" }},
		{"rediss without tls", func(c *Cfg) { c.RedisURL = "rediss://localhost:6379" }},
		{"zero rpm", func(c *Cfg) { c.RateLimit.RPM = 0 }},
		{"zero burst", func(c *Cfg) { c.RateLimit.Burst = 0 }},
		{"zero conservative", func(c *Cfg) { c.RateLimit.ConservativeLimit = 0 }},
		{"limiter cache", func(c *Cfg) { c.LimiterCacheSize = 0 }},
		{"bad proxy ip", func(c *Cfg) { c.TrustedProxies = []string{"10.0.0.300"} }},
		{"bad proxy cidr", func(c *Cfg) { c.TrustedProxies = []string{"10.0.0.0/40"} }},
		{"production without metrics creds", func(c *Cfg) { c.Environment = "production" }},
		{"production with pprof", func(c *Cfg) {
			c.Environment = "production"
			c.MetricsUser = "m"
			c.MetricsPass = NewSecret("p")
			c.PprofEnabled = true
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Defaults()
			tt.mutate(c)
			assert.Error(t, Validate(c))
		})
	}
}

func TestWipe(t *testing.T) {
	c := Defaults()
	c.RedisPassword = NewSecret("abc")
	c.MetricsPass = NewSecret("xyz")
	c.Wipe()
	assert.Equal(t, "\x00\x00\x00", c.RedisPassword.Value())
	assert.Equal(t, "\x00\x00\x00", c.MetricsPass.Value())
}
