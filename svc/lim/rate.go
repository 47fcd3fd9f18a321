package lim

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"pastelite/metrics"
	"pastelite/svc/cache"
	"pastelite/svc/util"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	cleanupInterval = 5 * time.Minute
	limiterTTL      = 30 * time.Minute
	globalWindow    = time.Minute
)

// GlobalCounter is a shared fixed-window counter, normally redis.
type GlobalCounter interface {
	RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

type Config struct {
	GlobalRPM      int
	PerClientRPM   int
	Burst          int
	CacheSize      int
	TrustedProxies []string
}

type Limiter struct {
	global            GlobalCounter
	trustedProxies    []string
	detector          *AnomalyDetector
	adaptiveModeUntil int64
	local             *cache.LRU[string, *rate.Limiter]
	perClientRPM      int
	burst             int
	globalRPM         int
	quit              chan struct{}
	stopOnce          sync.Once
}
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// New builds a limiter. global may be nil, in which case only the per-client
// buckets apply.
func New(c Config, global GlobalCounter) (*Limiter, error) {
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return nil, errors.Wrapf(err, "invalid CIDR in trustedProxies: %s", proxy)
			}
		} else if net.ParseIP(proxy) == nil {
			return nil, fmt.Errorf("invalid IP in trustedProxies: %s", proxy)
		}
	}
	if c.PerClientRPM <= 0 || c.Burst <= 0 {
		return nil, errors.New("per-client rpm and burst must be positive")
	}
	local, err := cache.NewLRU[string, *rate.Limiter](c.CacheSize, limiterTTL)
	if err != nil {
		return nil, errors.Wrap(err, "limiter cache")
	}
	l := &Limiter{
		global:         global,
		trustedProxies: c.TrustedProxies,
		local:          local,
		perClientRPM:   c.PerClientRPM,
		burst:          c.Burst,
		globalRPM:      c.GlobalRPM,
		quit:           make(chan struct{}),
	}
	l.detector = NewAnomalyDetector(l.TriggerAdaptiveMode)
	l.detector.Start()
	go l.cleanupLoop()
	return l, nil
}
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if evicted := l.local.PurgeExpired(); evicted > 0 {
				util.Debug().Int("evicted", evicted).Int("remaining", l.local.Len()).Msg("rate limiter cleanup")
			}
		case <-l.quit:
			return
		}
	}
}
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
		l.detector.Stop()
	})
}
func (l *Limiter) TriggerAdaptiveMode() {
	atomic.StoreInt64(&l.adaptiveModeUntil, time.Now().Add(60*time.Second).Unix())
}
func (l *Limiter) isAdaptiveMode() bool {
	until := atomic.LoadInt64(&l.adaptiveModeUntil)
	return time.Now().Unix() < until
}
func (l *Limiter) RecordRequest() {
	l.detector.RecordRequest()
}
func (l *Limiter) RecordError() {
	l.detector.RecordError()
}

func halve(n int) int {
	n /= 2
	if n < 1 {
		n = 1
	}
	return n
}

// CheckLimit charges one request from r against the per-client bucket for
// endpoint and, when configured, the shared global window. A failing global
// counter is logged and ignored; the local bucket still applies.
func (l *Limiter) CheckLimit(r *http.Request, endpoint string) *RateLimitResult {
	ip := GetRealIP(r, l.trustedProxies)
	now := time.Now()
	res := l.checkLocal(ip, endpoint, now)
	if !res.Allowed {
		metrics.RateLimitHits.WithLabelValues(endpoint).Inc()
		return res
	}
	if l.global == nil || l.globalRPM <= 0 {
		return res
	}
	globalLimit := l.globalRPM
	if l.isAdaptiveMode() {
		globalLimit = halve(globalLimit)
	}
	ctx, cancel := context.WithTimeout(r.Context(), 100*time.Millisecond)
	defer cancel()
	usage, err := l.global.RateLimit(ctx, "global:"+endpoint, globalLimit, globalWindow)
	if err != nil {
		util.Warn().Err(err).Msg("global rate limit unavailable, using local buckets only")
		return res
	}
	if usage > globalLimit {
		metrics.RateLimitHits.WithLabelValues(endpoint).Inc()
		return &RateLimitResult{
			Allowed:   false,
			Limit:     globalLimit,
			Remaining: 0,
			Reset:     now.Add(globalWindow),
		}
	}
	return res
}
func (l *Limiter) checkLocal(ip, endpoint string, now time.Time) *RateLimitResult {
	limit := l.perClientRPM
	burst := l.burst
	if l.isAdaptiveMode() {
		limit = halve(limit)
		burst = halve(burst)
	}
	key := ip + ":" + endpoint
	bucket := l.local.GetOrAdd(key, func() *rate.Limiter {
		return rate.NewLimiter(rate.Limit(float64(l.perClientRPM)/60.0), l.burst)
	})
	bucket.SetLimitAt(now, rate.Limit(float64(limit)/60.0))
	bucket.SetBurstAt(now, burst)
	if !bucket.AllowN(now, 1) {
		wait := time.Duration(float64(time.Second) * 60.0 / float64(limit))
		return &RateLimitResult{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			Reset:     now.Add(wait),
		}
	}
	remaining := int(bucket.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		Reset:     now.Add(globalWindow),
	}
}

func GetRealIP(r *http.Request, trustedProxies []string) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(trustedProxies) == 0 {
		return remoteIP
	}
	if !isTrustedProxy(remoteIP, trustedProxies) {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}

	const maxIPsToParse = 100
	parsedCount := 0
	remaining := xff

	// walk right to left; the first hop we don't trust is the client
	for len(remaining) > 0 && parsedCount < maxIPsToParse {
		lastComma := strings.LastIndexByte(remaining, ',')
		var ipStr string
		if lastComma == -1 {
			ipStr = strings.TrimSpace(remaining)
			remaining = ""
		} else {
			ipStr = strings.TrimSpace(remaining[lastComma+1:])
			remaining = remaining[:lastComma]
		}
		if ipStr == "" {
			continue
		}
		parsedCount++
		if net.ParseIP(ipStr) == nil {
			util.Warn().Str("ip", util.RedactIP(ipStr)).Msg("invalid IP in X-Forwarded-For, skipping")
			continue
		}
		if !isTrustedProxy(ipStr, trustedProxies) {
			return ipStr
		}
	}
	if parsedCount >= maxIPsToParse {
		util.Warn().Int("parsed", parsedCount).Str("remote", util.RedactIP(remoteIP)).Msg("XFF header excessive, truncated parsing")
	}
	return remoteIP
}
func isTrustedProxy(ip string, trustedProxies []string) bool {
	for _, proxy := range trustedProxies {
		if ip == proxy {
			return true
		}
		if strings.Contains(proxy, "/") {
			_, subnet, err := net.ParseCIDR(proxy)
			if err == nil {
				parsedIP := net.ParseIP(ip)
				if parsedIP != nil && subnet.Contains(parsedIP) {
					return true
				}
			}
		}
	}
	return false
}
func stripPort(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
