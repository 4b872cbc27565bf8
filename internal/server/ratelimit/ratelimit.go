// Package ratelimit provides per-client, per-endpoint request rate limiting.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Info describes the rate limit state returned with every decision.
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// bucket pairs a token bucket with its last use, so idle entries can be
// dropped.
type bucket struct {
	limiter    *rate.Limiter
	burst      int
	refillRate rate.Limit
	lastAccess time.Time
}

// Limiter keeps one token bucket per client+endpoint+method combination.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	config  *Config

	cleanupTicker *time.Ticker
	cleanupStop   chan struct{}
}

// NewLimiter creates a new rate limiter with the given configuration.
func NewLimiter(config *Config) *Limiter {
	if config == nil {
		config = &Config{
			Enabled:         true,
			DefaultLimit:    1000,
			DefaultWindow:   time.Minute,
			CleanupInterval: 5 * time.Minute,
		}
	}

	l := &Limiter{
		buckets: make(map[string]*bucket),
		config:  config,
	}

	if config.Enabled && config.CleanupInterval > 0 {
		l.cleanupTicker = time.NewTicker(config.CleanupInterval)
		l.cleanupStop = make(chan struct{})
		go l.cleanupLoop()
	}

	return l
}

// Allow decides whether a request from clientID may hit the endpoint, and
// reports the bucket state either way.
func (l *Limiter) Allow(clientID, endpoint, method string) (bool, Info) {
	if !l.config.Enabled || l.config.Whitelist[clientID] {
		return true, Info{Allowed: true}
	}
	if l.config.Blacklist[clientID] {
		return false, Info{}
	}

	endpointConfig := MatchEndpoint(endpoint, method, l.config.EndpointConfigs)
	if endpointConfig == nil {
		endpointConfig = &EndpointConfig{
			Limit:  l.config.DefaultLimit,
			Window: l.config.DefaultWindow,
			Burst:  l.config.DefaultLimit,
		}
	}
	if endpointConfig.Limit <= 0 {
		// Unlimited tier (health, metrics, served artifacts).
		return true, Info{Allowed: true}
	}

	key := clientID + ":" + endpoint + ":" + method
	b := l.bucketFor(key, endpointConfig)

	l.mu.Lock()
	b.lastAccess = time.Now()
	l.mu.Unlock()

	allowed := b.limiter.Allow()

	now := time.Now()
	tokens := b.limiter.TokensAt(now)
	if tokens < 0 {
		tokens = 0
	}

	info := Info{
		Allowed:   allowed,
		Limit:     endpointConfig.Limit,
		Remaining: int(tokens),
		ResetTime: now.Add(durationFor(float64(b.burst)-tokens, b.refillRate)),
	}
	if !allowed {
		info.RetryAfter = durationFor(1-tokens, b.refillRate)
	}
	return allowed, info
}

// bucketFor returns the bucket for key, creating it on first use.
func (l *Limiter) bucketFor(key string, endpointConfig *EndpointConfig) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[key]; ok {
		return b
	}

	burst := endpointConfig.Burst
	if burst <= 0 {
		burst = endpointConfig.Limit
	}
	refill := rate.Limit(float64(endpointConfig.Limit) / endpointConfig.Window.Seconds())

	b := &bucket{
		limiter:    rate.NewLimiter(refill, burst),
		burst:      burst,
		refillRate: refill,
		lastAccess: time.Now(),
	}
	l.buckets[key] = b
	return b
}

// durationFor converts a token deficit into wall time at the given refill
// rate.
func durationFor(tokens float64, refill rate.Limit) time.Duration {
	if tokens <= 0 || refill <= 0 {
		return 0
	}
	return time.Duration(tokens / float64(refill) * float64(time.Second))
}

func (l *Limiter) cleanupLoop() {
	for {
		select {
		case <-l.cleanupTicker.C:
			l.dropIdleBuckets()
		case <-l.cleanupStop:
			return
		}
	}
}

// dropIdleBuckets removes buckets not used for over an hour.
func (l *Limiter) dropIdleBuckets() {
	cutoff := time.Now().Add(-1 * time.Hour)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Stop stops the cleanup goroutine.
func (l *Limiter) Stop() {
	if l.cleanupTicker != nil {
		l.cleanupTicker.Stop()
	}
	if l.cleanupStop != nil {
		close(l.cleanupStop)
	}
}
