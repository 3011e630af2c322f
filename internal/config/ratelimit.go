package config

import (
	"os"
	"strconv"
	"time"
)

// RateLimitConfig is one token bucket profile.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string // ip, user, route or a combination joined by "_"
	Prefix         string
	Debug          bool
}

// RateLimits holds the profiles applied to route groups. Location pushes
// arrive every few seconds per technician, so they get their own bucket.
type RateLimits struct {
	API      RateLimitConfig
	Chat     RateLimitConfig
	Location RateLimitConfig
}

// LoadRateLimits reads RATE_LIMIT_* for the default profile and
// RATE_LIMIT_CHAT_* / RATE_LIMIT_LOCATION_* for the others.
func LoadRateLimits() RateLimits {
	return RateLimits{
		API:      loadProfile("RATE_LIMIT_", 60, time.Second, "ip_user_route", "rl"),
		Chat:     loadProfile("RATE_LIMIT_CHAT_", 20, 3*time.Second, "user_route", "rl:chat"),
		Location: loadProfile("RATE_LIMIT_LOCATION_", 10, 2*time.Second, "user", "rl:loc"),
	}
}

func loadProfile(p string, capacity int, every time.Duration, strategy, prefix string) RateLimitConfig {
	def := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true) && envBool(p+"ENABLED", true),
		Capacity:       envInt(p+"CAPACITY", capacity),
		RefillTokens:   envInt(p+"REFILL_TOKENS", 1),
		RefillInterval: envDur(p+"REFILL_INTERVAL", every),
		TTL:            envDur(p+"TTL", 10*time.Minute),
		KeyStrategy:    envStr(p+"KEY_STRATEGY", strategy),
		Prefix:         envStr(p+"PREFIX", prefix),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	}
	if b := envInt(p+"BURST", -1); b > 0 {
		def.Capacity = b
	}
	if d := envDur(p+"REFILL_EVERY", 0); d > 0 {
		def.RefillTokens = 1
		def.RefillInterval = d
	}
	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	if minTTL := 5 * def.RefillInterval; def.TTL < minTTL {
		def.TTL = minTTL
	}
	return def
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	if dur, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return dur
	}
	return d
}
