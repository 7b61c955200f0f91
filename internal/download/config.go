package download

import (
	"time"

	"romdl/utils"
)

// Config carries every tunable the transfer state machine used to hide in
// module-level constants: chunking, retry policy, timeouts, request headers
// and an optional bandwidth cap. Zero values fall back to the defaults.
type Config struct {
	ChunkSize      int64         // streaming chunk size, default 512 KiB
	MaxAttempts    int           // whole-attempt retry budget, default 4
	BackoffStep    time.Duration // per-attempt backoff increment, default 500ms
	BackoffCap     time.Duration // backoff ceiling, default 2s
	ConnectTimeout time.Duration // dial timeout, default 10s
	ReadTimeout    time.Duration // response header wait per attempt, default 60s
	UserAgent      string
	Headers        map[string]string
	RateLimit      int64 // bytes per second, 0 means unlimited
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:      512 * 1024,
		MaxAttempts:    4,
		BackoffStep:    500 * time.Millisecond,
		BackoffCap:     2 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    60 * time.Second,
		UserAgent:      utils.GetRandomUserAgent(),
		Headers:        utils.DefaultHeaders(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BackoffStep <= 0 {
		c.BackoffStep = def.BackoffStep
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = def.BackoffCap
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.Headers == nil {
		c.Headers = def.Headers
	}
	return c
}
