package crawler

import (
	"time"
)

// Config holds the configuration for the crawl strategy
type Config struct {
	DefaultTimeout time.Duration // Default timeout for requests
	MaxConcurrency int           // Maximum number of concurrent requests per batch
	RateLimit      int           // Maximum requests per second across the whole strategy
	UserAgent      string        // User agent string for requests
	MaxDepth       int           // Depth cap applied when the payload does not set one
	MaxBodyBytes   int           // Response bodies larger than this are not parsed for links
}

// DefaultConfig returns a Config instance with default values
func DefaultConfig() *Config {
	return &Config{
		DefaultTimeout: 30 * time.Second,
		MaxConcurrency: 5,
		RateLimit:      5, // Requests per second (minimum delay 1/RateLimit)
		UserAgent:      "Harrier/1.0 (+https://github.com/opsforge-io/harrier)",
		MaxDepth:       3,
		MaxBodyBytes:   2 << 20,
	}
}
