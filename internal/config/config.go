// Package config defines crawl configuration options.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Options holds all configuration for a feed search crawl.
type Options struct {
	// === Scope ===

	// Also fetch the origin page of each seed for site metadata.
	CrawlHosts bool `json:"crawl_hosts"`

	// Seed common feed paths per origin. Empty with TryURLs=false disables;
	// TryURLs=true with an empty list uses the built-in suffix list.
	TryURLs     bool     `json:"try_urls"`
	TryURLPaths []string `json:"try_url_paths,omitempty"`

	// Maximum link depth from a seed.
	MaxDepth int `json:"max_depth"`

	// === Speed & Budget ===

	// Worker pool size, which also bounds in-flight fetches.
	Concurrency int `json:"concurrency"`

	// Global crawl deadline.
	TotalTimeout time.Duration `json:"total_timeout"`

	// Per-request deadline.
	RequestTimeout time.Duration `json:"request_timeout"`

	// Per-host minimum interval between requests.
	Delay time.Duration `json:"delay"`

	// Global requests-per-second ceiling across all hosts. Zero disables it.
	GlobalRPS float64 `json:"global_rps"`

	// Maximum retries for a failed request.
	MaxRetries int `json:"max_retries"`

	// === HTTP ===

	// Default User-Agent header.
	UserAgent string `json:"user_agent"`

	// Response body cap in bytes.
	MaxContentLength int64 `json:"max_content_length"`

	// Extra headers sent with every request.
	Headers map[string]string `json:"headers,omitempty"`

	// === Behavior ===

	// Inline favicons as data URIs.
	FaviconDataURI bool `json:"favicon_data_uri"`

	// Honor robots.txt disallow rules.
	RespectRobots bool `json:"respect_robots"`

	// Populate crawl statistics in SearchWithInfo results.
	IncludeStats bool `json:"include_stats"`
}

// Default limits that are not user-tunable.
const (
	MaxRedirects   = 10
	RetryBaseDelay = 500 * time.Millisecond
	RetryMaxDelay  = 8 * time.Second
)

// DefaultOptions returns Options with the documented defaults.
func DefaultOptions() *Options {
	return &Options{
		CrawlHosts:       true,
		TryURLs:          false,
		MaxDepth:         10,
		Concurrency:      10,
		TotalTimeout:     10 * time.Second,
		RequestTimeout:   3 * time.Second,
		Delay:            0,
		GlobalRPS:        0,
		MaxRetries:       3,
		UserAgent:        "Feedsearch Bot",
		MaxContentLength: 10 * 1024 * 1024,
		FaviconDataURI:   true,
		RespectRobots:    true,
		IncludeStats:     false,
	}
}

// Validate clamps out-of-range values to usable ones.
func (o *Options) Validate() error {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.GlobalRPS < 0 {
		o.GlobalRPS = 0
	}
	if o.MaxDepth < 0 {
		o.MaxDepth = 0
	}
	if o.TotalTimeout <= 0 {
		o.TotalTimeout = 10 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 3 * time.Second
	}
	if o.MaxContentLength <= 0 {
		o.MaxContentLength = 10 * 1024 * 1024
	}
	if o.UserAgent == "" {
		o.UserAgent = "Feedsearch Bot"
	}
	return nil
}

// Clone creates a deep copy of the options.
func (o *Options) Clone() *Options {
	clone := *o

	clone.TryURLPaths = make([]string, len(o.TryURLPaths))
	copy(clone.TryURLPaths, o.TryURLPaths)

	if o.Headers != nil {
		clone.Headers = make(map[string]string, len(o.Headers))
		for k, v := range o.Headers {
			clone.Headers[k] = v
		}
	}

	return &clone
}

// Save saves the options to a JSON file.
func (o *Options) Save(filePath string) error {
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write options file: %w", err)
	}

	return nil
}

// Load loads options from a JSON file, applying defaults for absent keys.
func Load(filePath string) (*Options, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read options file: %w", err)
	}

	opts := DefaultOptions()
	if err := json.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("failed to parse options file: %w", err)
	}

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	return opts, nil
}
