package model

import (
	"fmt"
	"time"
)

// Config holds all cfrfetch settings
type Config struct {
	HTTP         HTTPConfig         `yaml:"http" mapstructure:"http"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Retry        RetryConfig        `yaml:"retry" mapstructure:"retry"`
	Run          RunConfig          `yaml:"run" mapstructure:"run"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// HTTPConfig configures the eCFR transport
type HTTPConfig struct {
	BaseURL        string            `yaml:"base_url" mapstructure:"base_url"`
	UserAgent      string            `yaml:"user_agent" mapstructure:"user_agent"`
	Headers        map[string]string `yaml:"headers,omitempty" mapstructure:"headers"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	Timeout        time.Duration     `yaml:"timeout" mapstructure:"timeout"`
	MaxBodyBytes   int64             `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	MaxRedirects   int               `yaml:"max_redirects" mapstructure:"max_redirects"`
	HTTPProxy      string            `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy     string            `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
}

// RateLimitingConfig configures client pacing and server quota handling
type RateLimitingConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size" mapstructure:"burst_size"`
	SafetyRemaining   int           `yaml:"safety_remaining" mapstructure:"safety_remaining"`
	MinWait           time.Duration `yaml:"min_wait" mapstructure:"min_wait"`
	DefaultRetryAfter time.Duration `yaml:"default_retry_after" mapstructure:"default_retry_after"`
	RespectRobots     bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
}

// RetryConfig configures the orchestrator's bounded linear backoff
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
}

// FailurePolicy decides what an exhausted unit does to the rest of the run
type FailurePolicy string

const (
	// FailureAbort ends the whole run on the first unrecoverable unit
	FailureAbort FailurePolicy = "abort"
	// FailureIsolate marks the agency failed and continues with the next one
	FailureIsolate FailurePolicy = "isolate"
)

// RunConfig selects what a run fetches
type RunConfig struct {
	DateField       DateField     `yaml:"date_field" mapstructure:"date_field"`
	Date            string        `yaml:"date,omitempty" mapstructure:"date"` // overrides DateField when set
	FailurePolicy   FailurePolicy `yaml:"failure_policy" mapstructure:"failure_policy"`
	ResolveOnly     bool          `yaml:"resolve_only" mapstructure:"resolve_only"`
	FullTitles      bool          `yaml:"full_titles" mapstructure:"full_titles"`
	ValidateXML     bool          `yaml:"validate_xml" mapstructure:"validate_xml"`
	IncludeChildren bool          `yaml:"include_children" mapstructure:"include_children"`
	Agencies        []string      `yaml:"agencies,omitempty" mapstructure:"agencies"`
	Titles          []int         `yaml:"titles,omitempty" mapstructure:"titles"`
}

// OutputConfig configures where results are written
type OutputConfig struct {
	Dir       string `yaml:"dir" mapstructure:"dir"`
	Crosswalk bool   `yaml:"crosswalk" mapstructure:"crosswalk"`
	Report    bool   `yaml:"report" mapstructure:"report"`
	CSV       bool   `yaml:"csv" mapstructure:"csv"`
	Verbose   bool   `yaml:"verbose" mapstructure:"verbose"`
}

// CacheConfig configures the in-run ancestry cache
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	AncestryTTL time.Duration `yaml:"ancestry_ttl" mapstructure:"ancestry_ttl"`
}

// LogConfig configures slog output
type LogConfig struct {
	Format string `yaml:"format" mapstructure:"format"` // text or json
	Level  string `yaml:"level" mapstructure:"level"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			BaseURL:        "https://www.ecfr.gov/api",
			UserAgent:      "cfrfetch/0.1 (+https://github.com/ppiankov/cfrfetch)",
			ConnectTimeout: 20 * time.Second,
			Timeout:        10 * time.Minute,
			MaxBodyBytes:   1 << 30,
			MaxRedirects:   10,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 20,
			BurstSize:         1,
			SafetyRemaining:   5,
			MinWait:           time.Second,
			DefaultRetryAfter: 5 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 4,
			BaseDelay:   50 * time.Millisecond,
		},
		Run: RunConfig{
			DateField:     DateLatestIssue,
			FailurePolicy: FailureAbort,
			ValidateXML:   true,
		},
		Output: OutputConfig{
			Dir:       "output",
			Crosswalk: true,
			Report:    true,
			CSV:       true,
		},
		Cache: CacheConfig{
			Enabled:     true,
			AncestryTTL: time.Hour,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Validate checks settings that would otherwise fail deep inside a run
func (c *Config) Validate() error {
	if c.HTTP.BaseURL == "" {
		return fmt.Errorf("http.base_url required")
	}
	if c.RateLimiting.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limiting.requests_per_second must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must not be negative")
	}
	if c.Run.Date == "" && !c.Run.DateField.Valid() {
		return fmt.Errorf("run.date_field %q unknown", c.Run.DateField)
	}
	if c.Run.Date != "" {
		if _, err := time.Parse("2006-01-02", c.Run.Date); err != nil {
			return fmt.Errorf("run.date %q: want YYYY-MM-DD", c.Run.Date)
		}
	}
	switch c.Run.FailurePolicy {
	case FailureAbort, FailureIsolate:
	default:
		return fmt.Errorf("run.failure_policy %q unknown (abort, isolate)", c.Run.FailurePolicy)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q unknown (text, json)", c.Log.Format)
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir required")
	}
	return nil
}

// AsOf returns the date that scopes queries against t: the explicit run
// date when set, otherwise the title's configured date field.
func (r RunConfig) AsOf(t Title) string {
	if r.Date != "" {
		return r.Date
	}
	return t.AsOf(r.DateField)
}
