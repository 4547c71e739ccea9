// Package config provides the configuration system for adsync.
// A single Config structure describes one extraction deployment: the
// Google Ads credentials, the run parameters that form the extraction run
// context, where schemas are read from, and which sink receives the records.
//
// The configuration is organized into logical sections:
//   - GoogleAds: API credentials and endpoint
//   - Run: customers, start date, conversion window, first-run mode
//   - Schemas: location of the per-resource schema files
//   - Destination: sink type and per-sink settings
//   - State: where incremental state is persisted
//   - Reliability and Timeouts: client-side throttling and timeouts
//   - Observability: logging, metrics and tracing
//   - Schedule: cron expression for the serve command
//
// Example usage:
//
//	cfg := config.NewConfig()
//	cfg.Run.CustomerIDs = []string{"1234567890"}
//	cfg.Run.StartDate = "2024-01-01"
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// FirstRunMode selects how the first-run flag of the run context is decided
type FirstRunMode string

const (
	// FirstRunAuto derives the flag from the state store
	FirstRunAuto FirstRunMode = "auto"
	// FirstRunTrue forces a full backfill from the start date
	FirstRunTrue FirstRunMode = "true"
	// FirstRunFalse forces an incremental run
	FirstRunFalse FirstRunMode = "false"
)

// Config is the top-level adsync configuration
type Config struct {
	// Name identifies the deployment in logs and metrics
	Name string `yaml:"name" json:"name"`
	// Version indicates the configuration version
	Version string `yaml:"version" json:"version"`

	GoogleAds     GoogleAdsConfig     `yaml:"google_ads" json:"google_ads"`
	Run           RunConfig           `yaml:"run" json:"run"`
	Schemas       SchemaConfig        `yaml:"schemas" json:"schemas"`
	Destination   DestinationConfig   `yaml:"destination" json:"destination"`
	State         StateConfig         `yaml:"state" json:"state"`
	Reliability   ReliabilityConfig   `yaml:"reliability" json:"reliability"`
	Timeouts      TimeoutConfig       `yaml:"timeouts" json:"timeouts"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Schedule      ScheduleConfig      `yaml:"schedule" json:"schedule"`
}

// GoogleAdsConfig holds Google Ads API credentials.
// Either the OAuth triple (client id, secret, refresh token) or a service
// account key must be provided.
type GoogleAdsConfig struct {
	DeveloperToken     string `yaml:"developer_token" json:"developer_token"`
	ClientID           string `yaml:"client_id" json:"client_id"`
	ClientSecret       string `yaml:"client_secret" json:"client_secret"`
	RefreshToken       string `yaml:"refresh_token" json:"refresh_token"`
	ServiceAccountFile string `yaml:"service_account_file" json:"service_account_file"`
	ServiceAccountJSON string `yaml:"service_account_json" json:"service_account_json"`
	ImpersonatedEmail  string `yaml:"impersonated_email" json:"impersonated_email"`
	LoginCustomerID    string `yaml:"login_customer_id" json:"login_customer_id"`
	APIVersion         string `yaml:"api_version" json:"api_version"`
	Endpoint           string `yaml:"endpoint" json:"endpoint"`
}

// UsesServiceAccount reports whether service account credentials are configured
func (g GoogleAdsConfig) UsesServiceAccount() bool {
	return g.ServiceAccountFile != "" || g.ServiceAccountJSON != ""
}

// RunConfig holds the values that make up the extraction run context
type RunConfig struct {
	CustomerIDs          []string     `yaml:"customer_ids" json:"customer_ids"`
	StartDate            string       `yaml:"start_date" json:"start_date"`
	ConversionWindowDays int          `yaml:"conversion_window_days" json:"conversion_window_days"`
	FirstRun             FirstRunMode `yaml:"first_run" json:"first_run"`
	// LookbackDays caps daily-sliced resources on first runs
	LookbackDays int `yaml:"lookback_days" json:"lookback_days"`
	// Resources to extract; empty means the default set
	Resources []string `yaml:"resources,omitempty" json:"resources,omitempty"`
	// Concurrency is the number of resources extracted in parallel
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// TimeZone is the IANA zone used to evaluate "today"
	TimeZone string `yaml:"time_zone" json:"time_zone"`
}

// Start parses StartDate
func (r RunConfig) Start() (civil.Date, error) {
	return civil.ParseDate(r.StartDate)
}

// Location resolves TimeZone, defaulting to the local zone
func (r RunConfig) Location() (*time.Location, error) {
	if r.TimeZone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(r.TimeZone)
}

// SchemaConfig points at the schema files.
// An empty Dir selects the schemas embedded in the binary.
type SchemaConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// StateConfig selects the incremental state store
type StateConfig struct {
	// Type is one of "file", "gcs" or "memory"
	Type   string `yaml:"type" json:"type"`
	Path   string `yaml:"path" json:"path"`
	Bucket string `yaml:"bucket" json:"bucket"`
	Object string `yaml:"object" json:"object"`
}

// ReliabilityConfig contains client-side throttling settings.
// Failed requests are never retried by adsync.
type ReliabilityConfig struct {
	RateLimitPerSec  float64       `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	RateBurst        int           `yaml:"rate_burst" json:"rate_burst"`
	CircuitBreaker   bool          `yaml:"circuit_breaker" json:"circuit_breaker"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold" json:"success_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout" json:"open_timeout"`
}

// TimeoutConfig contains timeout settings
type TimeoutConfig struct {
	// Connection bounds dialing and TLS handshakes
	Connection time.Duration `yaml:"connection" json:"connection"`
	// ResponseHeader bounds the wait for the first byte of a stream
	ResponseHeader time.Duration `yaml:"response_header" json:"response_header"`
	// Run bounds an entire run; zero disables it
	Run time.Duration `yaml:"run" json:"run"`
}

// ObservabilityConfig contains logging, metrics and tracing settings
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level" json:"log_level"`
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	LogFile     string `yaml:"log_file" json:"log_file"`
	// MetricsAddr serves /metrics when set, e.g. ":9102"
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// PushGateway receives metrics at the end of one-shot runs
	PushGateway       string  `yaml:"push_gateway" json:"push_gateway"`
	EnableTracing     bool    `yaml:"enable_tracing" json:"enable_tracing"`
	TracingOutput     string  `yaml:"tracing_output" json:"tracing_output"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// ScheduleConfig configures the serve command
type ScheduleConfig struct {
	Cron       string `yaml:"cron" json:"cron"`
	RunOnStart bool   `yaml:"run_on_start" json:"run_on_start"`
}

// NewConfig creates a Config with defaults filled in
func NewConfig() *Config {
	return &Config{
		Name:    "adsync",
		Version: "1.0.0",
		GoogleAds: GoogleAdsConfig{
			APIVersion: "v21",
			Endpoint:   "https://googleads.googleapis.com",
		},
		Run: RunConfig{
			ConversionWindowDays: 30,
			FirstRun:             FirstRunAuto,
			LookbackDays:         90,
			Concurrency:          1,
		},
		Destination: DestinationConfig{
			Type:      "files",
			BatchSize: 5000,
			Files: FilesConfig{
				URL:         "file://./output",
				Format:      "jsonl",
				Compression: "none",
			},
		},
		State: StateConfig{
			Type: "file",
			Path: ".adsync/state.json",
		},
		Reliability: ReliabilityConfig{
			RateLimitPerSec:  10,
			RateBurst:        5,
			CircuitBreaker:   true,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			OpenTimeout:      30 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Connection:     10 * time.Second,
			ResponseHeader: 2 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogEncoding:       "json",
			TracingSampleRate: 1.0,
		},
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var problems []string

	if len(c.Run.CustomerIDs) == 0 {
		problems = append(problems, "run.customer_ids must not be empty")
	}
	for _, id := range c.Run.CustomerIDs {
		if strings.Contains(id, "-") {
			problems = append(problems, fmt.Sprintf("run.customer_ids: %q must not contain dashes", id))
		}
	}
	if _, err := c.Run.Start(); err != nil {
		problems = append(problems, fmt.Sprintf("run.start_date: %v", err))
	}
	if c.Run.ConversionWindowDays < 0 {
		problems = append(problems, "run.conversion_window_days must be >= 0")
	}
	if c.Run.LookbackDays < 0 {
		problems = append(problems, "run.lookback_days must be >= 0")
	}
	if c.Run.Concurrency < 1 {
		problems = append(problems, "run.concurrency must be >= 1")
	}
	switch c.Run.FirstRun {
	case FirstRunAuto, FirstRunTrue, FirstRunFalse:
	default:
		problems = append(problems, fmt.Sprintf("run.first_run: unknown mode %q", c.Run.FirstRun))
	}
	if _, err := c.Run.Location(); err != nil {
		problems = append(problems, fmt.Sprintf("run.time_zone: %v", err))
	}

	if c.GoogleAds.DeveloperToken == "" {
		problems = append(problems, "google_ads.developer_token is required")
	}
	if !c.GoogleAds.UsesServiceAccount() {
		if c.GoogleAds.ClientID == "" || c.GoogleAds.ClientSecret == "" || c.GoogleAds.RefreshToken == "" {
			problems = append(problems, "google_ads: client_id, client_secret and refresh_token are required without a service account")
		}
	}

	switch c.State.Type {
	case "file":
		if c.State.Path == "" {
			problems = append(problems, "state.path is required for file state")
		}
	case "gcs":
		if c.State.Bucket == "" || c.State.Object == "" {
			problems = append(problems, "state.bucket and state.object are required for gcs state")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("state.type: unknown store %q", c.State.Type))
	}

	if c.Reliability.RateLimitPerSec < 0 {
		problems = append(problems, "reliability.rate_limit_per_sec must be >= 0")
	}

	if err := c.Destination.Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
