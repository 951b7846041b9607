// Package config provides configuration loading and validation for the sync
// engine and its CLI.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Resource names accepted by the sync orchestrator.
const (
	ResourceJobs         = "jobs"
	ResourceCandidates   = "candidates"
	ResourceApplications = "applications"
	ResourceMessages     = "messages"
	ResourceStages       = "stages"
	ResourceMovements    = "movements"
	ResourceAnswers      = "answers"
)

// Resources lists every configurable resource in backfill order.
var Resources = []string{
	ResourceStages,
	ResourceJobs,
	ResourceCandidates,
	ResourceApplications,
	ResourceMovements,
	ResourceMessages,
	ResourceAnswers,
}

// Config is the complete runtime configuration.
type Config struct {
	Teamtailor TeamtailorConfig `koanf:"teamtailor"`
	Database   DatabaseConfig   `koanf:"database"`
	Sync       SyncConfig       `koanf:"sync"`
	Log        LogConfig        `koanf:"log"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// TeamtailorConfig configures the provider API client.
type TeamtailorConfig struct {
	APIKey            string        `koanf:"api_key"`
	BaseURL           string        `koanf:"base_url" validate:"required,url"`
	APIVersion        string        `koanf:"api_version" validate:"required"`
	Timeout           time.Duration `koanf:"timeout" validate:"gt=0"`
	MaxRetries        int           `koanf:"max_retries" validate:"gte=0,lte=10"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gte=0"`
	ValidateResponses bool          `koanf:"validate_responses"`
	CircuitBreaker    bool          `koanf:"circuit_breaker"`
}

// DatabaseConfig configures the local store.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// ResourceConfig holds the fetch parameters for one resource class.
type ResourceConfig struct {
	// Paths are tried in order; a 404 falls through to the next one.
	Paths    []string `koanf:"paths" validate:"required,min=1,dive,required"`
	PageSize int      `koanf:"page_size" validate:"gte=0,lte=100"`
	Include  []string `koanf:"include"`
	// Sort is empty for endpoints without reliable update timestamps.
	Sort string `koanf:"sort"`
}

// IncludeParam returns the comma-joined include list.
func (r ResourceConfig) IncludeParam() string {
	return strings.Join(r.Include, ",")
}

// SyncConfig configures the orchestrator and the job layer.
type SyncConfig struct {
	Resources map[string]ResourceConfig `koanf:"resources" validate:"dive"`
	// AnswersInline resolves answers during application sync. When false,
	// application polling is lightweight and answers are left to backfill.
	AnswersInline   bool          `koanf:"answers_inline"`
	Interval        time.Duration `koanf:"interval" validate:"gt=0"`
	// DesyncInterval and AnswersInterval schedule the enrichment passes in
	// the worker. Zero disables the schedule; the jobs stay triggerable.
	DesyncInterval  time.Duration `koanf:"desync_interval" validate:"gte=0"`
	AnswersInterval time.Duration `koanf:"answers_interval" validate:"gte=0"`
	Jitter          time.Duration `koanf:"jitter" validate:"gte=0"`
	LockTTL         time.Duration `koanf:"lock_ttl" validate:"gt=0"`
	BackfillLockTTL time.Duration `koanf:"backfill_lock_ttl" validate:"gt=0"`
	DesyncLockTTL   time.Duration `koanf:"desync_lock_ttl" validate:"gt=0"`
	AnswersLockTTL  time.Duration `koanf:"answers_lock_ttl" validate:"gt=0"`
	BatchSize       int           `koanf:"batch_size" validate:"gte=1,lte=10000"`
	Workers         int           `koanf:"workers" validate:"gte=1,lte=8"`
	JobMaxAttempts  int           `koanf:"job_max_attempts" validate:"gte=1,lte=20"`
	// PollStages and PollMovements add those resources to the standard poll.
	PollStages    bool `koanf:"poll_stages"`
	PollMovements bool `koanf:"poll_movements"`
}

// Resource returns the configuration for name, falling back to defaults for
// resources missing from the loaded map.
func (s SyncConfig) Resource(name string) (ResourceConfig, bool) {
	if rc, ok := s.Resources[name]; ok {
		return rc, true
	}
	rc, ok := DefaultResources()[name]
	return rc, ok
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error disabled off"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// MetricsConfig configures the worker's admin listener.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	// AdminToken guards POST /sync/{job}. Empty leaves triggers open.
	AdminToken string `koanf:"admin_token"`
	// TriggersPerMinute caps manual triggers per client. Zero disables the cap.
	TriggersPerMinute int `koanf:"triggers_per_minute" validate:"gte=0"`
}

// DefaultResources returns the stock endpoint list and fetch parameters.
func DefaultResources() map[string]ResourceConfig {
	return map[string]ResourceConfig{
		ResourceJobs: {
			Paths:    []string{"/jobs"},
			PageSize: 30,
			Include:  []string{"questions", "stages"},
			Sort:     "-updated-at",
		},
		ResourceCandidates: {
			Paths:    []string{"/candidates"},
			PageSize: 30,
			Sort:     "-updated-at",
		},
		ResourceApplications: {
			Paths:    []string{"/job-applications"},
			PageSize: 30,
			Include:  []string{"job", "candidate", "stage", "answers", "answers.question"},
			Sort:     "-updated-at",
		},
		ResourceMessages: {
			Paths:    []string{"/messages", "/activities"},
			PageSize: 30,
			Sort:     "-updated-at",
		},
		ResourceStages: {
			Paths:    []string{"/stages", "/pipeline-stages"},
			PageSize: 30,
			Include:  []string{"job"},
		},
		ResourceMovements: {
			Paths:    []string{"/stage-movements", "/job-application-stage-movements"},
			PageSize: 30,
			Include:  []string{"job-application", "from-stage", "to-stage"},
			Sort:     "-created-at",
		},
		ResourceAnswers: {
			Paths:    []string{"/answers"},
			PageSize: 30,
			Include:  []string{"question"},
		},
	}
}

// Default returns a Config populated with production defaults.
func Default() *Config {
	return &Config{
		Teamtailor: TeamtailorConfig{
			BaseURL:           "https://api.teamtailor.com/v1",
			APIVersion:        "20240904",
			Timeout:           30 * time.Second,
			MaxRetries:        5,
			RequestsPerSecond: 5,
			ValidateResponses: true,
			CircuitBreaker:    true,
		},
		Sync: SyncConfig{
			Resources:       DefaultResources(),
			AnswersInline:   true,
			Interval:        5 * time.Minute,
			DesyncInterval:  time.Hour,
			AnswersInterval: 15 * time.Minute,
			Jitter:          30 * time.Second,
			LockTTL:         30 * time.Minute,
			BackfillLockTTL: 6 * time.Hour,
			DesyncLockTTL:   10 * time.Minute,
			AnswersLockTTL:  15 * time.Minute,
			BatchSize:       200,
			Workers:         4,
			JobMaxAttempts:  3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr:              ":9090",
			TriggersPerMinute: 6,
		},
	}
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("'%s' failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config error: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config error: %w", err)
	}

	for name := range c.Sync.Resources {
		if !slices.Contains(Resources, name) {
			return fmt.Errorf("config error: unknown sync resource %q", name)
		}
	}
	if c.Sync.LockTTL < c.Sync.Interval {
		return fmt.Errorf("config error: 'sync.lock_ttl' (%s) must not be shorter than 'sync.interval' (%s)", c.Sync.LockTTL, c.Sync.Interval)
	}
	return nil
}

// RequireAPIKey reports a config error when no provider credential is set.
// Only commands that talk to the provider call it.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.Teamtailor.APIKey) == "" {
		return fmt.Errorf("config error: 'teamtailor.api_key' is required (set TEAMTAILOR_API_KEY)")
	}
	return nil
}

// RequireDatabase reports a config error when no database URL is set.
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("config error: 'database.url' is required (set DATABASE_URL)")
	}
	return nil
}
