package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "CONFIG_PATH"

// DefaultPaths are searched in order when no path is given. JSON files are
// read by the YAML parser.
var DefaultPaths = []string{
	"config.yaml",
	"config.yml",
	"config.json",
	"/etc/ats-sync/config.yaml",
}

var envMappings = map[string]string{
	"teamtailor_api_key":             "teamtailor.api_key",
	"teamtailor_base_url":            "teamtailor.base_url",
	"teamtailor_api_version":         "teamtailor.api_version",
	"teamtailor_timeout":             "teamtailor.timeout",
	"teamtailor_max_retries":         "teamtailor.max_retries",
	"teamtailor_requests_per_second": "teamtailor.requests_per_second",
	"teamtailor_validate_responses":  "teamtailor.validate_responses",
	"teamtailor_circuit_breaker":     "teamtailor.circuit_breaker",
	"teamtailor_answers_inline":      "sync.answers_inline",

	"database_url": "database.url",

	"sync_interval":          "sync.interval",
	"sync_desync_interval":   "sync.desync_interval",
	"sync_answers_interval":  "sync.answers_interval",
	"sync_jitter":            "sync.jitter",
	"sync_lock_ttl":          "sync.lock_ttl",
	"sync_backfill_lock_ttl": "sync.backfill_lock_ttl",
	"sync_desync_lock_ttl":   "sync.desync_lock_ttl",
	"sync_answers_lock_ttl":  "sync.answers_lock_ttl",
	"sync_batch_size":        "sync.batch_size",
	"sync_workers":           "sync.workers",
	"sync_job_max_attempts":  "sync.job_max_attempts",
	"sync_poll_stages":       "sync.poll_stages",
	"sync_poll_movements":    "sync.poll_movements",

	"log_level":    "log.level",
	"log_format":   "log.format",
	"log_caller":   "log.caller",
	"metrics_addr": "metrics.addr",

	"admin_token":               "metrics.admin_token",
	"admin_triggers_per_minute": "metrics.triggers_per_minute",
}

// resourceEnvSuffixes maps TEAMTAILOR_<NAME>_<SUFFIX> to resource fields.
var resourceEnvSuffixes = map[string]string{
	"path":      "paths",
	"paths":     "paths",
	"page_size": "page_size",
	"include":   "include",
	"sort":      "sort",
}

// Load reads configuration in layers: defaults, then the config file (path,
// CONFIG_PATH or the first of DefaultPaths that exists), then environment
// variables. The result is validated.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process list fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	applyResourceDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolvePath(path string) (string, error) {
	if path == "" {
		return findConfigFile(), nil
	}
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return path, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(PathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps an environment variable to a koanf path. Unmapped
// variables return "" and are ignored.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	rest, ok := strings.CutPrefix(key, "teamtailor_")
	if !ok {
		return ""
	}
	for _, name := range Resources {
		tail, ok := strings.CutPrefix(rest, name+"_")
		if !ok {
			continue
		}
		if field, ok := resourceEnvSuffixes[tail]; ok {
			return "sync.resources." + name + "." + field
		}
	}
	return ""
}

// processSliceFields splits comma-separated strings that came from the
// environment into lists.
func processSliceFields(k *koanf.Koanf) error {
	for _, name := range Resources {
		for _, field := range []string{"paths", "include"} {
			path := "sync.resources." + name + "." + field
			strVal, ok := k.Get(path).(string)
			if !ok {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// applyResourceDefaults fills resources or fields a partial file left empty.
func applyResourceDefaults(cfg *Config) {
	if cfg.Sync.Resources == nil {
		cfg.Sync.Resources = make(map[string]ResourceConfig)
	}
	for name, def := range DefaultResources() {
		rc, ok := cfg.Sync.Resources[name]
		if !ok {
			cfg.Sync.Resources[name] = def
			continue
		}
		if len(rc.Paths) == 0 {
			rc.Paths = def.Paths
		}
		if rc.PageSize == 0 {
			rc.PageSize = def.PageSize
		}
		cfg.Sync.Resources[name] = rc
	}
}
