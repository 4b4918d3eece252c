// Package config loads proxy configuration from environment variables
// (optionally via a .env file, loaded by the caller with godotenv) and an
// optional YAML overlay, following the same getEnv*-with-default pattern
// used throughout this codebase's lineage.
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything cmd/proxy needs to start the listener, the cache,
// and the admin server.
type Config struct {
	ListenAddr     string // TCP address the forward proxy itself listens on, e.g. ":9999"
	AdminAddr      string // TCP address the /metrics and /healthz server listens on
	CacheMaxSize   int    // total cache byte budget
	CacheMaxObject int    // per-object byte budget
	MetricsEnabled bool
	TracingEnabled bool
}

const (
	defaultListenAddr     = ":9999"
	defaultAdminAddr      = ":9100"
	defaultCacheMaxSize   = 1048576
	defaultCacheMaxObject = 102400
	defaultMetricsEnabled = true
	defaultTracingEnabled = false
)

// overlay mirrors the subset of configs/config.yaml this package
// understands; every field is optional and only overrides the
// environment-derived default when present.
type overlay struct {
	Proxy *struct {
		ListenAddr     string `yaml:"listen_addr"`
		AdminAddr      string `yaml:"admin_addr"`
		CacheMaxSize   *int   `yaml:"cache_max_size"`
		CacheMaxObject *int   `yaml:"cache_max_object"`
		MetricsEnabled *bool  `yaml:"metrics_enabled"`
		TracingEnabled *bool  `yaml:"tracing_enabled"`
	} `yaml:"proxy"`
}

// Load reads environment variables, applies an optional configs/config.yaml
// (or .yml) overlay on top, and returns the Config. Values are not
// range-checked; an environment value that does not parse falls back to
// its default, and the returned error is always nil. Callers
// typically run godotenv.Load() before calling Load so .env-file values
// appear as environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:     getEnv("PROXY_LISTEN", defaultListenAddr),
		AdminAddr:      getEnv("PROXY_ADMIN_LISTEN", defaultAdminAddr),
		CacheMaxSize:   getEnvInt("PROXY_CACHE_MAX_SIZE", defaultCacheMaxSize),
		CacheMaxObject: getEnvInt("PROXY_CACHE_MAX_OBJECT", defaultCacheMaxObject),
		MetricsEnabled: getEnvBool("PROXY_METRICS_ENABLED", defaultMetricsEnabled),
		TracingEnabled: getEnvBool("PROXY_TRACING_ENABLED", defaultTracingEnabled),
	}

	applyYAMLOverlay(cfg)
	return cfg, nil
}

func applyYAMLOverlay(cfg *Config) {
	for _, path := range []string{"configs/config.yaml", "configs/config.yml"} {
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var ov overlay
		if err := yaml.Unmarshal(b, &ov); err != nil || ov.Proxy == nil {
			return
		}
		if ov.Proxy.ListenAddr != "" {
			cfg.ListenAddr = ov.Proxy.ListenAddr
		}
		if ov.Proxy.AdminAddr != "" {
			cfg.AdminAddr = ov.Proxy.AdminAddr
		}
		if ov.Proxy.CacheMaxSize != nil {
			cfg.CacheMaxSize = *ov.Proxy.CacheMaxSize
		}
		if ov.Proxy.CacheMaxObject != nil {
			cfg.CacheMaxObject = *ov.Proxy.CacheMaxObject
		}
		if ov.Proxy.MetricsEnabled != nil {
			cfg.MetricsEnabled = *ov.Proxy.MetricsEnabled
		}
		if ov.Proxy.TracingEnabled != nil {
			cfg.TracingEnabled = *ov.Proxy.TracingEnabled
		}
		return
	}
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}
