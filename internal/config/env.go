package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings. These are process
// concerns (feature flags, vantage overrides, paths) as opposed to the
// file-based monitoring configuration.
type EnvConfig struct {
	ConfigDir string

	// Metrics exporter feature flag.
	Prometheus  bool
	MetricsPort int

	// Identity overrides and geo database.
	Region                  string
	Country                 string
	City                    string
	PublicIP                string
	GeoIPDBPath             string
	IdentityRefreshSchedule string

	// Read API auth. Empty means auth disabled.
	APIToken string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.ConfigDir = envStr("GNM_CONFIG_DIR", "./config")
	cfg.Prometheus = envBool("GNM_PROMETHEUS")
	cfg.MetricsPort = envInt("GNM_METRICS_PORT", 9464, &errs)

	cfg.Region = strings.TrimSpace(os.Getenv("GNM_REGION"))
	cfg.Country = strings.TrimSpace(os.Getenv("GNM_COUNTRY"))
	cfg.City = strings.TrimSpace(os.Getenv("GNM_CITY"))
	cfg.PublicIP = strings.TrimSpace(os.Getenv("GNM_PUBLIC_IP"))
	cfg.GeoIPDBPath = strings.TrimSpace(os.Getenv("GNM_GEOIP_DB"))
	cfg.IdentityRefreshSchedule = envStr("GNM_IDENTITY_REFRESH_SCHEDULE", "0 6 * * *")
	cfg.APIToken = os.Getenv("GNM_API_TOKEN")

	if cfg.MetricsPort < 1 || cfg.MetricsPort > 65535 {
		errs = append(errs, fmt.Sprintf("GNM_METRICS_PORT: port must be 1-65535, got %d", cfg.MetricsPort))
	}
	if _, err := cron.ParseStandard(cfg.IdentityRefreshSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("GNM_IDENTITY_REFRESH_SCHEDULE: invalid cron expression %q: %v", cfg.IdentityRefreshSchedule, err))
	}
	if cfg.GeoIPDBPath != "" {
		if _, err := os.Stat(cfg.GeoIPDBPath); err != nil {
			errs = append(errs, fmt.Sprintf("GNM_GEOIP_DB: %v", err))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string) bool {
	return os.Getenv(key) == "1"
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}
