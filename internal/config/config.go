// Package config loads and validates the three configuration artifacts: the
// main YAML config, the host catalog, and the service catalog.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gnmradar/gnm/internal/model"
)

// Artifact filenames inside the config directory.
const (
	MainConfigFile     = "config.yaml"
	HostCatalogFile    = "hosts.json"
	ServiceCatalogFile = "services.json"
)

// DBConfig holds datastore connection and pool settings.
type DBConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "postgres"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Path     string `yaml:"path"` // sqlite only

	PoolMinCached      int `yaml:"pool_mincached"`
	PoolMaxCached      int `yaml:"pool_maxcached"`
	PoolMaxConnections int `yaml:"pool_maxconnections"`
}

// Thresholds holds the latency/expiry classification knobs.
type Thresholds struct {
	PingWarnMS     int64 `yaml:"ping_warn_ms"`
	PingVerySlowMS int64 `yaml:"ping_very_slow_ms"`
	HTTPWarnMS     int64 `yaml:"http_warn_ms"`
	HTTPVerySlowMS int64 `yaml:"http_very_slow_ms"`
	DNSWarnMS      int64 `yaml:"dns_warn_ms"`
	TCPWarnMS      int64 `yaml:"tcp_warn_ms"`
	TCPVerySlowMS  int64 `yaml:"tcp_very_slow_ms"`
	JSONWarnMS     int64 `yaml:"json_warn_ms"`
	JSONVerySlowMS int64 `yaml:"json_very_slow_ms"`
	SSLWarnDays    int   `yaml:"ssl_warn_days"`
}

// CollectorConfig holds cycle pacing, worker cap, and per-type timeouts.
type CollectorConfig struct {
	IntervalSec     int        `yaml:"interval_sec"`
	MaxWorkers      int        `yaml:"max_workers"`
	PingTimeoutSec  int        `yaml:"ping_timeout_sec"`
	HTTPTimeoutSec  int        `yaml:"http_timeout_sec"`
	DNSTimeoutSec   int        `yaml:"dns_timeout_sec"`
	TCPTimeoutSec   int        `yaml:"tcp_timeout_sec"`
	MaxFailedCycles int        `yaml:"max_failed_cycles"`
	Thresholds      Thresholds `yaml:"thresholds"`
}

// LogConfig holds the logging façade settings.
type LogConfig struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// APIConfig holds settings for the bundled read API binary.
type APIConfig struct {
	Port int `yaml:"port"`
}

// MainConfig is the parsed config.yaml.
type MainConfig struct {
	Region    string          `yaml:"region"`
	DB        DBConfig        `yaml:"db"`
	Collector CollectorConfig `yaml:"collector"`
	Log       LogConfig       `yaml:"log"`
	API       APIConfig       `yaml:"api"`
}

// Interval returns the cycle interval as a duration.
func (c *CollectorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// TimeoutFor returns the probe timeout for the given check type.
// ssl_cert shares the TCP timeout and json_api shares the HTTP timeout,
// matching the knobs the config exposes.
func (c *CollectorConfig) TimeoutFor(t model.CheckType) time.Duration {
	switch t {
	case model.CheckPing:
		return time.Duration(c.PingTimeoutSec) * time.Second
	case model.CheckHTTP, model.CheckJSONAPI:
		return time.Duration(c.HTTPTimeoutSec) * time.Second
	case model.CheckDNS:
		return time.Duration(c.DNSTimeoutSec) * time.Second
	case model.CheckTCP, model.CheckSSLCert:
		return time.Duration(c.TCPTimeoutSec) * time.Second
	default:
		return time.Duration(c.TCPTimeoutSec) * time.Second
	}
}

// MaxTimeout returns the largest configured per-type timeout. Used to bound
// the shutdown drain budget.
func (c *CollectorConfig) MaxTimeout() time.Duration {
	max := c.PingTimeoutSec
	for _, v := range []int{c.HTTPTimeoutSec, c.DNSTimeoutSec, c.TCPTimeoutSec} {
		if v > max {
			max = v
		}
	}
	return time.Duration(max) * time.Second
}

// Snapshot is the immutable configuration view handed to the rest of the
// process. The service catalog may be refreshed per cycle via ReloadServices;
// everything else is fixed after Load.
type Snapshot struct {
	Main     MainConfig
	Hosts    map[string]model.HostSpec
	Services []model.ServiceSpec
}

// Load reads and validates all three artifacts from dir. It returns the
// snapshot, non-fatal warnings, and a fatal error if any artifact is
// missing, malformed, or fails validation.
func Load(dir string) (*Snapshot, []string, error) {
	main, warnings, err := loadMainConfig(filepath.Join(dir, MainConfigFile))
	if err != nil {
		return nil, nil, err
	}

	hosts, err := LoadHosts(filepath.Join(dir, HostCatalogFile))
	if err != nil {
		return nil, nil, err
	}

	services, err := LoadServices(filepath.Join(dir, ServiceCatalogFile), hosts)
	if err != nil {
		return nil, nil, err
	}

	return &Snapshot{Main: *main, Hosts: hosts, Services: services}, warnings, nil
}

func loadMainConfig(path string) (*MainConfig, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := defaultMainConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	var errs []string
	warnings := validateMainConfig(cfg, &errs)
	if len(errs) > 0 {
		return nil, nil, fmt.Errorf("config: validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return cfg, warnings, nil
}

func defaultMainConfig() *MainConfig {
	return &MainConfig{
		Region: "UNKNOWN",
		DB: DBConfig{
			Driver:             "sqlite",
			Port:               5432,
			PoolMinCached:      1,
			PoolMaxCached:      4,
			PoolMaxConnections: 8,
		},
		Collector: CollectorConfig{
			IntervalSec:     60,
			MaxWorkers:      8,
			PingTimeoutSec:  2,
			HTTPTimeoutSec:  10,
			DNSTimeoutSec:   3,
			TCPTimeoutSec:   5,
			MaxFailedCycles: 5,
			Thresholds: Thresholds{
				PingWarnMS:     500,
				PingVerySlowMS: 1500,
				HTTPWarnMS:     3000,
				HTTPVerySlowMS: 8000,
				DNSWarnMS:      1200,
				TCPWarnMS:      1500,
				TCPVerySlowMS:  4000,
				JSONWarnMS:     3000,
				JSONVerySlowMS: 8000,
				SSLWarnDays:    14,
			},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		API: APIConfig{Port: 8080},
	}
}

func validateMainConfig(cfg *MainConfig, errs *[]string) []string {
	var warnings []string

	if strings.TrimSpace(cfg.Region) == "" {
		*errs = append(*errs, "region must not be empty")
	}

	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			*errs = append(*errs, "db.path is required for driver sqlite")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.Host) == "" {
			*errs = append(*errs, "db.host is required for driver postgres")
		}
		if cfg.DB.Port < 1 || cfg.DB.Port > 65535 {
			*errs = append(*errs, fmt.Sprintf("db.port: port must be 1-65535, got %d", cfg.DB.Port))
		}
		if strings.TrimSpace(cfg.DB.Database) == "" {
			*errs = append(*errs, "db.database is required for driver postgres")
		}
	default:
		*errs = append(*errs, fmt.Sprintf("db.driver: unknown driver %q (allowed: sqlite, postgres)", cfg.DB.Driver))
	}

	validatePositive("db.pool_mincached", cfg.DB.PoolMinCached, errs)
	validatePositive("db.pool_maxcached", cfg.DB.PoolMaxCached, errs)
	validatePositive("db.pool_maxconnections", cfg.DB.PoolMaxConnections, errs)
	if cfg.DB.PoolMaxCached > cfg.DB.PoolMaxConnections {
		*errs = append(*errs, "db.pool_maxcached must be less than or equal to db.pool_maxconnections")
	}

	c := &cfg.Collector
	validatePositive("collector.interval_sec", c.IntervalSec, errs)
	validatePositive("collector.max_workers", c.MaxWorkers, errs)
	validatePositive("collector.ping_timeout_sec", c.PingTimeoutSec, errs)
	validatePositive("collector.http_timeout_sec", c.HTTPTimeoutSec, errs)
	validatePositive("collector.dns_timeout_sec", c.DNSTimeoutSec, errs)
	validatePositive("collector.tcp_timeout_sec", c.TCPTimeoutSec, errs)
	validatePositive("collector.max_failed_cycles", c.MaxFailedCycles, errs)
	if c.IntervalSec > 0 && c.IntervalSec < 10 {
		warnings = append(warnings, fmt.Sprintf("collector.interval_sec=%d is below the recommended minimum of 10", c.IntervalSec))
	}

	t := &c.Thresholds
	for _, f := range []struct {
		name string
		val  int64
	}{
		{"ping_warn_ms", t.PingWarnMS},
		{"ping_very_slow_ms", t.PingVerySlowMS},
		{"http_warn_ms", t.HTTPWarnMS},
		{"http_very_slow_ms", t.HTTPVerySlowMS},
		{"dns_warn_ms", t.DNSWarnMS},
		{"tcp_warn_ms", t.TCPWarnMS},
		{"tcp_very_slow_ms", t.TCPVerySlowMS},
		{"json_warn_ms", t.JSONWarnMS},
		{"json_very_slow_ms", t.JSONVerySlowMS},
	} {
		if f.val <= 0 {
			*errs = append(*errs, fmt.Sprintf("collector.thresholds.%s: must be positive, got %d", f.name, f.val))
		}
	}
	validatePositive("collector.thresholds.ssl_warn_days", t.SSLWarnDays, errs)

	if cfg.Log.MaxSizeMB <= 0 {
		*errs = append(*errs, fmt.Sprintf("log.max_size_mb: must be positive, got %d", cfg.Log.MaxSizeMB))
	}
	if cfg.Log.MaxBackups < 0 {
		*errs = append(*errs, fmt.Sprintf("log.max_backups: must not be negative, got %d", cfg.Log.MaxBackups))
	}
	if !validLogLevel(cfg.Log.Level) {
		*errs = append(*errs, fmt.Sprintf("log.level: unknown level %q (allowed: debug, info, warning, error, critical)", cfg.Log.Level))
	}
	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		*errs = append(*errs, fmt.Sprintf("api.port: port must be 1-65535, got %d", cfg.API.Port))
	}

	return warnings
}

func validLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warning", "warn", "error", "critical":
		return true
	}
	return false
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
