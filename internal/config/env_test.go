package config

import (
	"strings"
	"testing"
)

func TestLoadEnvConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"GNM_CONFIG_DIR", "GNM_PROMETHEUS", "GNM_METRICS_PORT",
		"GNM_REGION", "GNM_GEOIP_DB", "GNM_IDENTITY_REFRESH_SCHEDULE", "GNM_API_TOKEN",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ConfigDir != "./config" {
		t.Errorf("ConfigDir = %q", cfg.ConfigDir)
	}
	if cfg.Prometheus {
		t.Error("Prometheus should default to off")
	}
	if cfg.MetricsPort != 9464 {
		t.Errorf("MetricsPort = %d", cfg.MetricsPort)
	}
	if cfg.IdentityRefreshSchedule != "0 6 * * *" {
		t.Errorf("IdentityRefreshSchedule = %q", cfg.IdentityRefreshSchedule)
	}
}

func TestLoadEnvConfigOverrides(t *testing.T) {
	t.Setenv("GNM_CONFIG_DIR", "/etc/gnm")
	t.Setenv("GNM_PROMETHEUS", "1")
	t.Setenv("GNM_METRICS_PORT", "9100")
	t.Setenv("GNM_REGION", "EU")
	t.Setenv("GNM_COUNTRY", "DE")

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ConfigDir != "/etc/gnm" || !cfg.Prometheus || cfg.MetricsPort != 9100 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Region != "EU" || cfg.Country != "DE" {
		t.Fatalf("identity overrides = %+v", cfg)
	}
}

func TestLoadEnvConfigRejectsBadValues(t *testing.T) {
	t.Setenv("GNM_METRICS_PORT", "99999")
	t.Setenv("GNM_IDENTITY_REFRESH_SCHEDULE", "not a cron")
	t.Setenv("GNM_GEOIP_DB", "/does/not/exist.mmdb")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"GNM_METRICS_PORT", "GNM_IDENTITY_REFRESH_SCHEDULE", "GNM_GEOIP_DB"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestIsWeakToken(t *testing.T) {
	if IsWeakToken("") {
		t.Error("empty token should not be flagged")
	}
	if !IsWeakToken("abc123") {
		t.Error("trivial token should be weak")
	}
	if IsWeakToken("X9$kQz7!mP4vL2wN8rT5") {
		t.Error("long random token should not be weak")
	}
}
