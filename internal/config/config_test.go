package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if cfg.Identity.Audience != "drill" {
		t.Errorf("Identity.Audience = %q", cfg.Identity.Audience)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if cfg.StatusLog.Driver != "sqlite" || cfg.StatusLog.Path != "/var/lib/drill/status.db" {
		t.Errorf("StatusLog = %+v", cfg.StatusLog)
	}
	if len(cfg.Reference.Directories) != 2 {
		t.Errorf("Reference.Directories = %v", cfg.Reference.Directories)
	}
	if cfg.Progression.DiscoveryDuration != 45*time.Minute {
		t.Errorf("Progression.DiscoveryDuration = %v, want 45m", cfg.Progression.DiscoveryDuration)
	}
	if cfg.Notify.Driver != "redis" || cfg.Notify.DB != 2 || cfg.Notify.TTL != 5*time.Minute ||
		cfg.Notify.BreakerFailures != 3 || cfg.Notify.BreakerCooldown != time.Minute {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("Observability.LogLevel = %q", cfg.Observability.LogLevel)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_invalid(t *testing.T) {
	_, err := Load("testdata/invalid.yaml")
	if err == nil {
		t.Fatal("Load() with invalid config should return error")
	}
	for _, want := range []string{"server.port", "identity.issuer", "status_log.driver", "notify.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad_env_overrides(t *testing.T) {
	t.Setenv("DRILL_SERVER_PORT", "7070")
	t.Setenv("DRILL_LOG_LEVEL", "warn")
	t.Setenv("DRILL_STATUS_LOG_DRIVER", "memory")
	t.Setenv("DRILL_REFERENCE_DIRECTORIES", "/a,/b,/c")
	t.Setenv("DRILL_DISCOVERY_DURATION", "20m")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Observability.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.Observability.LogLevel)
	}
	if cfg.StatusLog.Driver != "memory" {
		t.Errorf("StatusLog.Driver = %q, want memory", cfg.StatusLog.Driver)
	}
	if len(cfg.Reference.Directories) != 3 {
		t.Errorf("Reference.Directories = %v", cfg.Reference.Directories)
	}
	if cfg.Progression.DiscoveryDuration != 20*time.Minute {
		t.Errorf("DiscoveryDuration = %v, want 20m", cfg.Progression.DiscoveryDuration)
	}
}

func TestValidate_identity_sources(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "iss"
	cfg.Identity.Audience = "aud"

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() without a key source should fail")
	}

	cfg.Identity.HMACSecretEnv = "DRILL_JWT_SECRET"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	cfg.Identity.JWKSURL = "https://auth/jwks"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with both key sources should fail")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.StatusLog.Driver != "memory" {
		t.Errorf("StatusLog.Driver = %q, want memory", cfg.StatusLog.Driver)
	}
	if cfg.Notify.Driver != "none" {
		t.Errorf("Notify.Driver = %q, want none", cfg.Notify.Driver)
	}
	if cfg.Progression.ExpiryCheckInterval != 30*time.Second {
		t.Errorf("ExpiryCheckInterval = %v", cfg.Progression.ExpiryCheckInterval)
	}
}
