package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("logging level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Stream.MaxWindow != 500 || cfg.Stream.SwingK != 3 {
		t.Errorf("stream defaults = %+v", cfg.Stream)
	}
	if cfg.TA.RSIPeriod != 14 || cfg.TA.BollingerMult != 2.0 {
		t.Errorf("ta defaults = %+v", cfg.TA)
	}
	if cfg.Strategy.TargetR != 2.5 || cfg.Strategy.MinScoreBreakout != 85 {
		t.Errorf("strategy defaults = %+v", cfg.Strategy)
	}
	if cfg.Dist.PendingLimit != 4096 || cfg.Dist.SendBuffer != 256 {
		t.Errorf("dist defaults = %+v", cfg.Dist)
	}
	if cfg.Broker.MaxAttempts != 5 || cfg.Broker.RetryBase != time.Second {
		t.Errorf("broker defaults = %+v", cfg.Broker)
	}
	if cfg.Execution.Symbol != "ES" || !cfg.Execution.Paper {
		t.Errorf("execution defaults = %+v", cfg.Execution)
	}
	if cfg.SQLite.Path != "data/candles.db" || cfg.SQLite.BatchSize != 100 {
		t.Errorf("sqlite defaults = %+v", cfg.SQLite)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.MaxLen != 12000 || !cfg.Redis.Enabled {
		t.Errorf("redis defaults = %+v", cfg.Redis)
	}
	if cfg.Core.SnapshotEvery != 30*time.Second || cfg.Core.PlanDays != 2 || cfg.Core.WarmupTF != 5*time.Minute {
		t.Errorf("core defaults = %+v", cfg.Core)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("http addr = %q, want :8080", cfg.HTTP.Addr)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.Stream.MaxWindow != 500 {
		t.Errorf("defaults not applied: %+v", cfg.Stream)
	}
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	body := `
logging:
  level: debug
  format: console
stream:
  max_window: 120
broker:
  base_url: https://broker.example.com
  max_attempts: 3
execution:
  paper: false
  symbol: NQ
redis:
  addr: redis-prod:6379
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("logging overrides lost: %+v", cfg.Logging)
	}
	if cfg.Stream.MaxWindow != 120 {
		t.Errorf("stream.max_window = %d, want 120", cfg.Stream.MaxWindow)
	}
	if cfg.Broker.BaseURL != "https://broker.example.com" || cfg.Broker.MaxAttempts != 3 {
		t.Errorf("broker overrides lost: %+v", cfg.Broker)
	}
	if cfg.Execution.Paper || cfg.Execution.Symbol != "NQ" {
		t.Errorf("execution overrides lost: %+v", cfg.Execution)
	}
	if cfg.Redis.Addr != "redis-prod:6379" {
		t.Errorf("redis.addr = %q", cfg.Redis.Addr)
	}
	// untouched sections keep their defaults
	if cfg.Strategy.TargetR != 2.5 {
		t.Errorf("strategy default lost: %+v", cfg.Strategy)
	}
	if cfg.Stream.SwingK != 3 {
		t.Errorf("stream.swing_lookback default lost: %d", cfg.Stream.SwingK)
	}
}

func TestLoadEnvSecrets(t *testing.T) {
	t.Setenv("MF_BROKER_API_KEY", "key-from-env")
	t.Setenv("MF_BROKER_TOTP_SECRET", "JBSWY3DPEHPK3PXP")
	t.Setenv("MF_BROKER_CLIENT_CODE", "CC42")
	t.Setenv("MF_REDIS_PASSWORD", "hunter2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.APIKey != "key-from-env" {
		t.Errorf("api key = %q", cfg.Broker.APIKey)
	}
	if cfg.Broker.TOTPSecret != "JBSWY3DPEHPK3PXP" {
		t.Errorf("totp secret = %q", cfg.Broker.TOTPSecret)
	}
	if cfg.Broker.ClientCode != "CC42" {
		t.Errorf("client code = %q", cfg.Broker.ClientCode)
	}
	if cfg.Redis.Password != "hunter2" {
		t.Errorf("redis password = %q", cfg.Redis.Password)
	}
	if err := cfg.RequireBrokerCreds(); err != nil {
		t.Errorf("RequireBrokerCreds with all secrets: %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	body := `
stream:
  max_window: 5
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for max_window 5")
	}
}

func TestRequireBrokerCredsMissing(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Broker.APIKey = ""
	cfg.Broker.TOTPSecret = ""
	if err := cfg.RequireBrokerCreds(); err == nil {
		t.Fatal("expected error without broker secrets")
	}
}
