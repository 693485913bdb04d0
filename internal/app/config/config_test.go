package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
producer:
  source_id: sensor-1
gateway:
  breaker:
    failure_threshold: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Producer.Interval != 2*time.Second {
		t.Fatalf("expected interval default 2s, got %s", cfg.Producer.Interval)
	}
	if cfg.Producer.StdDevValue() != 0.05 || cfg.Producer.InitialValueValue() != 21.0 {
		t.Fatalf("unexpected walk defaults %v %v", cfg.Producer.StdDevValue(), cfg.Producer.InitialValueValue())
	}
	if cfg.Gateway.Breaker.FailureThreshold != 3 {
		t.Fatalf("expected threshold 3, got %d", cfg.Gateway.Breaker.FailureThreshold)
	}
	if cfg.Gateway.Breaker.Cooldown != 30*time.Second || cfg.Gateway.Breaker.CallTimeout != 5*time.Second {
		t.Fatalf("unexpected breaker defaults %+v", cfg.Gateway.Breaker)
	}
	if cfg.Store.Window != 5*time.Minute || cfg.Store.Driver != DriverMemory {
		t.Fatalf("unexpected store defaults %+v", cfg.Store)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Fatalf("expected default metrics addr :9100, got %s", cfg.Metrics.Addr)
	}
	if cfg.Producer.SourceID != "sensor-1" {
		t.Fatalf("expected source id sensor-1, got %s", cfg.Producer.SourceID)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Producer.Addr != ":8080" || cfg.Store.Addr != ":7000" || cfg.Gateway.Addr != ":8081" {
		t.Fatalf("unexpected listen defaults %s %s %s", cfg.Producer.Addr, cfg.Store.Addr, cfg.Gateway.Addr)
	}
}

func TestExplicitZeroStdDevSurvivesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "producer:\n  stddev: 0\n  initial_value: 0\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Producer.StdDevValue() != 0 || cfg.Producer.InitialValueValue() != 0 {
		t.Fatalf("explicit zero overwritten: %v %v", cfg.Producer.StdDevValue(), cfg.Producer.InitialValueValue())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_ADDR", ":9999")
	t.Setenv("BUS_MODE", "tcp")
	t.Setenv("BUS_ADDR", "hub:7400")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("STORE_CONN_STRING", "postgres://u:p@db/telemetry?sslmode=disable")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Addr != ":9999" || cfg.Bus.Mode != BusTCP || cfg.Bus.Addr != "hub:7400" {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Gateway, cfg.Bus)
	}
	if cfg.Store.Driver != DriverPostgres || cfg.Store.ConnString == "" {
		t.Fatalf("store env overrides not applied: %+v", cfg.Store)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bus mode":      "bus:\n  mode: kafka\n",
		"postgres conn": "store:\n  driver: postgres\n",
		"driver":        "store:\n  driver: sqlite\n",
		"upstream":      "gateway:\n  upstream_url: not-a-url\n",
		"log format":    "log:\n  format: xml\n",
		"stddev":        "producer:\n  stddev: -1\n",
	}
	for name, data := range cases {
		if _, err := Load(writeConfig(t, data)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
