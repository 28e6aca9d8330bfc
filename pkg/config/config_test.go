package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "teamforge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAPIConfigDefaults(t *testing.T) {
	t.Setenv("TEAMFORGE_CONFIG", "")
	cfg, err := LoadAPIConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":4000" || cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.InviteLinkSecret != cfg.JWTSecret {
		t.Fatalf("expected link secret to fall back to the jwt secret")
	}
	if cfg.InviteTTL() != 7*24*time.Hour {
		t.Fatalf("unexpected invite ttl %s", cfg.InviteTTL())
	}
}

func TestLoadAPIConfigFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
addr: ":9000"
store_driver: memory
public_base_url: https://teams.example/
invite_ttl_hours: 48
notify_kafka_brokers: [k1:9092]
`)
	t.Setenv("API_ADDR", ":9100")
	t.Setenv("NOTIFY_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := LoadAPIConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("expected env to win over file, got %q", cfg.Addr)
	}
	if cfg.StoreDriver != StoreDriverMemory || cfg.InviteTTLHours != 48 {
		t.Fatalf("expected file values, got %+v", cfg)
	}
	if cfg.PublicBaseURL != "https://teams.example" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.PublicBaseURL)
	}
	if len(cfg.NotifyKafkaBrokers) != 2 || cfg.NotifyKafkaBrokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", cfg.NotifyKafkaBrokers)
	}
}

func TestLoadAPIConfigErrors(t *testing.T) {
	if _, err := LoadAPIConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	t.Setenv("STORE_DRIVER", "sqlite")
	if _, err := LoadAPIConfig(""); err == nil {
		t.Fatal("expected error for unknown store driver")
	}
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("INVITE_TTL_HOURS", "abc")
	if _, err := LoadAPIConfig(""); err == nil {
		t.Fatal("expected error for malformed number")
	}
}

func TestGetStringDistinguishesUnsetFromEmpty(t *testing.T) {
	if got := GetString("TEAMFORGE_TEST_UNSET_KEY", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("TEAMFORGE_TEST_KEY", "")
	if got := GetString("TEAMFORGE_TEST_KEY", "fallback"); got != "" {
		t.Fatalf("expected empty value, got %q", got)
	}
}
