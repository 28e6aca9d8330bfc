package main

import (
	"strings"
	"testing"

	apiclient "github.com/splax/teamforge/pkg/api/client"
)

func TestConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load empty config: %v", err)
	}
	if cfg.APIBaseURL != defaultAPIBase || cfg.AccessToken != "" {
		t.Fatalf("unexpected default config %+v", cfg)
	}

	cfg.AccessToken = "tok"
	cfg.APIBaseURL = "http://api.test"
	if err := saveConfig(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := loadConfig()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got != cfg {
		t.Fatalf("expected %+v, got %+v", cfg, got)
	}
}

func TestSessionRequiresLogin(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	t.Setenv("TEAMFORGE_TOKEN", "")

	if _, _, err := session(); err == nil || !strings.Contains(err.Error(), "login") {
		t.Fatalf("expected login hint, got %v", err)
	}
	t.Setenv("TEAMFORGE_TOKEN", "from-env")
	_, token, err := session()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if token != "from-env" {
		t.Fatalf("expected env token, got %q", token)
	}
}

func TestPositional(t *testing.T) {
	if _, err := positional([]string{"a"}, 2, "x"); err == nil {
		t.Fatal("expected usage error for missing argument")
	}
	if _, err := positional([]string{"a", "  "}, 2, "x"); err == nil {
		t.Fatal("expected usage error for blank argument")
	}
	got, err := positional([]string{" a ", "b", "extra"}, 2, "x")
	if err != nil || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected %v, %v", got, err)
	}
}

func TestRenderConsensusListsEveryMember(t *testing.T) {
	p1 := "p1"
	out := renderConsensus(apiclient.Consensus{
		TeamID:     "t1",
		Selections: map[string]*string{"u2": nil, "u1": &p1},
	})
	if !strings.Contains(out, "no consensus yet") || !strings.Contains(out, "(none)") {
		t.Fatalf("unexpected output %q", out)
	}
	if strings.Index(out, "u1") > strings.Index(out, "u2") {
		t.Fatalf("expected members sorted, got %q", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Fatalf("unexpected %q", got)
	}
	if got := truncate("abc", 4); got != "abc" {
		t.Fatalf("unexpected %q", got)
	}
}
