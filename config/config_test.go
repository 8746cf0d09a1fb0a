package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != Defaults() {
		t.Fatalf("defaults changed by Normalize: %+v", cfg)
	}
	if cfg.TickInterval() != 50*time.Millisecond {
		t.Fatalf("tick interval = %s", cfg.TickInterval())
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	p := writeConfig(t, `
udp_addr: "127.0.0.1:9000"
tick_rate_hz: 30
session_timeout: 2500ms
max_warnings: 0
log_level: " DEBUG "
require_login: true
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UDPAddr != "127.0.0.1:9000" || cfg.TickRateHz != 30 || cfg.SessionTimeout != 2500*time.Millisecond {
		t.Fatalf("overrides lost: %+v", cfg)
	}
	if cfg.MaxWarnings != Defaults().MaxWarnings || cfg.LogLevel != "debug" || !cfg.RequireLogin {
		t.Fatalf("normalize: %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"datagram too small": "max_datagram_size: 8\n",
		"bad log level":      "log_level: chatty\n",
		"tick too fast":      "tick_rate_hz: 5000\n",
		"login without db":   "require_login: true\naccounts_db: \"\"\n",
		"bad yaml":           "udp_addr: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadBundledConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "configs", "server.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.HasSuffix(cfg.GamesDir, "games") {
		t.Fatalf("games_dir = %q", cfg.GamesDir)
	}
}
