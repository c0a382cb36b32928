package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadYAMLConfig(t *testing.T) {
	t.Setenv("PARKDECK_TEST_SECRET", "from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "parkdeck.yaml")
	content := `
server:
  port: 9090
auth:
  jwt_secret: ${PARKDECK_TEST_SECRET}
  production: true
storage:
  data_dir: /var/lib/parkdeck
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("jwt_secret = %q, want env-expanded value", cfg.Auth.JWTSecret)
	}
	if !cfg.Auth.Production {
		t.Error("production should be true")
	}
	if cfg.Storage.DataDir != "/var/lib/parkdeck" {
		t.Errorf("data_dir = %q", cfg.Storage.DataDir)
	}

	// Unset keys fall back to defaults.
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q, want default", cfg.Server.Host)
	}
	if cfg.Auth.LoginRateLimit != 5 {
		t.Errorf("login_rate_limit = %d, want default 5", cfg.Auth.LoginRateLimit)
	}
	if cfg.Auth.LoginRateWindow != "15m" {
		t.Errorf("login_rate_window = %q, want default", cfg.Auth.LoginRateWindow)
	}
}

func TestLoadYAMLConfigMissingFile(t *testing.T) {
	if _, err := LoadYAMLConfig("/nonexistent/parkdeck.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
