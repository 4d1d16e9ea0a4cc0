package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.conf")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadStripsHashComments(t *testing.T) {
	path := writeTempConfig(t, `{
		# this is a comment
		"host": "127.0.0.1",
		"port": 8080,
		"private_key_path": "ca.key",
		"cacert_path": "ca.crt"
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 8080 {
		t.Errorf("cfg = %+v, want host=127.0.0.1 port=8080", cfg)
	}
}

func TestValidateRejectsMissingHost(t *testing.T) {
	cfg := &Config{Port: 8080, PrivateKeyPath: "a", CACertPath: "b"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing host")
	}
}

func TestValidateRequiresAuthCredentialsWhenAuthEnabled(t *testing.T) {
	cfg := &Config{Host: "127.0.0.1", Port: 8080, PrivateKeyPath: "a", CACertPath: "b", Auth: true}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when auth enabled without credentials")
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := &Config{Host: "127.0.0.1", Port: 8080, PrivateKeyPath: "a", CACertPath: "b"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
