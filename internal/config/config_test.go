package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IMSYNC_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yml"))
	cfg := Load()
	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.ListenAddr)
	}
	if cfg.TypingTTLMS != 3000 {
		t.Errorf("expected typing TTL 3000ms, got %d", cfg.TypingTTLMS)
	}
	if cfg.ConnSendBuffer != 256 {
		t.Errorf("expected send buffer 256, got %d", cfg.ConnSendBuffer)
	}
	if cfg.MessageDB != "mysql" {
		t.Errorf("expected mysql, got %s", cfg.MessageDB)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	data := []byte("listenAddr: \":9090\"\ntypingTTLMS: 5000\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IMSYNC_CONFIG_FILE", path)

	cfg := Load()
	if cfg.ListenAddr != ":9090" {
		t.Errorf("yaml override ignored: %s", cfg.ListenAddr)
	}
	if cfg.TypingTTLMS != 5000 {
		t.Errorf("yaml override ignored: %d", cfg.TypingTTLMS)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte("listenAddr: \":9090\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IMSYNC_CONFIG_FILE", path)
	t.Setenv("IMSYNC_LISTEN_ADDR", ":7070")
	t.Setenv("IMSYNC_TYPING_TTL_MS", "1500")
	t.Setenv("IMSYNC_ENABLE_METRICS", "false")

	cfg := Load()
	if cfg.ListenAddr != ":7070" {
		t.Errorf("env should win over yaml: %s", cfg.ListenAddr)
	}
	if cfg.TypingTTLMS != 1500 {
		t.Errorf("env int override ignored: %d", cfg.TypingTTLMS)
	}
	if cfg.EnableMetrics {
		t.Error("env bool override ignored")
	}
}
