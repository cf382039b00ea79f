package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CLOUDPASTE_MASTER_KEY", "test-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}
	if cfg.Server.Address != "localhost:8080" {
		t.Errorf("unexpected default address %q", cfg.Server.Address)
	}
	if cfg.Cache.SearchTTL != 300*time.Second {
		t.Errorf("unexpected default search TTL %v", cfg.Cache.SearchTTL)
	}
	if cfg.WebDAV.Prefix != "/dav" {
		t.Errorf("unexpected default webdav prefix %q", cfg.WebDAV.Prefix)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  address: \"0.0.0.0:9090\"\nsecurity:\n  master_key: \"from-file\"\nlogging:\n  level: debug\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLOUDPASTE_ADDRESS", "127.0.0.1:7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address != "127.0.0.1:7070" {
		t.Errorf("environment override lost, got %q", cfg.Server.Address)
	}
	if cfg.Security.MasterKey != "from-file" {
		t.Errorf("file value lost, got %q", cfg.Security.MasterKey)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("file log level lost, got %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"missing master key", func(c *Configuration) { c.Security.MasterKey = "" }},
		{"empty address", func(c *Configuration) { c.Server.Address = "" }},
		{"relative webdav prefix", func(c *Configuration) { c.WebDAV.Prefix = "dav" }},
		{"negative ttl", func(c *Configuration) { c.Cache.DirectoryTTL = -time.Second }},
		{"bad log level", func(c *Configuration) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfiguration()
			cfg.Security.MasterKey = "k"
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
