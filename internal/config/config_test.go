package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndResolvesPaths(t *testing.T) {
	path := writeConfig(t, `{
		"databases": {"sqlite3": {"dsn": "casedocs.db"}},
		"storage": {"base_dir": "blobs"}
	}`)
	t.Setenv("GEMINI_API_KEY", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	dir := filepath.Dir(path)
	if got := cfg.Databases["sqlite3"].DSN; got != filepath.Join(dir, "casedocs.db") {
		t.Fatalf("sqlite dsn not resolved: %s", got)
	}
	if cfg.Storage.BaseDir != filepath.Join(dir, "blobs") {
		t.Fatalf("base dir not resolved: %s", cfg.Storage.BaseDir)
	}
	if cfg.Storage.Bucket != DefaultBucket {
		t.Fatalf("bucket default: %s", cfg.Storage.Bucket)
	}
	if cfg.Index.Backend != DefaultBackend || cfg.Index.Model != DefaultModel {
		t.Fatalf("index defaults: %+v", cfg.Index)
	}
	if cfg.Index.APIKey != "env-key" {
		t.Fatalf("expected api key from env, got %q", cfg.Index.APIKey)
	}
	if cfg.Ingest.MaxUploadBytes != 200<<20 {
		t.Fatalf("max upload default: %d", cfg.Ingest.MaxUploadBytes)
	}
	if cfg.Index.WaitBudget() != time.Minute || cfg.Index.PollEvery() != 2*time.Second {
		t.Fatalf("poll defaults: %v %v", cfg.Index.WaitBudget(), cfg.Index.PollEvery())
	}
}

func TestLoadKeepsMemoryDSN(t *testing.T) {
	path := writeConfig(t, `{"databases": {"sqlite3": {"dsn": ":memory:"}}, "index": {"backend": "memory", "api_key": "k"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Databases["sqlite3"].DSN != ":memory:" {
		t.Fatalf("memory dsn rewritten: %s", cfg.Databases["sqlite3"].DSN)
	}
	if cfg.Index.APIKey != "k" {
		t.Fatalf("explicit api key overridden: %s", cfg.Index.APIKey)
	}
}

func TestLoadRequiresDatabases(t *testing.T) {
	path := writeConfig(t, `{"basic_config": {"server_address": ":9000"}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error without databases")
	}
}
