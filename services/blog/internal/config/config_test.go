package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"edgepress/internal/postindex"
)

func load(t *testing.T, body string) (FileConfig, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return Load(path)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, "port: \"8082\"\nkvDriver: memory\n")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	mode, _ := cfg.PaginationMode()
	if mode != postindex.ModeOffset || cfg.Collection() != "blogs" || !cfg.RefreshIdentityEnabled() {
		t.Fatalf("unexpected defaults: mode=%s collection=%s", mode, cfg.Collection())
	}
	if ttl, _ := ParseCacheTTL(cfg.CacheTTL); ttl != time.Minute {
		t.Fatalf("unexpected cache ttl %s", ttl)
	}
}

func TestLoadHardenedIndexFromEnv(t *testing.T) {
	t.Setenv("EDGEPRESS_INDEX_CAS_ATTEMPTS", "5")
	t.Setenv("EDGEPRESS_PAGINATION", "cursor")
	cfg, err := load(t, "port: \"8082\"\nkvDriver: memory\nindexCollection: journal\n")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	mode, _ := cfg.PaginationMode()
	if cfg.IndexCASAttempts != 5 || mode != postindex.ModeCursor || cfg.Collection() != "journal" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"pagination": "port: \"1\"\nkvDriver: memory\npagination: pages\n",
		"cas":        "port: \"1\"\nkvDriver: memory\nindexCasAttempts: -1\n",
		"cache ttl":  "port: \"1\"\nkvDriver: memory\ncacheTTL: forever\n",
		"driver":     "port: \"1\"\nkvDriver: etcd\n",
	} {
		if _, err := load(t, body); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
