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
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesYAMLAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
port: "8081"
logLevel: debug
kvDriver: redis
redisAddr: localhost:6379
sessionTTL: 12h
passwordHasher: sha256
refreshIdentity: false
corsOrigins: ["https://blog.example.com"]
`)
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("EDGEPRESS_LOGIN_RATE_LIMIT_PER_MINUTE", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8081" || cfg.RedisAddr != "redis:6379" || cfg.LoginRateLimitPerMinute != 7 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.RefreshIdentityEnabled() {
		t.Fatalf("refreshIdentity false should disable refresh")
	}
	ttl, err := ParseSessionTTL(cfg.SessionTTL)
	if err != nil || ttl != 12*time.Hour {
		t.Fatalf("ttl = %s err=%v", ttl, err)
	}
	if len(cfg.CORSOrigins) != 1 {
		t.Fatalf("expected cors origins, got %v", cfg.CORSOrigins)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"missing port":       "redisAddr: x\n",
		"missing redis":      "port: \"1\"\n",
		"bad ttl":            "port: \"1\"\nkvDriver: memory\nsessionTTL: soon\n",
		"bad hasher":         "port: \"1\"\nkvDriver: memory\npasswordHasher: md5\n",
		"half admin":         "port: \"1\"\nkvDriver: memory\nbootstrapAdmin:\n  username: root\n",
		"postgres no dsn":    "port: \"1\"\nkvDriver: postgres\n",
		"negative ratelimit": "port: \"1\"\nkvDriver: memory\nloginRateLimitPerMinute: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil || !strings.HasPrefix(err.Error(), "config:") {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}

func TestRefreshIdentityDefaultsOn(t *testing.T) {
	cfg, err := Load(writeConfig(t, "port: \"1\"\nkvDriver: memory\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.RefreshIdentityEnabled() {
		t.Fatalf("expected refresh identity on by default")
	}
}

func TestPathHonorsEnv(t *testing.T) {
	t.Setenv("EDGEPRESS_CONFIG", "/etc/edgepress/auth.yaml")
	if got := Path(); got != "/etc/edgepress/auth.yaml" {
		t.Fatalf("unexpected path %q", got)
	}
}
