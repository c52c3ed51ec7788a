package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"edgepress/internal/postindex"
	"edgepress/pkg/kv"
)

// ConfigPath is the default config location, overridable via EDGEPRESS_CONFIG.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	kv.Config `yaml:",inline"`

	SessionCookieName string `yaml:"sessionCookieName"`
	RefreshIdentity   *bool  `yaml:"refreshIdentity"`

	IndexCollection  string `yaml:"indexCollection"`
	IndexCASAttempts int    `yaml:"indexCasAttempts"`
	// Pagination is the listing strategy used when a request names neither
	// offset nor cursor: "offset" or "cursor".
	Pagination string `yaml:"pagination"`

	CacheSize int    `yaml:"cacheSize"`
	CacheTTL  string `yaml:"cacheTTL"`

	TrustedProxies          []string `yaml:"trustedProxies"`
	CORSOrigins             []string `yaml:"corsOrigins"`
	WriteRateLimitPerMinute int      `yaml:"writeRateLimitPerMinute"`
}

// Path resolves the config file location.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("EDGEPRESS_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("EDGEPRESS_KV_DRIVER"); v != "" {
		cfg.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("EDGEPRESS_INDEX_CAS_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IndexCASAttempts = n
		}
	}
	if v := os.Getenv("EDGEPRESS_PAGINATION"); v != "" {
		cfg.Pagination = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if err := cfg.Config.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.IndexCASAttempts < 0 {
		return errors.New("config: indexCasAttempts must be >= 0")
	}
	if _, err := cfg.PaginationMode(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.WriteRateLimitPerMinute < 0 {
		return errors.New("config: writeRateLimitPerMinute must be >= 0")
	}
	if cfg.CacheSize < 0 {
		return errors.New("config: cacheSize must be >= 0")
	}
	if _, err := ParseCacheTTL(cfg.CacheTTL); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// PaginationMode returns the default listing strategy, offset when unset.
func (c FileConfig) PaginationMode() (postindex.Mode, error) {
	if strings.TrimSpace(c.Pagination) == "" {
		return postindex.ModeOffset, nil
	}
	mode, ok := postindex.ParseMode(strings.ToLower(strings.TrimSpace(c.Pagination)))
	if !ok {
		return "", fmt.Errorf("invalid pagination %q", c.Pagination)
	}
	return mode, nil
}

// Collection returns the index collection name.
func (c FileConfig) Collection() string {
	if strings.TrimSpace(c.IndexCollection) == "" {
		return postindex.DefaultCollection
	}
	return strings.TrimSpace(c.IndexCollection)
}

// RefreshIdentityEnabled defaults to true when unset.
func (c FileConfig) RefreshIdentityEnabled() bool {
	return c.RefreshIdentity == nil || *c.RefreshIdentity
}

// ParseCacheTTL parses optional cache TTL; empty means one minute.
func ParseCacheTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return time.Minute, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid cacheTTL duration: %w", err)
	}
	return dur, nil
}
