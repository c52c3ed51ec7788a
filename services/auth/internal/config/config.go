package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"edgepress/pkg/auth"
	"edgepress/pkg/kv"
)

// ConfigPath is the default config location, overridable via EDGEPRESS_CONFIG.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	kv.Config `yaml:",inline"`

	SessionTTL        string `yaml:"sessionTTL"`
	SessionCookieName string `yaml:"sessionCookieName"`
	CookieDomain      string `yaml:"cookieDomain"`
	// CookieInsecure drops the Secure flag for plain-HTTP local development.
	CookieInsecure  bool   `yaml:"cookieInsecure"`
	RefreshIdentity *bool  `yaml:"refreshIdentity"`
	PasswordHasher  string `yaml:"passwordHasher"`

	BootstrapAdmin BootstrapAdmin `yaml:"bootstrapAdmin"`

	TrustedProxies             []string `yaml:"trustedProxies"`
	CORSOrigins                []string `yaml:"corsOrigins"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
}

// BootstrapAdmin creates an admin account at startup when it does not exist.
type BootstrapAdmin struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
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
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
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
	if v := os.Getenv("EDGEPRESS_SESSION_TTL"); v != "" {
		cfg.SessionTTL = v
	}
	if v := os.Getenv("EDGEPRESS_COOKIE_DOMAIN"); v != "" {
		cfg.CookieDomain = v
	}
	if v := os.Getenv("EDGEPRESS_PASSWORD_HASHER"); v != "" {
		cfg.PasswordHasher = v
	}
	if v := os.Getenv("EDGEPRESS_ADMIN_USERNAME"); v != "" {
		cfg.BootstrapAdmin.Username = v
	}
	if v := os.Getenv("EDGEPRESS_ADMIN_PASSWORD"); v != "" {
		cfg.BootstrapAdmin.Password = v
	}
	if v := os.Getenv("EDGEPRESS_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("EDGEPRESS_REGISTER_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RegisterRateLimitPerMinute = n
		}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if err := cfg.Config.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ParseSessionTTL(cfg.SessionTTL); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := auth.NewHasher(cfg.PasswordHasher); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if (cfg.BootstrapAdmin.Username == "") != (cfg.BootstrapAdmin.Password == "") {
		return errors.New("config: bootstrapAdmin needs both username and password")
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.RegisterRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

// ParseSessionTTL parses optional session TTL duration string.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionTTL duration: %w", err)
	}
	if dur < 0 {
		return 0, errors.New("invalid sessionTTL duration: must be positive")
	}
	return dur, nil
}

// RefreshIdentityEnabled defaults to true when unset.
func (c FileConfig) RefreshIdentityEnabled() bool {
	return c.RefreshIdentity == nil || *c.RefreshIdentity
}
