package kv

import (
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config selects and addresses a backend. It is embedded in service configs.
type Config struct {
	Driver        string `yaml:"kvDriver"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	Prefix        string `yaml:"kvPrefix"`
	DatabaseURL   string `yaml:"databaseURL"`
}

// DriverName returns the normalized driver, defaulting to redis.
func (c Config) DriverName() string {
	d := strings.ToLower(strings.TrimSpace(c.Driver))
	if d == "" {
		return DriverRedis
	}
	return d
}

// Validate reports missing connection settings for the chosen driver.
func (c Config) Validate() error {
	switch c.DriverName() {
	case DriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return errors.New("redisAddr is required for the redis kv driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("databaseURL is required for the postgres kv driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown kvDriver %q", c.Driver)
	}
	return nil
}

// Open connects the configured backend.
func Open(cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.DriverName() {
	case DriverPostgres:
		s, err := NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres kv: %w", err)
		}
		return s, nil
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.Prefix), nil
	}
}

// RedisClient returns a client for Redis-backed helpers such as rate limits.
// It reuses the store's client when the store is Redis and returns nil when
// no Redis is configured.
func RedisClient(s Store, cfg Config) *redis.Client {
	if rs, ok := s.(*RedisStore); ok {
		return rs.Client()
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
}
