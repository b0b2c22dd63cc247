// Package config loads platelog settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sadopc/platelog/internal/logger"
	"github.com/sadopc/platelog/internal/model"
	"github.com/sadopc/platelog/internal/store"
)

const (
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
)

// Config is read once at startup and treated as immutable.
type Config struct {
	UserID string

	// Storage
	DBPath    string
	LogDBPath string

	// Remote log store; empty URL selects the local SQLite log store.
	RemoteURL    string
	RemoteAPIKey string
	RemoteRPS    float64

	// Cache
	Cache    string
	RedisURL string
	CacheTTL time.Duration

	// Engine
	Location        *time.Location
	StreakScanDays  int
	MutationWorkers int

	// Observability
	MetricsAddr string
	LogFile     string
	LogLevel    string
}

// Load reads the environment. envFile, if non-empty and present, is loaded
// first without overriding variables that are already set. Every invalid
// variable is reported in the returned error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	p := &parser{}
	cfg := &Config{}

	cfg.UserID = getEnvString("PLATELOG_USER_ID", defaultUserID())
	cfg.DBPath = getEnvString("PLATELOG_DB_PATH", "")
	cfg.LogDBPath = getEnvString("PLATELOG_LOG_DB_PATH", "")
	cfg.RemoteURL = getEnvString("PLATELOG_REMOTE_URL", "")
	cfg.RemoteAPIKey = getEnvString("PLATELOG_REMOTE_API_KEY", "")
	cfg.RemoteRPS = p.float("PLATELOG_REMOTE_RPS", 10)
	cfg.Cache = strings.ToLower(getEnvString("PLATELOG_CACHE", CacheSQLite))
	cfg.RedisURL = getEnvString("PLATELOG_REDIS_URL", "")
	cfg.CacheTTL = p.duration("PLATELOG_CACHE_TTL", model.DefaultCacheTTL)
	cfg.Location = p.location("PLATELOG_TIMEZONE")
	cfg.StreakScanDays = p.positiveInt("PLATELOG_STREAK_SCAN_DAYS", 365)
	cfg.MutationWorkers = p.positiveInt("PLATELOG_MUTATION_WORKERS", 4)
	cfg.MetricsAddr = getEnvString("PLATELOG_METRICS_ADDR", "")
	cfg.LogFile = getEnvString("PLATELOG_LOG_FILE", "")
	cfg.LogLevel = getEnvString("PLATELOG_LOG_LEVEL", "info")

	if cfg.UserID == "" {
		p.bad = append(p.bad, "PLATELOG_USER_ID")
	}
	if cfg.RemoteURL != "" && cfg.RemoteAPIKey == "" {
		p.bad = append(p.bad, "PLATELOG_REMOTE_API_KEY")
	}
	switch cfg.Cache {
	case CacheSQLite:
	case CacheRedis:
		if cfg.RedisURL == "" {
			p.bad = append(p.bad, "PLATELOG_REDIS_URL")
		}
	default:
		p.bad = append(p.bad, "PLATELOG_CACHE")
	}
	if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
		p.bad = append(p.bad, "PLATELOG_LOG_LEVEL")
	}

	if len(p.bad) > 0 {
		return nil, fmt.Errorf("invalid environment variables: %v", p.bad)
	}

	if err := cfg.fillPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fillPaths() error {
	var err error
	if c.DBPath == "" {
		if c.DBPath, err = store.DefaultDBPath(); err != nil {
			return fmt.Errorf("resolve cache db path: %w", err)
		}
	}
	if c.LogDBPath == "" {
		if c.LogDBPath, err = store.DefaultLogDBPath(); err != nil {
			return fmt.Errorf("resolve log db path: %w", err)
		}
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(filepath.Dir(c.DBPath), "platelog.log")
	}
	return nil
}

// UsesRemote reports whether the hosted log store is configured.
func (c *Config) UsesRemote() bool {
	return c.RemoteURL != ""
}

func defaultUserID() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parser collects the names of variables that fail to parse.
type parser struct {
	bad []string
}

func (p *parser) positiveInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		p.bad = append(p.bad, key)
		return defaultVal
	}
	return i
}

func (p *parser) float(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		p.bad = append(p.bad, key)
		return defaultVal
	}
	return f
}

func (p *parser) duration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.bad = append(p.bad, key)
		return defaultVal
	}
	return d
}

func (p *parser) location(key string) *time.Location {
	v := os.Getenv(key)
	if v == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		p.bad = append(p.bad, key)
		return time.Local
	}
	return loc
}
