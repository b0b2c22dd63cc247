package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"PLATELOG_USER_ID", "PLATELOG_DB_PATH", "PLATELOG_LOG_DB_PATH",
	"PLATELOG_REMOTE_URL", "PLATELOG_REMOTE_API_KEY", "PLATELOG_REMOTE_RPS",
	"PLATELOG_CACHE", "PLATELOG_REDIS_URL", "PLATELOG_CACHE_TTL",
	"PLATELOG_TIMEZONE", "PLATELOG_STREAK_SCAN_DAYS", "PLATELOG_MUTATION_WORKERS",
	"PLATELOG_METRICS_ADDR", "PLATELOG_LOG_FILE", "PLATELOG_LOG_LEVEL",
}

// clearEnv blanks every platelog variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("PLATELOG_USER_ID", "u1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", cfg.UserID)
	}
	if cfg.Cache != CacheSQLite {
		t.Errorf("Cache = %q, want sqlite", cfg.Cache)
	}
	if cfg.CacheTTL != 24*time.Hour {
		t.Errorf("CacheTTL = %v, want 24h", cfg.CacheTTL)
	}
	if cfg.StreakScanDays != 365 {
		t.Errorf("StreakScanDays = %d, want 365", cfg.StreakScanDays)
	}
	if cfg.MutationWorkers != 4 {
		t.Errorf("MutationWorkers = %d, want 4", cfg.MutationWorkers)
	}
	if cfg.RemoteRPS != 10 {
		t.Errorf("RemoteRPS = %v, want 10", cfg.RemoteRPS)
	}
	if cfg.Location != time.Local {
		t.Errorf("Location = %v, want Local", cfg.Location)
	}
	if cfg.UsesRemote() {
		t.Error("no remote URL should select the local store")
	}
	if cfg.DBPath == "" || cfg.LogDBPath == "" || cfg.LogFile == "" {
		t.Errorf("paths not filled: %+v", cfg)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PLATELOG_USER_ID", "u2")
	t.Setenv("PLATELOG_DB_PATH", "/tmp/x/cache.db")
	t.Setenv("PLATELOG_REMOTE_URL", "https://example.supabase.co")
	t.Setenv("PLATELOG_REMOTE_API_KEY", "key")
	t.Setenv("PLATELOG_REMOTE_RPS", "2.5")
	t.Setenv("PLATELOG_CACHE", "redis")
	t.Setenv("PLATELOG_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PLATELOG_CACHE_TTL", "6h")
	t.Setenv("PLATELOG_TIMEZONE", "Europe/Istanbul")
	t.Setenv("PLATELOG_STREAK_SCAN_DAYS", "90")
	t.Setenv("PLATELOG_MUTATION_WORKERS", "8")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.UsesRemote() || cfg.RemoteRPS != 2.5 {
		t.Errorf("remote settings wrong: %+v", cfg)
	}
	if cfg.Cache != CacheRedis || cfg.CacheTTL != 6*time.Hour {
		t.Errorf("cache settings wrong: %+v", cfg)
	}
	if cfg.Location.String() != "Europe/Istanbul" {
		t.Errorf("Location = %v", cfg.Location)
	}
	if cfg.StreakScanDays != 90 || cfg.MutationWorkers != 8 {
		t.Errorf("engine settings wrong: %+v", cfg)
	}
	if cfg.LogFile != "/tmp/x/platelog.log" {
		t.Errorf("LogFile = %q, want next to the cache db", cfg.LogFile)
	}
}

func TestLoad_ReportsEveryBadKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("PLATELOG_USER_ID", "u1")
	t.Setenv("PLATELOG_CACHE_TTL", "soon")
	t.Setenv("PLATELOG_STREAK_SCAN_DAYS", "-1")
	t.Setenv("PLATELOG_TIMEZONE", "Mars/Olympus")
	t.Setenv("PLATELOG_CACHE", "memcached")
	t.Setenv("PLATELOG_REMOTE_URL", "https://example.supabase.co")
	t.Setenv("PLATELOG_LOG_LEVEL", "loud")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{
		"PLATELOG_CACHE_TTL", "PLATELOG_STREAK_SCAN_DAYS", "PLATELOG_TIMEZONE",
		"PLATELOG_CACHE", "PLATELOG_REMOTE_API_KEY", "PLATELOG_LOG_LEVEL",
	} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should mention %s: %v", key, err)
		}
	}
}

func TestLoad_RedisNeedsURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("PLATELOG_USER_ID", "u1")
	t.Setenv("PLATELOG_CACHE", "redis")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "PLATELOG_REDIS_URL") {
		t.Fatalf("expected PLATELOG_REDIS_URL error, got %v", err)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("PLATELOG_USER_ID")
	os.Unsetenv("PLATELOG_MUTATION_WORKERS")
	t.Setenv("PLATELOG_STREAK_SCAN_DAYS", "30")

	path := filepath.Join(t.TempDir(), ".env")
	content := "PLATELOG_USER_ID=from-file\nPLATELOG_MUTATION_WORKERS=2\nPLATELOG_STREAK_SCAN_DAYS=99\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UserID != "from-file" || cfg.MutationWorkers != 2 {
		t.Errorf("env file not applied: %+v", cfg)
	}
	if cfg.StreakScanDays != 30 {
		t.Errorf("env file must not override the environment, got %d", cfg.StreakScanDays)
	}
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	clearEnv(t)
	t.Setenv("PLATELOG_USER_ID", "u1")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}
