// Package daylog keeps the per-day nutrition log in sync: today streams live,
// past days come from a TTL cache, mutations run in the background and the
// logging streak is re-derived from authoritative reads.
package daylog

import (
	"context"
	"log/slog"
	"time"

	"github.com/sadopc/platelog/internal/metrics"
	"github.com/sadopc/platelog/internal/model"
)

// LogStore is the authoritative per-(user, day) log. Implemented by the remote
// client and by the local SQLite store.
type LogStore interface {
	ReadDay(ctx context.Context, userID string, date model.Date) (*model.DailyLog, error)
	WriteEntry(ctx context.Context, userID string, date model.Date, meal model.Meal, e model.FoodEntry) error
	DeleteEntry(ctx context.Context, userID string, date model.Date, meal model.Meal, key string) error
	Subscribe(ctx context.Context, userID string, date model.Date, onData func(*model.DailyLog), onError func(error)) (func(), error)
}

// Cache persists historical day snapshots. GetDay returns nil, nil on a miss.
type Cache interface {
	GetDay(ctx context.Context, key model.CacheKey) (*model.CacheEntry, error)
	SetDay(ctx context.Context, key model.CacheKey, entry *model.CacheEntry) error
	DeleteDay(ctx context.Context, key model.CacheKey) error
	DeleteUser(ctx context.Context, userID string) error
}

// StreakStore persists streak state across restarts.
type StreakStore interface {
	LoadStreak(ctx context.Context, userID string) (model.StreakState, error)
	SaveStreak(ctx context.Context, userID string, st model.StreakState) error
}

// Calendar maps instants to days in the user's calendar.
type Calendar struct {
	Now      func() time.Time
	Location *time.Location
}

func (c Calendar) Time() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Calendar) Today() model.Date {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return model.DateOf(c.Time().In(loc))
}

// Options tune a Session. Zero values select the defaults.
type Options struct {
	Calendar    Calendar
	CacheTTL    time.Duration
	MaxScanDays int
	Workers     int
	Logger      *slog.Logger
	Metrics     metrics.MetricsCollector
}

const (
	DefaultMaxScanDays = 365
	DefaultWorkers     = 4
)

func (o Options) withDefaults() Options {
	if o.CacheTTL <= 0 {
		o.CacheTTL = model.DefaultCacheTTL
	}
	if o.MaxScanDays <= 0 {
		o.MaxScanDays = DefaultMaxScanDays
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Nop{}
	}
	return o
}

func orEmpty(log *model.DailyLog, userID string, date model.Date) *model.DailyLog {
	if log == nil {
		return model.NewDailyLog(userID, date)
	}
	return log
}
