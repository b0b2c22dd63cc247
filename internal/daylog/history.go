package daylog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sadopc/platelog/internal/metrics"
	"github.com/sadopc/platelog/internal/model"
)

// HistoryLoader serves any day other than today, cache first.
type HistoryLoader struct {
	store   LogStore
	cache   Cache
	cal     Calendar
	ttl     time.Duration
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	// mu guards the invalidation epochs. A load only writes its result back
	// when no invalidation of its key happened since it started reading.
	mu         sync.Mutex
	dayEpochs  map[model.CacheKey]uint64
	userEpochs map[string]uint64
}

func NewHistoryLoader(store LogStore, cache Cache, cal Calendar, ttl time.Duration, logger *slog.Logger, m metrics.MetricsCollector) *HistoryLoader {
	if ttl <= 0 {
		ttl = model.DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &HistoryLoader{
		store:      store,
		cache:      cache,
		cal:        cal,
		ttl:        ttl,
		logger:     logger,
		metrics:    m,
		dayEpochs:  make(map[model.CacheKey]uint64),
		userEpochs: make(map[string]uint64),
	}
}

// Load returns the log of date. A valid cache entry is returned without
// touching the store. Otherwise the store is read and the cache refreshed.
// A failed read is returned as a load error even if an expired entry exists.
func (h *HistoryLoader) Load(ctx context.Context, userID string, date model.Date) (*model.DailyLog, error) {
	if date == h.cal.Today() {
		return nil, ErrTodayIsLive
	}

	key := model.CacheKey{UserID: userID, Date: date}
	if log, ok := h.lookup(ctx, key); ok {
		return log, nil
	}

	epoch := h.epoch(key)
	start := time.Now()
	log, err := h.store.ReadDay(ctx, userID, date)
	h.metrics.RecordRemoteRead(time.Since(start), err)
	if err != nil {
		return nil, &Error{Kind: KindLoad, Op: "load", UserID: userID, Date: date, Err: err}
	}

	h.persist(context.WithoutCancel(ctx), key, epoch, log)
	return orEmpty(log, userID, date), nil
}

// persist caches log unless key was invalidated after epoch was taken.
func (h *HistoryLoader) persist(ctx context.Context, key model.CacheKey, epoch uint64, log *model.DailyLog) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.epochLocked(key) != epoch {
		h.logger.Debug("not caching day invalidated during read", slog.String("key", key.String()))
		return
	}
	entry := &model.CacheEntry{Date: key.Date, Payload: log.Clone(), LastUpdated: h.cal.Time()}
	if err := h.cache.SetDay(ctx, key, entry); err != nil {
		h.logger.Warn("failed to cache day",
			slog.String("user_id", key.UserID),
			slog.String("date", key.Date.String()),
			slog.String("error", err.Error()),
		)
	}
}

// Invalidate drops the cached copy of key. Loads already reading key will
// not write their result back.
func (h *HistoryLoader) Invalidate(ctx context.Context, key model.CacheKey) error {
	h.mu.Lock()
	h.dayEpochs[key]++
	h.mu.Unlock()
	if err := h.cache.DeleteDay(ctx, key); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	return nil
}

// InvalidateUser drops every cached day of userID.
func (h *HistoryLoader) InvalidateUser(ctx context.Context, userID string) error {
	h.mu.Lock()
	h.userEpochs[userID]++
	h.mu.Unlock()
	if err := h.cache.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("invalidate user %s: %w", userID, err)
	}
	return nil
}

func (h *HistoryLoader) epoch(key model.CacheKey) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.epochLocked(key)
}

func (h *HistoryLoader) epochLocked(key model.CacheKey) uint64 {
	return h.dayEpochs[key] + h.userEpochs[key.UserID]
}

// lookup reports a usable cached payload. Unreadable or corrupt entries count as misses.
func (h *HistoryLoader) lookup(ctx context.Context, key model.CacheKey) (*model.DailyLog, bool) {
	entry, err := h.cache.GetDay(ctx, key)
	switch {
	case errors.Is(err, model.ErrCorruptCacheEntry):
		h.metrics.RecordCacheLookup(metrics.CacheCorrupt)
		h.logger.Warn("ignoring corrupt cache entry", slog.String("key", key.String()))
		return nil, false
	case err != nil:
		h.metrics.RecordCacheLookup(metrics.CacheError)
		h.logger.Warn("cache read failed",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
		return nil, false
	case entry == nil:
		h.metrics.RecordCacheLookup(metrics.CacheMiss)
		return nil, false
	case !entry.Valid(h.cal.Time(), h.ttl):
		h.metrics.RecordCacheLookup(metrics.CacheExpired)
		return nil, false
	}
	h.metrics.RecordCacheLookup(metrics.CacheHit)
	return orEmpty(entry.Payload.Clone(), key.UserID, key.Date), true
}
