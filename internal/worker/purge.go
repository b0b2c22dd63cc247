// Package worker runs platelog's background jobs: the midnight rollover and
// the expired-cache purge.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sadopc/platelog/internal/metrics"
)

// Purger deletes cache entries last written before cutoff.
type Purger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeJob removes cached days older than the cache TTL. Expired entries
// are never served, so this only reclaims space. Idempotent.
type PurgeJob struct {
	cache   Purger
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	TTL     time.Duration
	Now     func() time.Time
}

func NewPurgeJob(cache Purger, ttl time.Duration, logger *slog.Logger, m metrics.MetricsCollector) *PurgeJob {
	if m == nil {
		m = metrics.Nop{}
	}
	return &PurgeJob{
		cache:   cache,
		logger:  logger,
		metrics: m,
		TTL:     ttl,
		Now:     time.Now,
	}
}

func (j *PurgeJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.Now().Add(-j.TTL)

	deleted, err := j.cache.PurgeExpired(ctx, cutoff)
	if err != nil {
		j.logger.Error("cache purge failed",
			slog.String("error", err.Error()),
			slog.Time("cutoff", cutoff),
		)
		return fmt.Errorf("purge expired cache entries: %w", err)
	}
	j.metrics.RecordCachePurged(deleted)

	j.logger.Info("cache purge finished",
		slog.Int64("deleted_count", deleted),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
