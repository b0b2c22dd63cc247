package daylog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sadopc/platelog/internal/metrics"
	"github.com/sadopc/platelog/internal/model"
)

// MutationCoordinator applies adds and removes store-first, then invalidates
// the cached copy of past days and brings the streak up to date. Work runs on
// a background queue detached from the caller's context.
type MutationCoordinator struct {
	store   LogStore
	history *HistoryLoader
	streak  *StreakEngine
	cal     Calendar
	queue   *taskQueue
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	// applied runs after a successful write, before the Pending completes.
	applied func(userID string, date model.Date)
}

func NewMutationCoordinator(store LogStore, history *HistoryLoader, streak *StreakEngine, cal Calendar, workers int, logger *slog.Logger, m metrics.MetricsCollector) *MutationCoordinator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &MutationCoordinator{
		store:   store,
		history: history,
		streak:  streak,
		cal:     cal,
		queue:   newTaskQueue(workers),
		logger:  logger,
		metrics: m,
	}
}

// OnApplied registers fn to run after each successful write or delete.
func (c *MutationCoordinator) OnApplied(fn func(userID string, date model.Date)) {
	c.applied = fn
}

// AddFood writes e under meal on date. An empty key is replaced by a new
// uuid, readable from the returned Pending.
func (c *MutationCoordinator) AddFood(ctx context.Context, userID string, date model.Date, meal model.Meal, e model.FoodEntry) *Pending {
	if e.Key == "" {
		e.Key = uuid.NewString()
	}
	if e.LoggedAt.IsZero() {
		e.LoggedAt = c.cal.Time()
	}
	p := newPending(e.Key)
	c.submit(ctx, p, "add", userID, date, func(ctx context.Context) error {
		return c.store.WriteEntry(ctx, userID, date, meal, e)
	})
	return p
}

// RemoveFood deletes the entry key under meal on date. Removing a missing
// entry succeeds.
func (c *MutationCoordinator) RemoveFood(ctx context.Context, userID string, date model.Date, meal model.Meal, key string) *Pending {
	p := newPending(key)
	c.submit(ctx, p, "remove", userID, date, func(ctx context.Context) error {
		return c.store.DeleteEntry(ctx, userID, date, meal, key)
	})
	return p
}

// Close stops accepting mutations and waits for queued ones to finish.
func (c *MutationCoordinator) Close(ctx context.Context) error {
	return c.queue.close(ctx)
}

func (c *MutationCoordinator) submit(ctx context.Context, p *Pending, op, userID string, date model.Date, write func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	ok := c.queue.submit(func() {
		p.finish(c.apply(ctx, op, userID, date, write))
	})
	if !ok {
		p.finish(&Error{Kind: KindMutation, Op: op, UserID: userID, Date: date, Err: ErrClosed})
	}
}

func (c *MutationCoordinator) apply(ctx context.Context, op, userID string, date model.Date, write func(context.Context) error) error {
	err := write(ctx)
	c.metrics.RecordMutation(op, err)
	if err != nil {
		c.logger.Error("mutation failed",
			slog.String("op", op),
			slog.String("user_id", userID),
			slog.String("date", date.String()),
			slog.String("error", err.Error()),
		)
		return &Error{Kind: KindMutation, Op: op, UserID: userID, Date: date, Err: err}
	}

	var errs []error
	today := c.cal.Today()
	if date != today {
		key := model.CacheKey{UserID: userID, Date: date}
		if err := c.history.Invalidate(ctx, key); err != nil {
			c.logger.Error("cache invalidation failed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, &Error{Kind: KindMutation, Op: "invalidate", UserID: userID, Date: date, Err: err})
		}
	}

	if c.streak != nil {
		if date == today || c.streak.Affects(date) {
			if err := c.streak.Recompute(ctx, date); err != nil {
				errs = append(errs, err)
			}
		} else {
			c.streak.Forget(date)
		}
	}

	if c.applied != nil {
		c.applied(userID, date)
	}
	return errors.Join(errs...)
}
