package daylog

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sadopc/platelog/internal/metrics"
	"github.com/sadopc/platelog/internal/model"
)

// StreakEngine derives the current and best logging streak from which days
// are active. Every recompute re-reads the mutated day from the store rather
// than trusting the direction of the mutation that triggered it.
//
// If today has no entries yet, the run ending yesterday still counts until
// today is over.
type StreakEngine struct {
	store   LogStore
	persist StreakStore
	cal     Calendar
	maxScan int
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	// mu serializes Init and Recompute.
	mu     sync.Mutex
	userID string
	active map[model.Date]bool

	stateMu sync.RWMutex
	state   model.StreakState
	runEnd  model.Date
}

func NewStreakEngine(store LogStore, persist StreakStore, cal Calendar, maxScan int, logger *slog.Logger, m metrics.MetricsCollector) *StreakEngine {
	if maxScan <= 0 {
		maxScan = DefaultMaxScanDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &StreakEngine{store: store, persist: persist, cal: cal, maxScan: maxScan, logger: logger, metrics: m}
}

// Init loads the persisted state for userID and computes the current streak
// by walking back from today. When the walk fails the persisted state is
// kept and the error returned.
func (e *StreakEngine) Init(ctx context.Context, userID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.userID = userID
	e.active = make(map[model.Date]bool)

	stored, err := e.persist.LoadStreak(ctx, userID)
	if err != nil {
		return &Error{Kind: KindStreakRecompute, Op: "load streak", UserID: userID, Err: err}
	}
	e.setState(stored, "")

	known := make(map[model.Date]bool)
	current, end, err := e.walk(ctx, known)
	if err != nil {
		e.metrics.RecordStreakRecomputeFailure()
		return &Error{Kind: KindStreakRecompute, Op: "init streak", UserID: userID, Err: err}
	}
	return e.commit(ctx, known, current, end)
}

// Recompute re-reads date and updates the streak. If the read, the walk or
// persisting fails, the previous state is kept and the error returned.
func (e *StreakEngine) Recompute(ctx context.Context, date model.Date) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.userID == "" {
		return &Error{Kind: KindStreakRecompute, Op: "recompute", Date: date, Err: errNotInitialized}
	}

	log, err := e.store.ReadDay(ctx, e.userID, date)
	if err != nil {
		e.metrics.RecordStreakRecomputeFailure()
		e.logger.Warn("streak recompute read failed, keeping previous state",
			slog.String("user_id", e.userID),
			slog.String("date", date.String()),
			slog.String("error", err.Error()),
		)
		return &Error{Kind: KindStreakRecompute, Op: "recompute", UserID: e.userID, Date: date, Err: err}
	}

	known := make(map[model.Date]bool, len(e.active)+1)
	for d, a := range e.active {
		known[d] = a
	}
	known[date] = log.IsActive()

	current, end, err := e.walk(ctx, known)
	if err != nil {
		e.metrics.RecordStreakRecomputeFailure()
		return &Error{Kind: KindStreakRecompute, Op: "recompute", UserID: e.userID, Date: date, Err: err}
	}
	return e.commit(ctx, known, current, end)
}

// Forget drops what is known about date so the next walk re-reads it.
func (e *StreakEngine) Forget(date model.Date) {
	e.mu.Lock()
	delete(e.active, date)
	e.mu.Unlock()
}

// Affects reports whether a change on date can move the current streak:
// date is today, lies in the trailing run, or is the day just before it.
func (e *StreakEngine) Affects(date model.Date) bool {
	today := e.cal.Today()
	if date.After(today) {
		return false
	}
	e.stateMu.RLock()
	end, current := e.runEnd, e.state.Current
	e.stateMu.RUnlock()
	if end == "" || end.Before(today.AddDays(-1)) {
		end = today
	}
	return date == today || date.DaysUntil(end) <= current
}

// State returns a snapshot of the streak.
func (e *StreakEngine) State() model.StreakState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// walk counts the active run ending today, or yesterday if today is
// inactive, and returns the run's last day. Days missing from known are
// read from the store and recorded.
func (e *StreakEngine) walk(ctx context.Context, known map[model.Date]bool) (int, model.Date, error) {
	today := e.cal.Today()
	end := today
	active, err := e.isActive(ctx, known, today)
	if err != nil {
		return 0, "", err
	}
	if !active {
		end = today.AddDays(-1)
	}

	n := 0
	for d := end; n < e.maxScan; d = d.AddDays(-1) {
		active, err := e.isActive(ctx, known, d)
		if err != nil {
			return 0, "", err
		}
		if !active {
			break
		}
		n++
	}
	return n, end, nil
}

func (e *StreakEngine) isActive(ctx context.Context, known map[model.Date]bool, d model.Date) (bool, error) {
	if a, ok := known[d]; ok {
		return a, nil
	}
	log, err := e.store.ReadDay(ctx, e.userID, d)
	if err != nil {
		return false, err
	}
	known[d] = log.IsActive()
	return known[d], nil
}

// commit persists the new state first and only then publishes it.
func (e *StreakEngine) commit(ctx context.Context, known map[model.Date]bool, current int, end model.Date) error {
	prev := e.State()
	next := model.StreakState{Current: current, Best: max(prev.Best, current)}
	if err := e.persist.SaveStreak(ctx, e.userID, next); err != nil {
		e.metrics.RecordStreakRecomputeFailure()
		return &Error{Kind: KindStreakRecompute, Op: "save streak", UserID: e.userID, Err: err}
	}

	oldest := e.cal.Today().AddDays(-(e.maxScan + 1))
	for d := range known {
		if d.Before(oldest) {
			delete(known, d)
		}
	}
	e.active = known
	e.setState(next, end)
	e.metrics.RecordStreak(next.Current, next.Best)

	if next != prev {
		e.logger.Info("streak updated",
			slog.String("user_id", e.userID),
			slog.Int("current", next.Current),
			slog.Int("best", next.Best),
		)
	}
	return nil
}

func (e *StreakEngine) setState(st model.StreakState, end model.Date) {
	e.stateMu.Lock()
	e.state = st
	e.runEnd = end
	e.stateMu.Unlock()
}
