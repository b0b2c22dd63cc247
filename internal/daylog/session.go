package daylog

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sadopc/platelog/internal/metrics"
	"github.com/sadopc/platelog/internal/model"
)

// DayState is the log currently on display plus its load status.
type DayState struct {
	Date    model.Date
	Log     *model.DailyLog
	Loading bool
	Err     error
}

// DaySummary is one day of a WeekSummary.
type DaySummary struct {
	Date   model.Date
	Totals model.Nutrients
	Active bool
}

// Session is the engine for one signed-in user. Create it at sign-in with
// NewSession and Close it at sign-out.
type Session struct {
	userID    string
	cal       Calendar
	live      *LiveManager
	history   *HistoryLoader
	mutations *MutationCoordinator
	streak    *StreakEngine
	logger    *slog.Logger
	metrics   metrics.MetricsCollector

	mu         sync.Mutex
	state      DayState
	gen        uint64
	cancelLoad context.CancelFunc
	liveDate   model.Date
	refreshSeq uint64
	appliedSeq uint64
	watchers   map[int]chan DayState
	nextWatch  int
	closed     bool
}

// NewSession wires the engine for userID and initializes the streak. A
// failed streak scan is logged and the persisted streak is used instead.
// No view date is selected until ChangeViewDate is called.
func NewSession(ctx context.Context, userID string, store LogStore, cache Cache, streaks StreakStore, opts Options) *Session {
	opts = opts.withDefaults()
	cal := opts.Calendar
	streak := NewStreakEngine(store, streaks, cal, opts.MaxScanDays, opts.Logger, opts.Metrics)
	history := NewHistoryLoader(store, cache, cal, opts.CacheTTL, opts.Logger, opts.Metrics)

	s := &Session{
		userID:    userID,
		cal:       cal,
		live:      NewLiveManager(store, cal, opts.Logger, opts.Metrics),
		history:   history,
		mutations: NewMutationCoordinator(store, history, streak, cal, opts.Workers, opts.Logger, opts.Metrics),
		streak:    streak,
		logger:    opts.Logger.With(slog.String("user_id", userID)),
		metrics:   opts.Metrics,
		watchers:  make(map[int]chan DayState),
	}
	s.mutations.OnApplied(s.afterMutation)

	if err := streak.Init(ctx, userID); err != nil {
		s.logger.Warn("streak init failed", slog.String("error", err.Error()))
	}
	return s
}

func (s *Session) UserID() string { return s.userID }

// Today returns the current day in the user's calendar.
func (s *Session) Today() model.Date { return s.cal.Today() }

// ChangeViewDate selects date for display. Today opens the live subscription;
// any other day tears it down and loads through the cache. A load that is
// overtaken by a newer selection returns ErrSuperseded and is not displayed.
func (s *Session) ChangeViewDate(ctx context.Context, date model.Date) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.gen++
	gen := s.gen
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}

	today := s.cal.Today()
	if date == today {
		s.setStateLocked(DayState{Date: date, Loading: true})
		ch, err := s.live.SetupToday(ctx, s.userID)
		if err != nil {
			s.liveDate = ""
			s.setStateLocked(DayState{Date: date, Err: err})
			s.mu.Unlock()
			return err
		}
		s.liveDate = today
		s.mu.Unlock()
		go s.consumeLive(gen, ch)
		return nil
	}

	s.live.Teardown()
	s.liveDate = ""
	s.setStateLocked(DayState{Date: date, Loading: true})
	loadCtx, cancel := context.WithCancel(ctx)
	s.cancelLoad = cancel
	s.refreshSeq++
	seq := s.refreshSeq
	s.mu.Unlock()

	log, err := s.history.Load(loadCtx, s.userID, date)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		s.metrics.RecordStaleDiscard()
		s.logger.Debug("discarding superseded load", slog.String("date", date.String()))
		return ErrSuperseded
	}
	s.cancelLoad = nil
	if seq < s.appliedSeq {
		// A reload after a mutation on this day already displayed newer data.
		s.metrics.RecordStaleDiscard()
		return nil
	}
	s.appliedSeq = seq
	if err != nil {
		s.setStateLocked(DayState{Date: date, Err: err})
		return err
	}
	s.setStateLocked(DayState{Date: date, Log: log})
	return nil
}

func (s *Session) consumeLive(gen uint64, ch <-chan LiveUpdate) {
	for u := range ch {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		if u.Err != nil {
			s.setStateLocked(DayState{Date: s.state.Date, Log: s.state.Log, Err: u.Err})
		} else {
			s.setStateLocked(DayState{Date: s.state.Date, Log: u.Log})
		}
		s.mu.Unlock()
	}
}

// afterMutation reloads the displayed day when a past day on screen was changed.
func (s *Session) afterMutation(userID string, date model.Date) {
	s.mu.Lock()
	if s.closed || userID != s.userID || s.state.Date != date || date == s.liveDate {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	s.refreshSeq++
	seq := s.refreshSeq
	s.mu.Unlock()

	log, err := s.history.Load(context.Background(), s.userID, date)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || seq < s.appliedSeq {
		return
	}
	s.appliedSeq = seq
	if err != nil {
		s.setStateLocked(DayState{Date: date, Log: s.state.Log, Err: err})
		return
	}
	s.setStateLocked(DayState{Date: date, Log: log})
}

// Current returns the displayed day. The log is a copy.
func (s *Session) Current() DayState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Log = st.Log.Clone()
	return st
}

// Watch delivers the latest DayState after every change. Slow readers only
// see the most recent state. Call the returned func to stop watching.
func (s *Session) Watch() (<-chan DayState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan DayState, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.nextWatch++
	id := s.nextWatch
	s.watchers[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if w, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(w)
			}
		})
	}
}

func (s *Session) setStateLocked(st DayState) {
	s.state = st
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		snap := st
		snap.Log = st.Log.Clone()
		ch <- snap
	}
}

func (s *Session) viewDate() model.Date {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Date == "" {
		return s.cal.Today()
	}
	return s.state.Date
}

// AddFood adds e to meal on the displayed day.
func (s *Session) AddFood(ctx context.Context, meal model.Meal, e model.FoodEntry) *Pending {
	return s.AddFoodOn(ctx, s.viewDate(), meal, e)
}

func (s *Session) AddFoodOn(ctx context.Context, date model.Date, meal model.Meal, e model.FoodEntry) *Pending {
	return s.mutations.AddFood(ctx, s.userID, date, meal, e)
}

// RemoveFood removes the entry key from meal on the displayed day.
func (s *Session) RemoveFood(ctx context.Context, meal model.Meal, key string) *Pending {
	return s.RemoveFoodOn(ctx, s.viewDate(), meal, key)
}

func (s *Session) RemoveFoodOn(ctx context.Context, date model.Date, meal model.Meal, key string) *Pending {
	return s.mutations.RemoveFood(ctx, s.userID, date, meal, key)
}

func (s *Session) EntriesForMeal(meal model.Meal) []model.FoodEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Log.EntriesFor(meal)
}

func (s *Session) Totals() model.Nutrients {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Log.Totals()
}

func (s *Session) MealTotals(meal model.Meal) model.Nutrients {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Log.MealTotals(meal)
}

func (s *Session) Streak() model.StreakState {
	return s.streak.State()
}

// Rollover handles the calendar moving past midnight. The streak is
// recomputed for the new day, and a session still showing the previous
// day's live log reloads it as a past day.
func (s *Session) Rollover(ctx context.Context) error {
	today := s.cal.Today()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	liveDate := s.liveDate
	viewing := s.state.Date
	s.mu.Unlock()

	if liveDate == today {
		return nil
	}
	s.logger.Info("day rolled over", slog.String("date", today.String()))

	err := s.streak.Recompute(ctx, today)
	if err != nil {
		s.logger.Warn("streak recompute after rollover failed", slog.String("error", err.Error()))
	}
	if liveDate != "" && viewing == liveDate {
		if verr := s.ChangeViewDate(ctx, viewing); verr != nil && !errors.Is(verr, ErrSuperseded) {
			return verr
		}
	}
	return err
}

// WeekSummary returns per-day totals for the days days ending at end, oldest
// first. Past days go through the cache; today comes from the live log when
// it is on screen.
func (s *Session) WeekSummary(ctx context.Context, end model.Date, days int) ([]DaySummary, error) {
	today := s.cal.Today()
	out := make([]DaySummary, 0, days)
	for i := days - 1; i >= 0; i-- {
		d := end.AddDays(-i)
		sum := DaySummary{Date: d}
		if d.After(today) {
			out = append(out, sum)
			continue
		}
		log, err := s.dayLog(ctx, d, today)
		if err != nil {
			return nil, err
		}
		sum.Totals = log.Totals()
		sum.Active = log.IsActive()
		out = append(out, sum)
	}
	return out, nil
}

func (s *Session) dayLog(ctx context.Context, d, today model.Date) (*model.DailyLog, error) {
	if d != today {
		return s.history.Load(ctx, s.userID, d)
	}
	s.mu.Lock()
	if s.state.Date == today && s.state.Log != nil {
		log := s.state.Log.Clone()
		s.mu.Unlock()
		return log, nil
	}
	s.mu.Unlock()
	log, err := s.history.store.ReadDay(ctx, s.userID, d)
	if err != nil {
		return nil, &Error{Kind: KindLoad, Op: "read today", UserID: s.userID, Date: d, Err: err}
	}
	return orEmpty(log, s.userID, d), nil
}

// SignOut closes the session and then drops every cached day of the user.
// A close error is returned, but the cache is swept regardless.
func (s *Session) SignOut(ctx context.Context) error {
	closeErr := s.Close(ctx)
	if err := s.history.InvalidateUser(context.WithoutCancel(ctx), s.userID); err != nil {
		s.logger.Error("cache sweep at sign-out failed", slog.String("error", err.Error()))
		return errors.Join(closeErr, err)
	}
	s.logger.Info("signed out")
	return closeErr
}

// Close tears down the live subscription, waits for queued mutations and
// stops all watchers.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen++
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	s.mu.Unlock()

	s.live.Teardown()
	err := s.mutations.Close(ctx)

	s.mu.Lock()
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
	s.liveDate = ""
	s.mu.Unlock()
	return err
}
