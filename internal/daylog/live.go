package daylog

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sadopc/platelog/internal/metrics"
	"github.com/sadopc/platelog/internal/model"
)

// LiveUpdate is one delivery of the live subscription: either a full
// replacement of today's log or a terminal error.
type LiveUpdate struct {
	Log *model.DailyLog
	Err error
}

// LiveManager owns at most one open subscription, always for today.
type LiveManager struct {
	store   LogStore
	cal     Calendar
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	mu  sync.Mutex
	cur *liveStream
}

func NewLiveManager(store LogStore, cal Calendar, logger *slog.Logger, m metrics.MetricsCollector) *LiveManager {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &LiveManager{store: store, cal: cal, logger: logger, metrics: m}
}

// SetupToday closes any open subscription and opens a new one for today.
// Updates arrive in the order the store emits them. On a store error one
// update carrying the error is sent and the channel is closed; there is
// no retry.
func (m *LiveManager) SetupToday(ctx context.Context, userID string) (<-chan LiveUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked()

	today := m.cal.Today()
	s := &liveStream{
		userID:  userID,
		date:    today,
		out:     make(chan LiveUpdate),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		logger:  m.logger,
		metrics: m.metrics,
	}
	go s.pump()

	unsub, err := m.store.Subscribe(ctx, userID, today, s.push, s.fail)
	if err != nil {
		s.stop()
		return nil, &Error{Kind: KindSubscription, Op: "subscribe", UserID: userID, Date: today, Err: err}
	}
	s.setUnsubscribe(unsub)
	m.cur = s

	m.logger.Debug("live subscription opened",
		slog.String("user_id", userID),
		slog.String("date", today.String()),
	)
	return s.out, nil
}

// Teardown closes the open subscription, if any. Safe to call repeatedly.
func (m *LiveManager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

// Date returns the day of the open subscription, or "" if none is open.
func (m *LiveManager) Date() model.Date {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return ""
	}
	return m.cur.date
}

func (m *LiveManager) teardownLocked() {
	if m.cur == nil {
		return
	}
	m.cur.stop()
	m.logger.Debug("live subscription closed",
		slog.String("user_id", m.cur.userID),
		slog.String("date", m.cur.date.String()),
	)
	m.cur = nil
}

// liveStream buffers store callbacks so they never block the store, and
// forwards them in order until stopped.
type liveStream struct {
	userID  string
	date    model.Date
	out     chan LiveUpdate
	wake    chan struct{}
	done    chan struct{}
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	mu       sync.Mutex
	queue    []LiveUpdate
	finished bool
	stopped  bool
	unsub    func()
	stopOnce sync.Once
}

func (s *liveStream) push(log *model.DailyLog) {
	s.enqueue(LiveUpdate{Log: orEmpty(log, s.userID, s.date)}, false)
}

func (s *liveStream) fail(err error) {
	s.logger.Error("live subscription failed",
		slog.String("user_id", s.userID),
		slog.String("date", s.date.String()),
		slog.String("error", err.Error()),
	)
	s.enqueue(LiveUpdate{Err: &Error{Kind: KindSubscription, Op: "live", UserID: s.userID, Date: s.date, Err: err}}, true)
}

func (s *liveStream) enqueue(u LiveUpdate, terminal bool) {
	s.mu.Lock()
	if s.finished || s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, u)
	s.finished = terminal
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *liveStream) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		u := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- u:
			if u.Err == nil {
				s.metrics.RecordLiveDelivery()
			}
		case <-s.done:
			return
		}
	}
}

func (s *liveStream) setUnsubscribe(fn func()) {
	s.mu.Lock()
	stopped := s.stopped
	if !stopped {
		s.unsub = fn
	}
	s.mu.Unlock()
	if stopped && fn != nil {
		fn()
	}
}

func (s *liveStream) stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.queue = nil
		unsub := s.unsub
		s.mu.Unlock()

		close(s.done)
		if unsub != nil {
			unsub()
		}
	})
}
