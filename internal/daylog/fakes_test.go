package daylog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sadopc/platelog/internal/model"
)

var errRemote = errors.New("remote unavailable")

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// testClock is a settable clock pinned to UTC.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(date model.Date) *testClock {
	return &testClock{now: date.Start(time.UTC).Add(12 * time.Hour)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Calendar() Calendar {
	return Calendar{Now: c.Now, Location: time.UTC}
}

type fakeSub struct {
	date    model.Date
	onData  func(*model.DailyLog)
	onError func(error)
}

// fakeStore is an in-memory LogStore. The func fields override reads and
// writes when set.
type fakeStore struct {
	mu     sync.Mutex
	days   map[model.CacheKey]*model.DailyLog
	reads  map[model.Date]int
	subs   map[int]*fakeSub
	nextID int
	unsubs int

	ReadDayFunc   func(ctx context.Context, userID string, date model.Date) (*model.DailyLog, error)
	WriteFunc     func(ctx context.Context) error
	SubscribeFunc func() error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		days:  make(map[model.CacheKey]*model.DailyLog),
		reads: make(map[model.Date]int),
		subs:  make(map[int]*fakeSub),
	}
}

func (f *fakeStore) ReadDay(ctx context.Context, userID string, date model.Date) (*model.DailyLog, error) {
	f.mu.Lock()
	f.reads[date]++
	fn := f.ReadDayFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, userID, date)
	}
	return f.snapshot(userID, date), nil
}

func (f *fakeStore) snapshot(userID string, date model.Date) *model.DailyLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.days[model.CacheKey{UserID: userID, Date: date}].Clone()
}

func (f *fakeStore) WriteEntry(ctx context.Context, userID string, date model.Date, meal model.Meal, e model.FoodEntry) error {
	if f.WriteFunc != nil {
		if err := f.WriteFunc(ctx); err != nil {
			return err
		}
	}
	f.mu.Lock()
	k := model.CacheKey{UserID: userID, Date: date}
	if f.days[k] == nil {
		f.days[k] = model.NewDailyLog(userID, date)
	}
	f.days[k].Put(meal, e)
	f.mu.Unlock()
	f.notify(userID, date)
	return nil
}

func (f *fakeStore) DeleteEntry(ctx context.Context, userID string, date model.Date, meal model.Meal, key string) error {
	if f.WriteFunc != nil {
		if err := f.WriteFunc(ctx); err != nil {
			return err
		}
	}
	f.mu.Lock()
	log := f.days[model.CacheKey{UserID: userID, Date: date}]
	if log != nil {
		delete(log.Meals[meal], key)
	}
	f.mu.Unlock()
	f.notify(userID, date)
	return nil
}

func (f *fakeStore) Subscribe(ctx context.Context, userID string, date model.Date, onData func(*model.DailyLog), onError func(error)) (func(), error) {
	if f.SubscribeFunc != nil {
		if err := f.SubscribeFunc(); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs[id] = &fakeSub{date: date, onData: onData, onError: onError}
	f.mu.Unlock()

	onData(f.snapshot(userID, date))

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.unsubs++
			f.mu.Unlock()
		})
	}, nil
}

func (f *fakeStore) notify(userID string, date model.Date) {
	log := f.snapshot(userID, date)
	f.mu.Lock()
	var targets []*fakeSub
	for _, s := range f.subs {
		if s.date == date {
			targets = append(targets, s)
		}
	}
	f.mu.Unlock()
	for _, s := range targets {
		s.onData(log.Clone())
	}
}

// failSubscriptions reports err to every open subscription and drops them.
func (f *fakeStore) failSubscriptions(err error) {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[int]*fakeSub)
	f.mu.Unlock()
	for _, s := range subs {
		s.onError(err)
	}
}

func (f *fakeStore) openSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeStore) readCount(date model.Date) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[date]
}

// seed writes an entry without notifying subscribers.
func (f *fakeStore) seed(userID string, date model.Date, meal model.Meal, e model.FoodEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := model.CacheKey{UserID: userID, Date: date}
	if f.days[k] == nil {
		f.days[k] = model.NewDailyLog(userID, date)
	}
	f.days[k].Put(meal, e)
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[model.CacheKey]*model.CacheEntry
	deletes int

	GetFunc func(key model.CacheKey) (*model.CacheEntry, error)
	SetErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[model.CacheKey]*model.CacheEntry)}
}

func (c *fakeCache) GetDay(ctx context.Context, key model.CacheKey) (*model.CacheEntry, error) {
	if c.GetFunc != nil {
		return c.GetFunc(key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	cp := *e
	cp.Payload = e.Payload.Clone()
	return &cp, nil
}

func (c *fakeCache) SetDay(ctx context.Context, key model.CacheKey, entry *model.CacheEntry) error {
	if c.SetErr != nil {
		return c.SetErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *entry
	cp.Payload = entry.Payload.Clone()
	c.entries[key] = &cp
	return nil
}

func (c *fakeCache) DeleteDay(ctx context.Context, key model.CacheKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.deletes++
	return nil
}

func (c *fakeCache) DeleteUser(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.UserID == userID {
			delete(c.entries, k)
		}
	}
	return nil
}

func (c *fakeCache) has(key model.CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

type fakeStreakStore struct {
	mu    sync.Mutex
	state model.StreakState
	saves int

	SaveErr error
}

func (s *fakeStreakStore) LoadStreak(ctx context.Context, userID string) (model.StreakState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *fakeStreakStore) SaveStreak(ctx context.Context, userID string, st model.StreakState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.saves++
	s.state = st
	return nil
}

// blockReads makes the next read of date block until release is closed.
// started is closed once that read has taken its snapshot.
func (f *fakeStore) blockReads(date model.Date) (started, release chan struct{}) {
	started, release = make(chan struct{}), make(chan struct{})
	var once sync.Once
	f.mu.Lock()
	f.ReadDayFunc = func(_ context.Context, userID string, d model.Date) (*model.DailyLog, error) {
		log := f.snapshot(userID, d)
		if d == date {
			blocked := false
			once.Do(func() { blocked = true })
			if blocked {
				close(started)
				<-release
			}
		}
		return log, nil
	}
	f.mu.Unlock()
	return started, release
}

func food(key string) model.FoodEntry {
	return model.FoodEntry{
		Key:      key,
		FoodID:   "apple",
		Name:     "Apple",
		Calories: 52,
		Carbs:    14,
		Quantity: 100,
		Unit:     "g",
		LoggedAt: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func recv(t *testing.T, ch <-chan LiveUpdate) LiveUpdate {
	t.Helper()
	select {
	case u, ok := <-ch:
		if !ok {
			t.Fatal("live channel closed")
		}
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live update")
	}
	return LiveUpdate{}
}
