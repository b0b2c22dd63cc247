package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sadopc/platelog/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewMemory()
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleEntry(key string) model.FoodEntry {
	return model.FoodEntry{
		Key:            key,
		FoodID:         "oats",
		Name:           "Oats",
		LocalizedNames: map[string]string{"tr": "Yulaf"},
		Calories:       150,
		Protein:        5,
		Carbs:          27,
		Fat:            3,
		Quantity:       40,
		Unit:           "g",
		Category:       "grains",
		LoggedAt:       time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC),
	}
}

// ============================================================
// Store initialization
// ============================================================

func TestNewMemory(t *testing.T) {
	s, err := NewMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var version int
	s.db.QueryRow("PRAGMA user_version").Scan(&version)
	if version != 1 {
		t.Fatalf("expected user_version 1, got %d", version)
	}
}

func TestNewWithPath(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/sub/cache.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	// Reopen; must not re-migrate
	s2, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	s2.Close()
}

func TestDefaultDBPaths(t *testing.T) {
	path, err := DefaultDBPath()
	if err != nil {
		t.Fatal(err)
	}
	logPath, err := DefaultLogDBPath()
	if err != nil {
		t.Fatal(err)
	}
	if path == "" || logPath == "" || path == logPath {
		t.Fatalf("unexpected paths %q %q", path, logPath)
	}
}

func TestMigrationIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

// ============================================================
// Day cache
// ============================================================

func TestCacheSetAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := model.CacheKey{UserID: "u1", Date: "2024-01-02"}

	log := model.NewDailyLog("u1", "2024-01-02")
	log.Put(model.Breakfast, sampleEntry("e1"))
	written := time.Date(2024, 1, 3, 10, 0, 0, 123, time.UTC)

	if err := s.SetDay(ctx, key, &model.CacheEntry{Date: key.Date, Payload: log, LastUpdated: written}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDay(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Payload == nil {
		t.Fatal("expected cached payload")
	}
	if !got.LastUpdated.Equal(written) {
		t.Fatalf("LastUpdated = %v, want %v", got.LastUpdated, written)
	}
	e := got.Payload.Meals[model.Breakfast]["e1"]
	if e.Name != "Oats" || e.LocalizedNames["tr"] != "Yulaf" {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestCacheGetMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetDay(context.Background(), model.CacheKey{UserID: "u1", Date: "2024-01-02"})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestCacheNilPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := model.CacheKey{UserID: "u1", Date: "2024-01-02"}
	s.SetDay(ctx, key, &model.CacheEntry{Date: key.Date, LastUpdated: time.Now()})

	got, err := s.GetDay(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected an entry recording the empty day")
	}
	if got.Payload != nil {
		t.Fatal("payload should stay nil")
	}
}

func TestCacheCorruptPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.db.Exec(`INSERT INTO day_cache (user_id, date, payload, last_updated) VALUES ('u1', '2024-01-02', '{not json', ?)`,
		formatTS(time.Now()))

	_, err := s.GetDay(ctx, model.CacheKey{UserID: "u1", Date: "2024-01-02"})
	if !errors.Is(err, model.ErrCorruptCacheEntry) {
		t.Fatalf("expected ErrCorruptCacheEntry, got %v", err)
	}
}

func TestCacheDeleteDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := model.CacheKey{UserID: "u1", Date: "2024-01-02"}
	s.SetDay(ctx, key, &model.CacheEntry{Date: key.Date, LastUpdated: time.Now()})

	if err := s.DeleteDay(ctx, key); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetDay(ctx, key)
	if got != nil {
		t.Fatal("entry should be gone")
	}
	// Deleting again is fine
	if err := s.DeleteDay(ctx, key); err != nil {
		t.Fatal(err)
	}
}

func TestCacheKeysDoNotCollide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	// "a" + "b/2024" style concatenation would collide; composite keys must not.
	k1 := model.CacheKey{UserID: "u1", Date: "2024-01-02"}
	k2 := model.CacheKey{UserID: "u2", Date: "2024-01-02"}
	s.SetDay(ctx, k1, &model.CacheEntry{Date: k1.Date, Payload: model.NewDailyLog("u1", k1.Date), LastUpdated: time.Now()})
	s.SetDay(ctx, k2, &model.CacheEntry{Date: k2.Date, LastUpdated: time.Now()})

	s.DeleteDay(ctx, k2)
	got, _ := s.GetDay(ctx, k1)
	if got == nil {
		t.Fatal("deleting u2 must not touch u1")
	}
}

func TestCacheDeleteUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, d := range []model.Date{"2024-01-01", "2024-01-02"} {
		s.SetDay(ctx, model.CacheKey{UserID: "u1", Date: d}, &model.CacheEntry{Date: d, LastUpdated: time.Now()})
	}
	other := model.CacheKey{UserID: "u2", Date: "2024-01-01"}
	s.SetDay(ctx, other, &model.CacheEntry{Date: other.Date, LastUpdated: time.Now()})

	if err := s.DeleteUser(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.GetDay(ctx, model.CacheKey{UserID: "u1", Date: "2024-01-01"}); got != nil {
		t.Fatal("u1 entries should be gone")
	}
	if got, _ := s.GetDay(ctx, other); got == nil {
		t.Fatal("u2 entry should survive")
	}
}

func TestCachePurgeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	old := model.CacheKey{UserID: "u1", Date: "2024-01-01"}
	fresh := model.CacheKey{UserID: "u1", Date: "2024-01-09"}
	s.SetDay(ctx, old, &model.CacheEntry{Date: old.Date, LastUpdated: now.Add(-48 * time.Hour)})
	s.SetDay(ctx, fresh, &model.CacheEntry{Date: fresh.Date, LastUpdated: now.Add(-time.Hour)})

	n, err := s.PurgeExpired(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged row, got %d", n)
	}
	if got, _ := s.GetDay(ctx, fresh); got == nil {
		t.Fatal("fresh entry should survive")
	}
}

// ============================================================
// Streak state
// ============================================================

func TestStreakDefaults(t *testing.T) {
	s := newTestStore(t)
	st, err := s.LoadStreak(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if st != (model.StreakState{}) {
		t.Fatalf("expected zero state, got %+v", st)
	}
}

func TestStreakSaveKeepsBest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.SaveStreak(ctx, "u1", model.StreakState{Current: 5, Best: 5})
	s.SaveStreak(ctx, "u1", model.StreakState{Current: 1, Best: 2})

	st, _ := s.LoadStreak(ctx, "u1")
	if st.Current != 1 {
		t.Fatalf("current = %d, want 1", st.Current)
	}
	if st.Best != 5 {
		t.Fatalf("best = %d, want 5", st.Best)
	}
}

// ============================================================
// Food entries (offline log store)
// ============================================================

func TestWriteAndReadDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.WriteEntry(ctx, "u1", "2024-01-02", model.Breakfast, sampleEntry("e1")); err != nil {
		t.Fatal(err)
	}
	e2 := sampleEntry("e2")
	e2.Name = "Apple"
	s.WriteEntry(ctx, "u1", "2024-01-02", model.Snacks, e2)

	log, err := s.ReadDay(ctx, "u1", "2024-01-02")
	if err != nil {
		t.Fatal(err)
	}
	if log == nil || log.EntryCount() != 2 {
		t.Fatalf("expected 2 entries, got %+v", log)
	}
	if log.Meals[model.Snacks]["e2"].Name != "Apple" {
		t.Fatal("snack entry missing")
	}
	if log.Meals[model.Breakfast]["e1"].LocalizedNames["tr"] != "Yulaf" {
		t.Fatal("localized names not round-tripped")
	}
}

func TestReadDayEmpty(t *testing.T) {
	s := newTestStore(t)
	log, err := s.ReadDay(context.Background(), "u1", "2024-01-02")
	if err != nil {
		t.Fatal(err)
	}
	if log != nil {
		t.Fatal("expected nil log for a day without entries")
	}
}

func TestReadDayBadLocalizedNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.WriteEntry(ctx, "u1", "2024-01-02", model.Lunch, sampleEntry("e1")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`UPDATE food_entries SET localized_names = '{broken' WHERE entry_key = 'e1'`); err != nil {
		t.Fatal(err)
	}

	_, err := s.ReadDay(ctx, "u1", "2024-01-02")
	if err == nil {
		t.Fatal("expected an error for undecodable localized names")
	}
	if !strings.Contains(err.Error(), "read day u1/2024-01-02") {
		t.Fatalf("error not wrapped with the day: %v", err)
	}
}

func TestWriteEntryUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.WriteEntry(ctx, "u1", "2024-01-02", model.Lunch, sampleEntry("e1"))
	e := sampleEntry("e1")
	e.Quantity = 80
	s.WriteEntry(ctx, "u1", "2024-01-02", model.Lunch, e)

	log, _ := s.ReadDay(ctx, "u1", "2024-01-02")
	if log.EntryCount() != 1 {
		t.Fatalf("expected 1 entry, got %d", log.EntryCount())
	}
	if log.Meals[model.Lunch]["e1"].Quantity != 80 {
		t.Fatal("upsert did not replace quantity")
	}
}

func TestWriteEntryEmptyKey(t *testing.T) {
	s := newTestStore(t)
	err := s.WriteEntry(context.Background(), "u1", "2024-01-02", model.Lunch, model.FoodEntry{})
	if err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestDeleteEntryIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.WriteEntry(ctx, "u1", "2024-01-02", model.Dinner, sampleEntry("e1"))

	if err := s.DeleteEntry(ctx, "u1", "2024-01-02", model.Dinner, "e1"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteEntry(ctx, "u1", "2024-01-02", model.Dinner, "e1"); err != nil {
		t.Fatalf("second delete should succeed: %v", err)
	}
	if err := s.DeleteEntry(ctx, "u1", "2024-01-02", model.Dinner, "missing"); err != nil {
		t.Fatalf("delete of unknown key should succeed: %v", err)
	}
	log, _ := s.ReadDay(ctx, "u1", "2024-01-02")
	if log.IsActive() {
		t.Fatal("day should be inactive")
	}
}

type snapshotRecorder struct {
	mu   sync.Mutex
	logs []*model.DailyLog
	ch   chan struct{}
}

func newRecorder() *snapshotRecorder {
	return &snapshotRecorder{ch: make(chan struct{}, 16)}
}

func (r *snapshotRecorder) onData(l *model.DailyLog) {
	r.mu.Lock()
	r.logs = append(r.logs, l)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *snapshotRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
}

func (r *snapshotRecorder) last() *model.DailyLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs[len(r.logs)-1]
}

func TestSubscribeDeliversFullSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := newRecorder()

	unsub, err := s.Subscribe(ctx, "u1", "2024-01-02", rec.onData, func(error) {})
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	rec.wait(t) // initial state
	if rec.last().IsActive() {
		t.Fatal("initial snapshot should be empty")
	}

	s.WriteEntry(ctx, "u1", "2024-01-02", model.Breakfast, sampleEntry("e1"))
	rec.wait(t)
	s.WriteEntry(ctx, "u1", "2024-01-02", model.Lunch, sampleEntry("e2"))
	rec.wait(t)

	if got := rec.last().EntryCount(); got != 2 {
		t.Fatalf("snapshot should carry the whole day, got %d entries", got)
	}

	// Writes to other days are not delivered.
	s.WriteEntry(ctx, "u1", "2024-01-03", model.Lunch, sampleEntry("e3"))
	select {
	case <-rec.ch:
		t.Fatal("unexpected delivery for another date")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := newRecorder()

	unsub, _ := s.Subscribe(ctx, "u1", "2024-01-02", rec.onData, func(error) {})
	rec.wait(t)
	unsub()
	unsub()

	s.WriteEntry(ctx, "u1", "2024-01-02", model.Breakfast, sampleEntry("e1"))
	select {
	case <-rec.ch:
		t.Fatal("delivery after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

// ============================================================
// Settings
// ============================================================

func TestSettingsDefaults(t *testing.T) {
	s := newTestStore(t)

	defaults := map[string]string{
		"daily_calorie_goal": "2000",
		"language":           "en",
	}

	for k, expected := range defaults {
		val, err := s.GetSetting(k)
		if err != nil {
			t.Fatalf("GetSetting(%q): %v", k, err)
		}
		if val != expected {
			t.Fatalf("GetSetting(%q) = %q, want %q", k, val, expected)
		}
	}
}

func TestSetSettingOverwrite(t *testing.T) {
	s := newTestStore(t)

	s.SetSetting("key", "v1")
	s.SetSetting("key", "v2")
	val, _ := s.GetSetting("key")
	if val != "v2" {
		t.Fatalf("expected v2, got %s", val)
	}
}

func TestGetSettingNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSetting("nonexistent")
	if err == nil {
		t.Fatal("expected error for missing setting")
	}
}

func TestGetAllSettingsSorted(t *testing.T) {
	s := newTestStore(t)
	all, err := s.GetAllSettings()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) < 2 {
		t.Fatalf("expected at least 2 default settings, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Key >= all[i].Key {
			t.Fatalf("settings not sorted: %s >= %s", all[i-1].Key, all[i].Key)
		}
	}
}

func TestCalorieGoalFallback(t *testing.T) {
	s := newTestStore(t)
	if got := s.CalorieGoal(); got != 2000 {
		t.Fatalf("default goal = %d", got)
	}
	s.SetSetting("daily_calorie_goal", "abc")
	if got := s.CalorieGoal(); got != 2000 {
		t.Fatalf("invalid goal should fall back, got %d", got)
	}
	s.SetSetting("daily_calorie_goal", "1800")
	if got := s.CalorieGoal(); got != 1800 {
		t.Fatalf("goal = %d, want 1800", got)
	}
}

func TestCloseStore(t *testing.T) {
	s, _ := NewMemory()
	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
}
