package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sadopc/platelog/internal/model"
)

type listenerKey struct {
	userID string
	date   model.Date
}

type listener struct {
	onData  func(*model.DailyLog)
	onError func(error)
}

// ReadDay returns the log of userID on date, or nil if nothing was ever logged.
func (s *Store) ReadDay(ctx context.Context, userID string, date model.Date) (*model.DailyLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT meal, entry_key, food_id, name, localized_names, calories, protein, carbs, fat,
		        quantity, unit, category, logged_at
		 FROM food_entries WHERE user_id = ? AND date = ?`,
		userID, string(date),
	)
	if err != nil {
		return nil, fmt.Errorf("read day %s/%s: %w", userID, date, err)
	}
	defer rows.Close()

	var log *model.DailyLog
	for rows.Next() {
		var e model.FoodEntry
		var meal, names, loggedAt string
		if err := rows.Scan(&meal, &e.Key, &e.FoodID, &e.Name, &names, &e.Calories, &e.Protein,
			&e.Carbs, &e.Fat, &e.Quantity, &e.Unit, &e.Category, &loggedAt); err != nil {
			return nil, fmt.Errorf("read day %s/%s: %w", userID, date, err)
		}
		if names != "" && names != "{}" {
			if err := json.Unmarshal([]byte(names), &e.LocalizedNames); err != nil {
				return nil, fmt.Errorf("read day %s/%s: localized names of %s: %w", userID, date, e.Key, err)
			}
		}
		e.LoggedAt = parseTS(loggedAt)
		if log == nil {
			log = model.NewDailyLog(userID, date)
		}
		log.Put(model.Meal(meal), e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read day %s/%s: %w", userID, date, err)
	}
	return log, nil
}

// WriteEntry upserts e under (userID, date, meal, e.Key).
func (s *Store) WriteEntry(ctx context.Context, userID string, date model.Date, meal model.Meal, e model.FoodEntry) error {
	if e.Key == "" {
		return fmt.Errorf("write entry: empty key")
	}
	names := "{}"
	if len(e.LocalizedNames) > 0 {
		data, err := json.Marshal(e.LocalizedNames)
		if err != nil {
			return fmt.Errorf("marshal localized names: %w", err)
		}
		names = string(data)
	}
	loggedAt := e.LoggedAt
	if loggedAt.IsZero() {
		loggedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO food_entries (user_id, date, meal, entry_key, food_id, name, localized_names,
		                           calories, protein, carbs, fat, quantity, unit, category, logged_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, date, meal, entry_key) DO UPDATE SET
			food_id = excluded.food_id, name = excluded.name, localized_names = excluded.localized_names,
			calories = excluded.calories, protein = excluded.protein, carbs = excluded.carbs, fat = excluded.fat,
			quantity = excluded.quantity, unit = excluded.unit, category = excluded.category,
			logged_at = excluded.logged_at`,
		userID, string(date), string(meal), e.Key, e.FoodID, e.Name, names,
		e.Calories, e.Protein, e.Carbs, e.Fat, e.Quantity, e.Unit, e.Category, formatTS(loggedAt),
	)
	if err != nil {
		return fmt.Errorf("write entry %s: %w", e.Key, err)
	}
	s.notify(userID, date)
	return nil
}

// DeleteEntry removes an entry. Deleting a key that does not exist succeeds.
func (s *Store) DeleteEntry(ctx context.Context, userID string, date model.Date, meal model.Meal, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM food_entries WHERE user_id = ? AND date = ? AND meal = ? AND entry_key = ?`,
		userID, string(date), string(meal), key,
	)
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.notify(userID, date)
	}
	return nil
}

// Subscribe registers for full-day snapshots of (userID, date). The current
// state is delivered once right away, then again after every change.
// A failed snapshot read reports onError and ends the subscription.
func (s *Store) Subscribe(ctx context.Context, userID string, date model.Date, onData func(*model.DailyLog), onError func(error)) (func(), error) {
	k := listenerKey{userID: userID, date: date}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.listeners[k] == nil {
		s.listeners[k] = make(map[int]*listener)
	}
	s.listeners[k][id] = &listener{onData: onData, onError: onError}
	s.mu.Unlock()

	go s.deliver(k, id)

	return func() { s.removeListener(k, id) }, nil
}

func (s *Store) removeListener(k listenerKey, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners[k], id)
	if len(s.listeners[k]) == 0 {
		delete(s.listeners, k)
	}
}

func (s *Store) notify(userID string, date model.Date) {
	s.deliver(listenerKey{userID: userID, date: date}, 0)
}

// deliver reads the day and hands it to listener id, or to every listener of k when id is 0.
func (s *Store) deliver(k listenerKey, id int) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	targets := s.snapshotListeners(k, id)
	if len(targets) == 0 {
		return
	}

	log, err := s.ReadDay(context.Background(), k.userID, k.date)
	if err != nil {
		for lid, l := range targets {
			s.removeListener(k, lid)
			if l.onError != nil {
				l.onError(err)
			}
		}
		return
	}
	if log == nil {
		log = model.NewDailyLog(k.userID, k.date)
	}
	for _, l := range targets {
		l.onData(log.Clone())
	}
}

func (s *Store) snapshotListeners(k listenerKey, id int) map[int]*listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]*listener)
	for lid, l := range s.listeners[k] {
		if id == 0 || lid == id {
			out[lid] = l
		}
	}
	return out
}
