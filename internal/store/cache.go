package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sadopc/platelog/internal/model"
)

// GetDay returns the cached entry for key, or nil if none is stored.
// A payload that fails to decode yields model.ErrCorruptCacheEntry.
func (s *Store) GetDay(ctx context.Context, key model.CacheKey) (*model.CacheEntry, error) {
	var payload sql.NullString
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, last_updated FROM day_cache WHERE user_id = ? AND date = ?`,
		key.UserID, string(key.Date),
	).Scan(&payload, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached day %s: %w", key, err)
	}

	entry := &model.CacheEntry{Date: key.Date}
	entry.LastUpdated, err = time.Parse(tsLayout, updated)
	if err != nil {
		return nil, fmt.Errorf("cached day %s timestamp: %w", key, model.ErrCorruptCacheEntry)
	}
	if payload.Valid {
		var log model.DailyLog
		if err := json.Unmarshal([]byte(payload.String), &log); err != nil {
			return nil, fmt.Errorf("cached day %s payload: %w", key, model.ErrCorruptCacheEntry)
		}
		entry.Payload = &log
	}
	return entry, nil
}

func (s *Store) SetDay(ctx context.Context, key model.CacheKey, entry *model.CacheEntry) error {
	var payload sql.NullString
	if entry.Payload != nil {
		data, err := json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("marshal cached day %s: %w", key, err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO day_cache (user_id, date, payload, last_updated) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, date) DO UPDATE SET payload = excluded.payload, last_updated = excluded.last_updated`,
		key.UserID, string(key.Date), payload, formatTS(entry.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("set cached day %s: %w", key, err)
	}
	return nil
}

func (s *Store) DeleteDay(ctx context.Context, key model.CacheKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM day_cache WHERE user_id = ? AND date = ?`, key.UserID, string(key.Date),
	)
	if err != nil {
		return fmt.Errorf("delete cached day %s: %w", key, err)
	}
	return nil
}

// DeleteUser drops every cached day of userID, e.g. at sign-out.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM day_cache WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete cached days for %s: %w", userID, err)
	}
	return nil
}

// PurgeExpired removes entries last written before cutoff and returns how many went.
func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM day_cache WHERE last_updated < ?`, formatTS(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge cached days: %w", err)
	}
	return res.RowsAffected()
}
