package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sadopc/platelog/internal/model"
)

// LoadStreak returns the persisted streak for userID, zero-valued if none.
func (s *Store) LoadStreak(ctx context.Context, userID string) (model.StreakState, error) {
	var st model.StreakState
	err := s.db.QueryRowContext(ctx,
		`SELECT current_streak, best_streak FROM streak_state WHERE user_id = ?`, userID,
	).Scan(&st.Current, &st.Best)
	if err == sql.ErrNoRows {
		return model.StreakState{}, nil
	}
	if err != nil {
		return model.StreakState{}, fmt.Errorf("load streak %s: %w", userID, err)
	}
	return st, nil
}

// SaveStreak upserts the streak. The stored best never decreases.
func (s *Store) SaveStreak(ctx context.Context, userID string, st model.StreakState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO streak_state (user_id, current_streak, best_streak, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			current_streak = excluded.current_streak,
			best_streak    = MAX(streak_state.best_streak, excluded.best_streak),
			updated_at     = excluded.updated_at`,
		userID, st.Current, st.Best, formatTS(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save streak %s: %w", userID, err)
	}
	return nil
}
