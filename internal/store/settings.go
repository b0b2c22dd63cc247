package store

import (
	"fmt"
	"strconv"
)

type Setting struct {
	Key   string
	Value string
}

func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

func (s *Store) GetAllSettings() ([]Setting, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var settings []Setting
	for rows.Next() {
		var s Setting
		if err := rows.Scan(&s.Key, &s.Value); err != nil {
			return nil, err
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

// CalorieGoal returns the daily calorie goal, falling back to 2000 when unset or invalid.
func (s *Store) CalorieGoal() int {
	v, err := s.GetSetting("daily_calorie_goal")
	if err != nil {
		return 2000
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2000
	}
	return n
}

// Language selects which localized food name is displayed.
func (s *Store) Language() string {
	v, err := s.GetSetting("language")
	if err != nil || v == "" {
		return "en"
	}
	return v
}
