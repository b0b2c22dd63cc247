package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// DefaultCacheTTL is how long a cached historical day stays valid.
const DefaultCacheTTL = 24 * time.Hour

// ErrCorruptCacheEntry is returned by cache backends when a persisted entry
// cannot be decoded. Readers treat it as a miss.
var ErrCorruptCacheEntry = errors.New("corrupt cache entry")

type Meal string

const (
	Breakfast Meal = "breakfast"
	Lunch     Meal = "lunch"
	Dinner    Meal = "dinner"
	Snacks    Meal = "snacks"
)

// Meals lists the slots in display order.
var Meals = []Meal{Breakfast, Lunch, Dinner, Snacks}

func ParseMeal(s string) (Meal, error) {
	for _, m := range Meals {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown meal %q", s)
}

type Nutrients struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

func (n Nutrients) Add(o Nutrients) Nutrients {
	return Nutrients{
		Calories: n.Calories + o.Calories,
		Protein:  n.Protein + o.Protein,
		Carbs:    n.Carbs + o.Carbs,
		Fat:      n.Fat + o.Fat,
	}
}

// Scale converts per-100-unit nutrient values to the logged quantity.
func Scale(per100 Nutrients, quantity float64) Nutrients {
	f := quantity / 100
	return Nutrients{
		Calories: per100.Calories * f,
		Protein:  per100.Protein * f,
		Carbs:    per100.Carbs * f,
		Fat:      per100.Fat * f,
	}
}

type FoodEntry struct {
	Key            string            `json:"key"`
	FoodID         string            `json:"food_id"`
	Name           string            `json:"name"`
	LocalizedNames map[string]string `json:"localized_names,omitempty"`
	Calories       float64           `json:"calories"`
	Protein        float64           `json:"protein"`
	Carbs          float64           `json:"carbs"`
	Fat            float64           `json:"fat"`
	Quantity       float64           `json:"quantity"`
	Unit           string            `json:"unit"`
	Category       string            `json:"category,omitempty"`
	LoggedAt       time.Time         `json:"logged_at"`
}

func (e FoodEntry) Nutrients() Nutrients {
	return Nutrients{Calories: e.Calories, Protein: e.Protein, Carbs: e.Carbs, Fat: e.Fat}
}

// DisplayName prefers the localized name for lang, falling back to Name.
func (e FoodEntry) DisplayName(lang string) string {
	if n, ok := e.LocalizedNames[lang]; ok && n != "" {
		return n
	}
	return e.Name
}

// DailyLog is one user's record for one calendar day.
type DailyLog struct {
	UserID      string                        `json:"user_id"`
	Date        Date                          `json:"date"`
	Meals       map[Meal]map[string]FoodEntry `json:"meals"`
	WaterIntake float64                       `json:"water_intake"`
}

func NewDailyLog(userID string, date Date) *DailyLog {
	return &DailyLog{UserID: userID, Date: date, Meals: make(map[Meal]map[string]FoodEntry)}
}

// IsActive reports whether any meal slot holds at least one entry.
func (l *DailyLog) IsActive() bool {
	return l.EntryCount() > 0
}

func (l *DailyLog) EntryCount() int {
	if l == nil {
		return 0
	}
	n := 0
	for _, entries := range l.Meals {
		n += len(entries)
	}
	return n
}

// Put stores e under its key, replacing any entry with the same key.
func (l *DailyLog) Put(meal Meal, e FoodEntry) {
	if l.Meals == nil {
		l.Meals = make(map[Meal]map[string]FoodEntry)
	}
	if l.Meals[meal] == nil {
		l.Meals[meal] = make(map[string]FoodEntry)
	}
	l.Meals[meal][e.Key] = e
}

// EntriesFor returns the entries of a slot ordered by LoggedAt, then Key.
func (l *DailyLog) EntriesFor(meal Meal) []FoodEntry {
	if l == nil {
		return nil
	}
	var out []FoodEntry
	for _, e := range l.Meals[meal] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LoggedAt.Equal(out[j].LoggedAt) {
			return out[i].LoggedAt.Before(out[j].LoggedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func (l *DailyLog) MealTotals(meal Meal) Nutrients {
	var t Nutrients
	if l == nil {
		return t
	}
	for _, e := range l.Meals[meal] {
		t = t.Add(e.Nutrients())
	}
	return t
}

func (l *DailyLog) Totals() Nutrients {
	var t Nutrients
	for _, m := range Meals {
		t = t.Add(l.MealTotals(m))
	}
	return t
}

// Clone returns a deep copy so snapshots handed to callers cannot be mutated.
func (l *DailyLog) Clone() *DailyLog {
	if l == nil {
		return nil
	}
	c := &DailyLog{UserID: l.UserID, Date: l.Date, WaterIntake: l.WaterIntake, Meals: make(map[Meal]map[string]FoodEntry, len(l.Meals))}
	for meal, entries := range l.Meals {
		m := make(map[string]FoodEntry, len(entries))
		for k, e := range entries {
			if e.LocalizedNames != nil {
				names := make(map[string]string, len(e.LocalizedNames))
				for lang, n := range e.LocalizedNames {
					names[lang] = n
				}
				e.LocalizedNames = names
			}
			m[k] = e
		}
		c.Meals[meal] = m
	}
	return c
}

// CacheKey identifies one cached day for one user.
type CacheKey struct {
	UserID string
	Date   Date
}

func (k CacheKey) String() string {
	return k.UserID + "/" + string(k.Date)
}

// CacheEntry is a possibly stale local copy of a DailyLog. A nil Payload
// records that the day had no data when it was fetched.
type CacheEntry struct {
	Date        Date
	Payload     *DailyLog
	LastUpdated time.Time
}

func (c *CacheEntry) Valid(now time.Time, ttl time.Duration) bool {
	if c == nil {
		return false
	}
	return now.Sub(c.LastUpdated) < ttl
}

type StreakState struct {
	Current int
	Best    int
}
