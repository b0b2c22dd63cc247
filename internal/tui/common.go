package tui

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sadopc/platelog/internal/daylog"
	"github.com/sadopc/platelog/internal/model"
)

// Engine is the part of daylog.Session the UI drives.
type Engine interface {
	Today() model.Date
	ChangeViewDate(ctx context.Context, date model.Date) error
	Current() daylog.DayState
	Watch() (<-chan daylog.DayState, func())
	AddFoodOn(ctx context.Context, date model.Date, meal model.Meal, e model.FoodEntry) *daylog.Pending
	RemoveFoodOn(ctx context.Context, date model.Date, meal model.Meal, key string) *daylog.Pending
	Streak() model.StreakState
	WeekSummary(ctx context.Context, end model.Date, days int) ([]daylog.DaySummary, error)
	SignOut(ctx context.Context) error
}

// viewState represents the currently active view.
type viewState int

const (
	viewDay viewState = iota
	viewAddFood
	viewWeek
	viewSettings
)

var viewNames = []string{"Day", "Add Food", "Week", "Settings"}

// mutationTimeout bounds how long the UI waits on a queued add or remove.
const mutationTimeout = 30 * time.Second

// --- Messages ---

type dayStateMsg struct {
	state daylog.DayState
}

type watchClosedMsg struct{}

type viewDateMsg struct {
	date model.Date
	err  error
}

type mutationDoneMsg struct {
	op   string
	name string
	err  error
}

type openAddFoodMsg struct {
	date model.Date
	meal model.Meal
}

type settingsChangedMsg struct {
	goal int
	lang string
}

type statusMsg struct {
	text    string
	isError bool
}

type tickMsg time.Time

type exportDoneMsg struct {
	path string
}

type formDoneMsg struct{}

type signedOutMsg struct{ err error }

// --- Helpers ---

func formatKcal(v float64) string {
	return fmt.Sprintf("%d kcal", int(math.Round(v)))
}

func formatGrams(v float64) string {
	return fmt.Sprintf("%.1fg", v)
}

// formatDate renders d as "Mon, Jan 02" with a relative label for recent days.
func formatDate(d, today model.Date) string {
	switch today.DaysUntil(d) {
	case 0:
		return "Today"
	case -1:
		return "Yesterday"
	}
	t := d.Start(time.UTC)
	if t.IsZero() {
		return string(d)
	}
	return t.Format("Mon, Jan 02")
}

func progress(total float64, goal int) float64 {
	if goal <= 0 {
		return 0
	}
	return total / float64(goal)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
