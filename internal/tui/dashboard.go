package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sadopc/platelog/internal/daylog"
	"github.com/sadopc/platelog/internal/model"
)

// dashboardModel shows one day: totals against the goal, the streak and
// every entry grouped by meal.
type dashboardModel struct {
	engine Engine
	width  int
	height int

	today  model.Date
	date   model.Date
	state  daylog.DayState
	streak model.StreakState
	goal   int
	lang   string
	cursor int
}

type entryRef struct {
	meal  model.Meal
	entry model.FoodEntry
}

func newDashboardModel(e Engine, goal int, lang string) dashboardModel {
	today := e.Today()
	return dashboardModel{
		engine: e,
		today:  today,
		date:   today,
		state:  daylog.DayState{Date: today, Loading: true},
		streak: e.Streak(),
		goal:   goal,
		lang:   lang,
	}
}

func (d dashboardModel) Init() tea.Cmd {
	return d.changeDate(d.date)
}

func (d *dashboardModel) setSize(w, h int) {
	d.width = w
	d.height = h
}

func (d dashboardModel) changeDate(date model.Date) tea.Cmd {
	e := d.engine
	return func() tea.Msg {
		err := e.ChangeViewDate(context.Background(), date)
		return viewDateMsg{date: date, err: err}
	}
}

// entries flattens the visible log in display order.
func (d dashboardModel) entries() []entryRef {
	var out []entryRef
	for _, meal := range model.Meals {
		for _, e := range d.state.Log.EntriesFor(meal) {
			out = append(out, entryRef{meal: meal, entry: e})
		}
	}
	return out
}

func (d dashboardModel) selected() (entryRef, bool) {
	refs := d.entries()
	if d.cursor < 0 || d.cursor >= len(refs) {
		return entryRef{}, false
	}
	return refs[d.cursor], true
}

func (d dashboardModel) update(msg tea.Msg) (dashboardModel, tea.Cmd) {
	switch msg := msg.(type) {
	case dayStateMsg:
		if msg.state.Date != d.date {
			return d, nil
		}
		d.state = msg.state
		d.cursor = clamp(d.cursor, 0, max(0, len(d.entries())-1))
		d.streak = d.engine.Streak()
		return d, nil

	case viewDateMsg:
		cur := d.engine.Current()
		if cur.Date != d.date {
			// An older selection finished last; select the shown date again.
			return d, d.changeDate(d.date)
		}
		if msg.date != d.date {
			return d, nil
		}
		d.state = cur
		if msg.err != nil && !errors.Is(msg.err, daylog.ErrSuperseded) {
			return d, func() tea.Msg {
				return statusMsg{text: fmt.Sprintf("Load error: %v", msg.err), isError: true}
			}
		}
		return d, nil

	case mutationDoneMsg:
		d.streak = d.engine.Streak()
		return d, nil

	case settingsChangedMsg:
		d.goal = msg.goal
		d.lang = msg.lang
		return d, nil

	case tickMsg:
		d.today = d.engine.Today()
		d.streak = d.engine.Streak()
		return d, nil

	case tea.KeyMsg:
		return d.updateKeys(msg)
	}
	return d, nil
}

func (d dashboardModel) updateKeys(msg tea.KeyMsg) (dashboardModel, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.PrevDay):
		return d.goTo(d.date.AddDays(-1))
	case key.Matches(msg, keys.NextDay):
		if d.date.Before(d.today) {
			return d.goTo(d.date.AddDays(1))
		}
	case key.Matches(msg, keys.Today):
		d.today = d.engine.Today()
		if d.date != d.today {
			return d.goTo(d.today)
		}
	case key.Matches(msg, keys.Up):
		if d.cursor > 0 {
			d.cursor--
		}
	case key.Matches(msg, keys.Down):
		if d.cursor < len(d.entries())-1 {
			d.cursor++
		}
	case key.Matches(msg, keys.Delete):
		if ref, ok := d.selected(); ok {
			return d, d.remove(ref)
		}
	case key.Matches(msg, keys.New):
		meal := model.Breakfast
		if ref, ok := d.selected(); ok {
			meal = ref.meal
		}
		date := d.date
		return d, func() tea.Msg { return openAddFoodMsg{date: date, meal: meal} }
	}
	return d, nil
}

func (d dashboardModel) goTo(date model.Date) (dashboardModel, tea.Cmd) {
	d.date = date
	d.cursor = 0
	d.state = daylog.DayState{Date: date, Loading: true}
	return d, d.changeDate(date)
}

func (d dashboardModel) remove(ref entryRef) tea.Cmd {
	e, date, name := d.engine, d.date, ref.entry.DisplayName(d.lang)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
		defer cancel()
		err := e.RemoveFoodOn(ctx, date, ref.meal, ref.entry.Key).Wait(ctx)
		return mutationDoneMsg{op: "remove", name: name, err: err}
	}
}

func (d dashboardModel) view() string {
	if d.width < 20 {
		return "Terminal too small"
	}

	contentWidth := d.width - 4

	return lipgloss.JoinVertical(lipgloss.Left,
		d.renderSummaryPanel(contentWidth),
		d.renderMealsPanel(contentWidth),
	)
}

func (d dashboardModel) renderSummaryPanel(w int) string {
	dateLine := titleStyle.Render("‹ " + formatDate(d.date, d.today) + " ›")
	if d.date == d.today {
		dateLine += "  " + successStyle.Render("● LIVE")
	}
	if d.state.Loading {
		dateLine += "  " + mutedStyle.Render("loading…")
	}

	totals := d.state.Log.Totals()
	kcal := highlightStyle.Render(formatKcal(totals.Calories)) +
		mutedStyle.Render(fmt.Sprintf(" / %d kcal", d.goal))
	macros := proteinStyle.Render("P "+formatGrams(totals.Protein)) + "  " +
		carbsStyle.Render("C "+formatGrams(totals.Carbs)) + "  " +
		fatStyle.Render("F "+formatGrams(totals.Fat))

	streak := accentStyle.Render(fmt.Sprintf("▲ %d day streak", d.streak.Current)) +
		mutedStyle.Render(fmt.Sprintf("  best %d", d.streak.Best))

	rows := []string{
		dateLine,
		"",
		kcal + "   " + macros,
		renderGoalBar(progress(totals.Calories, d.goal), max(10, w-8)),
		streak,
	}
	if d.state.Err != nil {
		rows = append(rows, errorStyle.Render("! "+d.state.Err.Error()))
	}

	style := panelStyle
	if d.date == d.today {
		style = activePanelStyle
	}
	return style.Width(w).Render(strings.Join(rows, "\n"))
}

func (d dashboardModel) renderMealsPanel(w int) string {
	var rows []string
	i := 0
	for _, meal := range model.Meals {
		entries := d.state.Log.EntriesFor(meal)
		header := titleStyle.Render(mealTitle(meal))
		if len(entries) > 0 {
			header += "  " + mutedStyle.Render(formatKcal(d.state.Log.MealTotals(meal).Calories))
		}
		rows = append(rows, header)
		if len(entries) == 0 {
			rows = append(rows, mutedStyle.Render("  nothing logged"))
		}
		for _, e := range entries {
			cursor := "  "
			style := normalItemStyle
			if i == d.cursor {
				cursor = "> "
				style = selectedItemStyle
			}
			amount := fmt.Sprintf("%g%s", e.Quantity, e.Unit)
			rows = append(rows, style.Render(fmt.Sprintf("%s%-24s %8s %10s",
				cursor, e.DisplayName(d.lang), amount, formatKcal(e.Calories))))
			i++
		}
		rows = append(rows, "")
	}
	rows = append(rows, mutedStyle.Render("  ←/→: day  t: today  n: add  d: remove"))

	return panelStyle.Width(w).Render(strings.Join(rows, "\n"))
}

func mealTitle(m model.Meal) string {
	s := string(m)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// renderGoalBar draws a fill bar for ratio, coloured by goal band.
func renderGoalBar(ratio float64, width int) string {
	filled := clamp(int(ratio*float64(width)), 0, width)
	return goalStyle(ratio).Render(strings.Repeat("█", filled)) + mutedStyle.Render(strings.Repeat("░", width-filled))
}
