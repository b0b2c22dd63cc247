package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sadopc/platelog/internal/daylog"
	"github.com/sadopc/platelog/internal/model"
)

const weekDays = 7

// reportsModel charts daily calories for a seven-day window.
type reportsModel struct {
	engine Engine
	width  int
	height int

	goal   int
	days   []daylog.DaySummary
	offset int // weeks back from the current one (0 = ending today)
	err    error

	chart barchart.Model
}

func newReportsModel(e Engine, goal int) reportsModel {
	return reportsModel{
		engine: e,
		goal:   goal,
		chart:  barchart.New(60, 12),
	}
}

func (r *reportsModel) setSize(w, h int) {
	r.width = w
	r.height = h
}

type reportsDataMsg struct {
	offset int
	days   []daylog.DaySummary
	err    error
}

func (r reportsModel) end() model.Date {
	return r.engine.Today().AddDays(-weekDays * r.offset)
}

func (r reportsModel) refresh() tea.Cmd {
	e, end, offset := r.engine, r.end(), r.offset
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		days, err := e.WeekSummary(ctx, end, weekDays)
		return reportsDataMsg{offset: offset, days: days, err: err}
	}
}

func (r reportsModel) update(msg tea.Msg) (reportsModel, tea.Cmd) {
	switch msg := msg.(type) {
	case reportsDataMsg:
		if msg.offset != r.offset {
			return r, nil
		}
		r.err = msg.err
		if msg.err == nil {
			r.days = msg.days
		}
		r.buildChart()
		return r, nil

	case settingsChangedMsg:
		r.goal = msg.goal
		r.buildChart()
		return r, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.PrevDay):
			r.offset++
			return r, r.refresh()
		case key.Matches(msg, keys.NextDay):
			if r.offset > 0 {
				r.offset--
			}
			return r, r.refresh()
		}
	}
	return r, nil
}

func (r *reportsModel) buildChart() {
	chartWidth := max(20, r.width-8)
	chartHeight := 12
	if r.height > 30 {
		chartHeight = 16
	}

	r.chart = barchart.New(chartWidth, chartHeight)

	var bars []barchart.BarData
	for _, d := range r.days {
		label := string(d.Date)
		if t := d.Date.Start(time.UTC); !t.IsZero() {
			label = t.Format("Mon 02")
		}
		style := lipgloss.NewStyle().Foreground(colorUnderGoal)
		if r.goal > 0 && d.Totals.Calories > float64(r.goal) {
			style = lipgloss.NewStyle().Foreground(colorOverGoal)
		}
		if !d.Active {
			style = lipgloss.NewStyle().Foreground(colorSubtle)
		}
		bars = append(bars, barchart.BarData{
			Label:  label,
			Values: []barchart.BarValue{{Name: "kcal", Value: d.Totals.Calories, Style: style}},
		})
	}

	r.chart.PushAll(bars)
	r.chart.Draw()
}

func (r reportsModel) view() string {
	w := r.width - 4

	end := r.end()
	start := end.AddDays(-(weekDays - 1))
	dateLabel := mutedStyle.Render(fmt.Sprintf("%s — %s", start, end))

	header := lipgloss.JoinHorizontal(lipgloss.Bottom,
		titleStyle.Render("Week"), "  ", dateLabel,
	)

	var body string
	if r.err != nil {
		body = errorStyle.Render("  " + r.err.Error())
	} else {
		body = lipgloss.JoinVertical(lipgloss.Left, r.chart.View(), "", r.renderSummaryTable(w))
	}

	nav := mutedStyle.Render("  ←/→: navigate weeks")

	return panelStyle.Width(w).Render(
		lipgloss.JoinVertical(lipgloss.Left, header, "", body, "", nav),
	)
}

func (r reportsModel) renderSummaryTable(w int) string {
	if len(r.days) == 0 {
		return mutedStyle.Render("  No data for this period")
	}

	var rows []string
	rows = append(rows, mutedStyle.Render(fmt.Sprintf("  %-12s %10s %8s %8s %8s", "Date", "Calories", "Protein", "Carbs", "Fat")))
	rows = append(rows, mutedStyle.Render("  "+strings.Repeat("─", min(w-6, 52))))

	var total float64
	active := 0
	for _, d := range r.days {
		mark := mutedStyle.Render("○")
		if d.Active {
			mark = successStyle.Render("●")
			active++
		}
		rows = append(rows, fmt.Sprintf("  %-12s %10s %8s %8s %8s %s",
			d.Date, formatKcal(d.Totals.Calories), formatGrams(d.Totals.Protein),
			formatGrams(d.Totals.Carbs), formatGrams(d.Totals.Fat), mark,
		))
		total += d.Totals.Calories
	}

	avg := 0.0
	if active > 0 {
		avg = total / float64(active)
	}
	rows = append(rows, "")
	rows = append(rows, highlightStyle.Render(fmt.Sprintf("  %d/%d days logged, avg %s", active, len(r.days), formatKcal(avg))))

	return strings.Join(rows, "\n")
}
