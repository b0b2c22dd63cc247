package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sadopc/platelog/internal/export"
	"github.com/sadopc/platelog/internal/model"
	"github.com/sadopc/platelog/internal/store"
)

// App is the root Bubble Tea model.
type App struct {
	engine  Engine
	store   *store.Store
	watcher stateWatcher
	width   int
	height  int

	activeView    viewState
	showHelp      bool
	exportPicking bool
	exportCursor  int

	dashboard dashboardModel
	addFood   foodFormModel
	reports   reportsModel
	settings  settingsModel

	help   help.Model
	status string
}

// NewApp builds the UI for a running session. Settings are read from and
// saved to s.
func NewApp(e Engine, s *store.Store) App {
	h := help.New()
	h.ShowAll = false

	goal, lang := s.CalorieGoal(), s.Language()
	return App{
		engine:     e,
		store:      s,
		watcher:    newStateWatcher(e),
		activeView: viewDay,
		dashboard:  newDashboardModel(e, goal, lang),
		addFood:    newFoodFormModel(e),
		reports:    newReportsModel(e, goal),
		settings:   newSettingsModel(s),
		help:       h,
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(
		a.dashboard.Init(),
		a.watcher.next(),
		a.settings.refresh(),
		tickCmd(),
	)
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		contentHeight := a.height - 4 // header + footer
		a.dashboard.setSize(a.width, contentHeight)
		a.addFood.setSize(a.width, contentHeight)
		a.reports.setSize(a.width, contentHeight)
		a.settings.setSize(a.width, contentHeight)
		return a, nil

	case tea.KeyMsg:
		// Export picker
		if a.exportPicking {
			return a.updateExportPicker(msg)
		}

		// If a child view is capturing input (e.g. form), delegate first.
		if a.isFormActive() {
			return a.updateActiveView(msg)
		}

		switch {
		case key.Matches(msg, keys.Export):
			a.exportPicking = true
			a.exportCursor = 0
			return a, nil
		case key.Matches(msg, keys.SignOut):
			a.status = "Signing out…"
			return a, a.signOut()
		case key.Matches(msg, keys.Quit):
			a.watcher.close()
			return a, tea.Quit
		case key.Matches(msg, keys.Help):
			a.showHelp = !a.showHelp
			a.help.ShowAll = a.showHelp
			return a, nil
		case key.Matches(msg, keys.Tab1):
			a.activeView = viewDay
			return a, nil
		case key.Matches(msg, keys.Tab2):
			return a.openAddFood(a.dashboard.date, model.Breakfast)
		case key.Matches(msg, keys.Tab3):
			a.activeView = viewWeek
			return a, a.reports.refresh()
		case key.Matches(msg, keys.Tab4):
			a.activeView = viewSettings
			return a, a.settings.refresh()
		case key.Matches(msg, keys.Tab):
			a.activeView = (a.activeView + 1) % viewState(len(viewNames))
			return a, a.refreshCurrentView()
		}

	case dayStateMsg:
		var cmd tea.Cmd
		a.dashboard, cmd = a.dashboard.update(msg)
		return a, tea.Batch(cmd, a.watcher.next())

	case watchClosedMsg:
		return a, nil

	case signedOutMsg:
		a.watcher.close()
		return a, tea.Quit

	case viewDateMsg:
		var cmd tea.Cmd
		a.dashboard, cmd = a.dashboard.update(msg)
		return a, cmd

	case mutationDoneMsg:
		if msg.err != nil {
			a.status = fmt.Sprintf("Could not %s %s: %v", msg.op, msg.name, msg.err)
		} else if msg.op == "add" {
			a.status = "Added " + msg.name
		} else {
			a.status = "Removed " + msg.name
		}
		a.dashboard, _ = a.dashboard.update(msg)
		if a.activeView == viewWeek {
			return a, a.reports.refresh()
		}
		return a, nil

	case openAddFoodMsg:
		return a.openAddFood(msg.date, msg.meal)

	case formDoneMsg:
		a.activeView = viewDay
		return a, nil

	case settingsChangedMsg:
		a.dashboard, _ = a.dashboard.update(msg)
		a.reports, _ = a.reports.update(msg)
		a.status = "Settings saved"
		return a, nil

	case settingsDataMsg:
		var cmd tea.Cmd
		a.settings, cmd = a.settings.update(msg)
		return a, cmd

	case reportsDataMsg:
		var cmd tea.Cmd
		a.reports, cmd = a.reports.update(msg)
		return a, cmd

	case tickMsg:
		cmds = append(cmds, tickCmd())
		var cmd tea.Cmd
		a.dashboard, cmd = a.dashboard.update(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
		return a, tea.Batch(cmds...)

	case statusMsg:
		a.status = msg.text
		return a, nil

	case exportDoneMsg:
		a.status = "Exported to " + msg.path
		a.exportPicking = false
		return a, nil
	}

	return a.updateActiveView(msg)
}

// signOut drains pending mutations and clears the user's cached days.
func (a App) signOut() tea.Cmd {
	engine := a.engine
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
		defer cancel()
		return signedOutMsg{err: engine.SignOut(ctx)}
	}
}

func (a App) openAddFood(date model.Date, meal model.Meal) (tea.Model, tea.Cmd) {
	a.activeView = viewAddFood
	var cmd tea.Cmd
	a.addFood, cmd = a.addFood.open(date, meal)
	return a, cmd
}

func (a App) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch a.activeView {
	case viewDay:
		a.dashboard, cmd = a.dashboard.update(msg)
	case viewAddFood:
		a.addFood, cmd = a.addFood.update(msg)
	case viewWeek:
		a.reports, cmd = a.reports.update(msg)
	case viewSettings:
		a.settings, cmd = a.settings.update(msg)
	}
	return a, cmd
}

func (a App) isFormActive() bool {
	switch a.activeView {
	case viewAddFood:
		return a.addFood.formActive
	case viewSettings:
		return a.settings.formActive
	}
	return false
}

func (a App) refreshCurrentView() tea.Cmd {
	switch a.activeView {
	case viewWeek:
		return a.reports.refresh()
	case viewSettings:
		return a.settings.refresh()
	}
	return nil
}

func (a App) View() string {
	if a.width == 0 {
		return "Loading..."
	}

	header := a.renderHeader()
	footer := a.renderFooter()

	var content string
	switch a.activeView {
	case viewDay:
		content = a.dashboard.view()
	case viewAddFood:
		content = a.addFood.view()
	case viewWeek:
		content = a.reports.view()
	case viewSettings:
		content = a.settings.view()
	}

	// Calculate available height for content
	headerHeight := lipgloss.Height(header)
	footerHeight := lipgloss.Height(footer)
	contentHeight := max(1, a.height-headerHeight-footerHeight)

	// Show export picker overlay
	if a.exportPicking {
		content = a.renderExportPicker()
	}

	content = lipgloss.NewStyle().
		Width(a.width).
		Height(contentHeight).
		Render(content)

	return lipgloss.JoinVertical(lipgloss.Left, header, content, footer)
}

func (a App) renderHeader() string {
	var tabs []string
	for i, name := range viewNames {
		if viewState(i) == a.activeView {
			tabs = append(tabs, activeTabStyle.Render(name))
		} else {
			tabs = append(tabs, inactiveTabStyle.Render(name))
		}
	}

	tabRow := lipgloss.JoinHorizontal(lipgloss.Bottom, tabs...)

	title := lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).Render("platelog")
	gap := max(1, a.width-lipgloss.Width(title)-lipgloss.Width(tabRow)-4)
	spacer := lipgloss.NewStyle().Width(gap).Render("")

	return headerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Bottom, title, spacer, tabRow),
	)
}

func (a App) renderFooter() string {
	helpView := a.help.View(keys)

	status := ""
	if a.status != "" {
		status = mutedStyle.Render(" " + a.status)
	}

	// Streak indicator in footer
	streak := ""
	if n := a.dashboard.streak.Current; n > 0 {
		streak = accentStyle.Render(fmt.Sprintf(" ▲ %d", n))
	}

	left := footerStyle.Render(helpView)
	right := streak + status

	gap := max(1, a.width-lipgloss.Width(left)-lipgloss.Width(right)-2)
	spacer := lipgloss.NewStyle().Width(gap).Render("")

	return lipgloss.JoinHorizontal(lipgloss.Bottom, left, spacer, right)
}

func (a App) renderExportPicker() string {
	title := titleStyle.Render("Export " + string(a.dashboard.date))
	formats := []string{"CSV", "JSON"}
	var rows []string
	rows = append(rows, title)
	rows = append(rows, "")
	for i, f := range formats {
		cursor := "  "
		style := normalItemStyle
		if i == a.exportCursor {
			cursor = "> "
			style = selectedItemStyle
		}
		rows = append(rows, style.Render(cursor+f))
	}
	rows = append(rows, "")
	rows = append(rows, mutedStyle.Render("  enter: export  esc: cancel"))

	w := a.width - 4
	return activePanelStyle.Width(w).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (a App) updateExportPicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Up):
		if a.exportCursor > 0 {
			a.exportCursor--
		}
	case key.Matches(msg, keys.Down):
		if a.exportCursor < 1 {
			a.exportCursor++
		}
	case key.Matches(msg, keys.Enter):
		a.exportPicking = false
		return a, a.doExport(a.exportCursor)
	case key.Matches(msg, keys.Back):
		a.exportPicking = false
	}
	return a, nil
}

// doExport writes the day on screen to the home directory.
func (a App) doExport(format int) tea.Cmd {
	st := a.engine.Current()
	lang := a.store.Language()
	return func() tea.Msg {
		if st.Log == nil {
			return statusMsg{text: "Nothing to export yet", isError: true}
		}
		logs := []*model.DailyLog{st.Log}

		home, _ := os.UserHomeDir()

		var path string
		if format == 0 {
			path = filepath.Join(home, fmt.Sprintf("platelog-%s.csv", st.Date))
			if err := export.ToCSV(logs, lang, path); err != nil {
				return statusMsg{text: fmt.Sprintf("CSV error: %v", err), isError: true}
			}
		} else {
			path = filepath.Join(home, fmt.Sprintf("platelog-%s.json", st.Date))
			if err := export.ToJSON(logs, lang, path); err != nil {
				return statusMsg{text: fmt.Sprintf("JSON error: %v", err), isError: true}
			}
		}

		return exportDoneMsg{path: path}
	}
}
