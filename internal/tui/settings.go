package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/sadopc/platelog/internal/store"
)

const (
	settingCalorieGoal = "daily_calorie_goal"
	settingLanguage    = "language"
)

var languages = []struct{ code, name string }{
	{"en", "English"},
	{"tr", "Türkçe"},
	{"de", "Deutsch"},
	{"es", "Español"},
	{"fr", "Français"},
}

type settingsModel struct {
	store  *store.Store
	width  int
	height int

	settings   []store.Setting
	formActive bool
	form       *huh.Form

	// Form values as pointers (survive value copies)
	calorieGoal *string
	language    *string
}

func newSettingsModel(s *store.Store) settingsModel {
	goal, lang := "", ""
	return settingsModel{
		store:       s,
		calorieGoal: &goal,
		language:    &lang,
	}
}

func (s *settingsModel) setSize(w, h int) {
	s.width = w
	s.height = h
}

type settingsDataMsg struct {
	settings []store.Setting
}

func (s settingsModel) refresh() tea.Cmd {
	return func() tea.Msg {
		settings, _ := s.store.GetAllSettings()
		return settingsDataMsg{settings: settings}
	}
}

func (s settingsModel) update(msg tea.Msg) (settingsModel, tea.Cmd) {
	if s.formActive && s.form != nil {
		return s.updateForm(msg)
	}

	switch msg := msg.(type) {
	case settingsDataMsg:
		s.settings = msg.settings
		return s, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Enter), key.Matches(msg, keys.New):
			return s.showForm()
		}
	}
	return s, nil
}

func (s settingsModel) showForm() (settingsModel, tea.Cmd) {
	*s.calorieGoal = strconv.Itoa(s.store.CalorieGoal())
	*s.language = s.store.Language()

	langOptions := make([]huh.Option[string], len(languages))
	for i, l := range languages {
		langOptions[i] = huh.NewOption(l.name, l.code)
	}

	s.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Daily calorie goal (kcal)").Value(s.calorieGoal).Validate(validateGoal),
			huh.NewSelect[string]().Title("Food name language").Options(langOptions...).Value(s.language),
		).Title("General"),
	).WithShowHelp(true).WithShowErrors(true)

	s.formActive = true
	return s, s.form.Init()
}

func (s settingsModel) updateForm(msg tea.Msg) (settingsModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		if msg.String() == "esc" {
			s.formActive = false
			s.form = nil
			return s, nil
		}
	}

	form, cmd := s.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		s.form = f
	}

	if s.form.State == huh.StateCompleted {
		s.formActive = false
		if err := s.saveSettings(); err != nil {
			return s, func() tea.Msg {
				return statusMsg{text: fmt.Sprintf("Settings error: %v", err), isError: true}
			}
		}
		changed := settingsChangedMsg{goal: s.store.CalorieGoal(), lang: s.store.Language()}
		return s, tea.Batch(s.refresh(), func() tea.Msg { return changed })
	}

	return s, cmd
}

func (s settingsModel) saveSettings() error {
	if err := s.store.SetSetting(settingCalorieGoal, strings.TrimSpace(*s.calorieGoal)); err != nil {
		return err
	}
	return s.store.SetSetting(settingLanguage, *s.language)
}

func validateGoal(v string) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return errors.New("enter a positive whole number")
	}
	return nil
}

func (s settingsModel) view() string {
	w := s.width - 4

	if s.formActive && s.form != nil {
		title := titleStyle.Render("Settings")
		formView := s.form.View()
		return panelStyle.Width(w).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, "", formView),
		)
	}

	title := titleStyle.Render("Settings")
	hint := mutedStyle.Render("Press enter to edit settings")

	var rows []string
	rows = append(rows, title)
	rows = append(rows, "")

	for _, setting := range s.settings {
		label := lipgloss.NewStyle().Width(24).Render(setting.Key)
		value := highlightStyle.Render(formatSettingValue(setting.Key, setting.Value))
		rows = append(rows, fmt.Sprintf("  %s %s", label, value))
	}

	rows = append(rows, "")
	rows = append(rows, hint)

	return panelStyle.Width(w).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func formatSettingValue(k, v string) string {
	switch k {
	case settingCalorieGoal:
		if n, err := strconv.Atoi(v); err == nil {
			return fmt.Sprintf("%d kcal", n)
		}
	case settingLanguage:
		for _, l := range languages {
			if l.code == v {
				return l.name
			}
		}
	}
	return v
}
