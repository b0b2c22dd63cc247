package tui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	colorPrimary   = lipgloss.Color("#6C63FF")
	colorMuted     = lipgloss.Color("#666666")
	colorFg        = lipgloss.Color("#C0CAF5")
	colorSubtle    = lipgloss.Color("#414868")
	colorHighlight = lipgloss.Color("#7AA2F7")

	// Goal bands for the calorie bar and the week chart.
	colorUnderGoal = lipgloss.Color("#2ECC71")
	colorNearGoal  = lipgloss.Color("#F39C12")
	colorOverGoal  = lipgloss.Color("#E74C3C")
	colorStreak    = lipgloss.Color("#FF6B6B")

	// Macronutrients
	colorProtein = lipgloss.Color("#2EC4B6")
	colorCarbs   = lipgloss.Color("#E0AF68")
	colorFat     = lipgloss.Color("#BB9AF7")
)

// nearGoalRatio is where the calorie bar switches from under to near.
const nearGoalRatio = 0.9

var (
	// Tabs
	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(colorPrimary).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(colorMuted).
				Padding(0, 2)

	// Panels; the live day gets the active border.
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSubtle).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorPrimary).
				Padding(1, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorFg)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	highlightStyle = lipgloss.NewStyle().
			Foreground(colorHighlight)

	accentStyle  = lipgloss.NewStyle().Foreground(colorStreak)
	successStyle = lipgloss.NewStyle().Foreground(colorUnderGoal)
	warningStyle = lipgloss.NewStyle().Foreground(colorNearGoal)
	errorStyle   = lipgloss.NewStyle().Foreground(colorOverGoal)

	proteinStyle = lipgloss.NewStyle().Foreground(colorProtein)
	carbsStyle   = lipgloss.NewStyle().Foreground(colorCarbs)
	fatStyle     = lipgloss.NewStyle().Foreground(colorFat)

	headerStyle = lipgloss.NewStyle().
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1)

	// Meal entries
	selectedItemStyle = lipgloss.NewStyle().
				Foreground(colorPrimary).
				Bold(true)

	normalItemStyle = lipgloss.NewStyle().
			Foreground(colorFg)
)

// goalStyle picks the band for the eaten/goal ratio.
func goalStyle(ratio float64) lipgloss.Style {
	switch {
	case ratio > 1:
		return errorStyle
	case ratio >= nearGoalRatio:
		return warningStyle
	}
	return successStyle
}
