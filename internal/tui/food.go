package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/sadopc/platelog/internal/model"
)

var foodUnits = []string{"g", "ml", "piece"}

// foodFormModel collects a food entry. Nutrients are entered per 100 units
// and scaled to the quantity before the entry is queued.
type foodFormModel struct {
	engine Engine
	width  int
	height int

	date model.Date

	formActive bool
	form       *huh.Form

	// Form field pointers (survive value copies)
	formName     *string
	formMeal     *model.Meal
	formQuantity *string
	formUnit     *string
	formCalories *string
	formProtein  *string
	formCarbs    *string
	formFat      *string
}

func newFoodFormModel(e Engine) foodFormModel {
	name, qty, unit, kcal, p, c, f := "", "", foodUnits[0], "", "", "", ""
	meal := model.Breakfast
	return foodFormModel{
		engine:       e,
		date:         e.Today(),
		formName:     &name,
		formMeal:     &meal,
		formQuantity: &qty,
		formUnit:     &unit,
		formCalories: &kcal,
		formProtein:  &p,
		formCarbs:    &c,
		formFat:      &f,
	}
}

func (m *foodFormModel) setSize(w, h int) {
	m.width = w
	m.height = h
}

func (m foodFormModel) open(date model.Date, meal model.Meal) (foodFormModel, tea.Cmd) {
	m.date = date
	*m.formName = ""
	*m.formMeal = meal
	*m.formQuantity = "100"
	*m.formUnit = foodUnits[0]
	*m.formCalories = ""
	*m.formProtein = "0"
	*m.formCarbs = "0"
	*m.formFat = "0"

	mealOptions := make([]huh.Option[model.Meal], len(model.Meals))
	for i, ml := range model.Meals {
		mealOptions[i] = huh.NewOption(mealTitle(ml), ml)
	}
	unitOptions := make([]huh.Option[string], len(foodUnits))
	for i, u := range foodUnits {
		unitOptions[i] = huh.NewOption(u, u)
	}

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Food").Value(m.formName).Validate(validateName),
			huh.NewSelect[model.Meal]().Title("Meal").Options(mealOptions...).Value(m.formMeal),
			huh.NewInput().Title("Quantity").Value(m.formQuantity).Validate(validatePositive),
			huh.NewSelect[string]().Title("Unit").Options(unitOptions...).Value(m.formUnit),
		).Title("Food"),
		huh.NewGroup(
			huh.NewInput().Title("Calories").Value(m.formCalories).Validate(validateAmount),
			huh.NewInput().Title("Protein (g)").Value(m.formProtein).Validate(validateAmount),
			huh.NewInput().Title("Carbs (g)").Value(m.formCarbs).Validate(validateAmount),
			huh.NewInput().Title("Fat (g)").Value(m.formFat).Validate(validateAmount),
		).Title("Per 100 units"),
	).WithShowHelp(true).WithShowErrors(true)

	m.formActive = true
	return m, m.form.Init()
}

func (m foodFormModel) update(msg tea.Msg) (foodFormModel, tea.Cmd) {
	if m.formActive && m.form != nil {
		return m.updateForm(msg)
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, keys.Enter), key.Matches(msg, keys.New):
			return m.open(m.date, *m.formMeal)
		}
	}
	return m, nil
}

func (m foodFormModel) updateForm(msg tea.Msg) (foodFormModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		if msg.String() == "esc" {
			m.formActive = false
			m.form = nil
			return m, func() tea.Msg { return formDoneMsg{} }
		}
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.formActive = false
		entry, err := buildEntry(*m.formName, *m.formQuantity, *m.formUnit,
			*m.formCalories, *m.formProtein, *m.formCarbs, *m.formFat)
		if err != nil {
			return m, func() tea.Msg { return statusMsg{text: fmt.Sprintf("Invalid food: %v", err), isError: true} }
		}
		return m, tea.Batch(
			m.add(*m.formMeal, entry),
			func() tea.Msg { return formDoneMsg{} },
		)
	}

	return m, cmd
}

func (m foodFormModel) add(meal model.Meal, entry model.FoodEntry) tea.Cmd {
	e, date := m.engine, m.date
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
		defer cancel()
		err := e.AddFoodOn(ctx, date, meal, entry).Wait(ctx)
		return mutationDoneMsg{op: "add", name: entry.Name, err: err}
	}
}

// buildEntry parses the form values. Nutrients are per 100 units.
func buildEntry(name, quantity, unit, calories, protein, carbs, fat string) (model.FoodEntry, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return model.FoodEntry{}, err
	}
	qty, err := parseAmount(quantity)
	if err != nil {
		return model.FoodEntry{}, fmt.Errorf("quantity: %w", err)
	}
	if qty <= 0 {
		return model.FoodEntry{}, errors.New("quantity must be positive")
	}

	var per100 model.Nutrients
	for _, f := range []struct {
		label string
		raw   string
		dst   *float64
	}{
		{"calories", calories, &per100.Calories},
		{"protein", protein, &per100.Protein},
		{"carbs", carbs, &per100.Carbs},
		{"fat", fat, &per100.Fat},
	} {
		v, err := parseAmount(f.raw)
		if err != nil {
			return model.FoodEntry{}, fmt.Errorf("%s: %w", f.label, err)
		}
		*f.dst = v
	}

	n := model.Scale(per100, qty)
	return model.FoodEntry{
		Name:     name,
		Quantity: qty,
		Unit:     unit,
		Calories: n.Calories,
		Protein:  n.Protein,
		Carbs:    n.Carbs,
		Fat:      n.Fat,
	}, nil
}

func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if v < 0 {
		return 0, errors.New("must not be negative")
	}
	return v, nil
}

func validateName(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("name is required")
	}
	return nil
}

func validateAmount(s string) error {
	_, err := parseAmount(s)
	return err
}

func validatePositive(s string) error {
	v, err := parseAmount(s)
	if err != nil {
		return err
	}
	if v <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

func (m foodFormModel) view() string {
	w := m.width - 4
	if m.formActive && m.form != nil {
		title := titleStyle.Render("Add Food") + "  " + mutedStyle.Render(string(m.date))
		content := lipgloss.JoinVertical(lipgloss.Left, title, "", m.form.View())
		return panelStyle.Width(w).Render(content)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Add Food"),
		"",
		mutedStyle.Render(fmt.Sprintf("Press enter to log food on %s.", m.date)),
	)
	return panelStyle.Width(w).Render(content)
}
