// Package export writes daily logs to CSV and JSON files.
package export

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/sadopc/platelog/internal/model"
)

var csvHeader = []string{"Date", "Meal", "Food", "Quantity", "Unit", "Calories", "Protein (g)", "Carbs (g)", "Fat (g)", "Logged At"}

// ToCSV writes one row per food entry. Names are rendered in lang when a
// translation exists. Nil logs are skipped.
func ToCSV(logs []*model.DailyLog, lang, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write(csvHeader); err != nil {
		return err
	}

	for _, log := range logs {
		if log == nil {
			continue
		}
		for _, meal := range model.Meals {
			for _, e := range log.EntriesFor(meal) {
				row := []string{
					string(log.Date),
					string(meal),
					e.DisplayName(lang),
					formatAmount(e.Quantity),
					e.Unit,
					formatAmount(e.Calories),
					formatAmount(e.Protein),
					formatAmount(e.Carbs),
					formatAmount(e.Fat),
					formatLoggedAt(e.LoggedAt),
				}
				if err := w.Write(row); err != nil {
					return err
				}
			}
		}
	}

	w.Flush()
	return w.Error()
}

// formatAmount rounds to one decimal and drops a trailing ".0".
func formatAmount(v float64) string {
	return strconv.FormatFloat(math.Round(v*10)/10, 'f', -1, 64)
}

func formatLoggedAt(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(time.RFC3339)
}
