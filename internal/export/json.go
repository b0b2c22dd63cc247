package export

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sadopc/platelog/internal/model"
)

type jsonExport struct {
	ExportedAt string    `json:"exported_at"`
	Count      int       `json:"count"`
	Days       []jsonDay `json:"days"`
}

type jsonDay struct {
	Date    model.Date      `json:"date"`
	Totals  model.Nutrients `json:"totals"`
	Entries []jsonEntry     `json:"entries"`
}

type jsonEntry struct {
	Key      string  `json:"key"`
	Meal     string  `json:"meal"`
	FoodID   string  `json:"food_id,omitempty"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
	LoggedAt string  `json:"logged_at,omitempty"`
}

// ToJSON writes each day with its totals and entries. Count is the number of
// entries across all days.
func ToJSON(logs []*model.DailyLog, lang, path string) error {
	export := jsonExport{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
	}

	for _, log := range logs {
		if log == nil {
			continue
		}
		day := jsonDay{Date: log.Date, Totals: log.Totals(), Entries: []jsonEntry{}}
		for _, meal := range model.Meals {
			for _, e := range log.EntriesFor(meal) {
				day.Entries = append(day.Entries, jsonEntry{
					Key:      e.Key,
					Meal:     string(meal),
					FoodID:   e.FoodID,
					Name:     e.DisplayName(lang),
					Quantity: e.Quantity,
					Unit:     e.Unit,
					Calories: e.Calories,
					Protein:  e.Protein,
					Carbs:    e.Carbs,
					Fat:      e.Fat,
					LoggedAt: formatLoggedAt(e.LoggedAt),
				})
			}
		}
		export.Count += len(day.Entries)
		export.Days = append(export.Days, day)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write json file: %w", err)
	}
	return nil
}
