// Package output dumps buffered readings for inspection.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/model"
)

type readingJSON struct {
	Timestamp   string  `json:"ts"`
	Channel     string  `json:"channel_id"`
	Value       float64 `json:"value"`
	Description string  `json:"description,omitempty"`
	Unit        string  `json:"dimension,omitempty"`
}

// WriteJSON writes readings to a JSON file with pretty formatting.
func WriteJSON(path string, readings []model.Reading) error {
	out := make([]readingJSON, 0, len(readings))
	for _, r := range readings {
		out = append(out, readingJSON{
			Timestamp:   r.Key().TS,
			Channel:     r.Channel,
			Value:       r.Value,
			Description: r.Description,
			Unit:        r.Unit,
		})
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// WriteCSV writes readings in the buffer's column layout.
// Columns: ts,channel_id,value,description,dimension
func WriteCSV(path string, readings []model.Reading) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	headers := []string{"ts", "channel_id", "value", "description", "dimension"}
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range readings {
		rec := []string{
			r.Key().TS,
			r.Channel,
			strconv.FormatFloat(r.Value, 'f', -1, 64),
			r.Description,
			r.Unit,
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
