package storage

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/san-kum/aiwater/internal/dynamo"
)

type ExportData struct {
	Session SessionMetadata `json:"session"`
	Events  []dynamo.Event  `json:"events"`
	Times   []float64       `json:"times"`
	Mass    []float64       `json:"mass"`
}

// MassSeries flattens events into (seconds since the first event, mass)
// samples. Dropped and config events carry no new mass and are skipped.
func MassSeries(events []dynamo.Event) ([]float64, []float64) {
	times := make([]float64, 0, len(events))
	mass := make([]float64, 0, len(events))
	var start time.Time
	for _, ev := range events {
		if ev.Kind == dynamo.EventDropped || ev.Kind == dynamo.EventConfig {
			continue
		}
		if start.IsZero() {
			start = ev.Time
		}
		times = append(times, ev.Time.Sub(start).Seconds())
		mass = append(mass, ev.Mass)
	}
	return times, mass
}

func WriteJSON(w io.Writer, meta SessionMetadata, events []dynamo.Event) error {
	times, mass := MassSeries(events)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ExportData{Session: meta, Events: events, Times: times, Mass: mass})
}

func ExportJSON(path string, meta SessionMetadata, events []dynamo.Event) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteJSON(file, meta, events)
}

func WriteCSV(w io.Writer, events []dynamo.Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "kind", "cost", "duration", "rate", "baseline", "mass"}); err != nil {
		return err
	}
	for _, ev := range events {
		row := []string{
			ev.Time.UTC().Format(time.RFC3339Nano),
			string(ev.Kind),
			strconv.FormatFloat(ev.Cost, 'g', -1, 64),
			strconv.FormatFloat(ev.Duration, 'f', 6, 64),
			strconv.FormatFloat(ev.Rate, 'g', -1, 64),
			strconv.FormatFloat(ev.Baseline, 'g', -1, 64),
			strconv.FormatFloat(ev.Mass, 'g', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ExportCSV(path string, events []dynamo.Event) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteCSV(file, events)
}
