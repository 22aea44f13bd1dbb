// Package scenarios replays YAML-described status series through the
// inference engine and checks the resulting OD table.
package scenarios

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/kilianp07/bikeflow/core/model"
)

type StationDef struct {
	ID  string  `yaml:"id"`
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// SnapshotDef is the bike count of several stations at one instant.
type SnapshotDef struct {
	At    string         `yaml:"at"`
	Bikes map[string]int `yaml:"bikes"`
}

type FlowDef struct {
	Origin      string `yaml:"origin"`
	Destination string `yaml:"destination"`
	Count       int    `yaml:"count"`
}

type Expected struct {
	Moved int `yaml:"moved"`
	// Flows, when set, must equal the OD table exactly.
	Flows []FlowDef `yaml:"flows,omitempty"`
	// Matchers restricts the expectation to the listed matchers.
	Matchers []string `yaml:"matchers,omitempty"`
}

type Scenario struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Bucket      string        `yaml:"bucket"`
	Stations    []StationDef  `yaml:"stations"`
	Snapshots   []SnapshotDef `yaml:"snapshots"`
	Expected    []Expected    `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%s: scenario without name", path)
	}
	return &sc, nil
}

func (sc *Scenario) StationModels() []model.Station {
	out := make([]model.Station, len(sc.Stations))
	for i, s := range sc.Stations {
		out[i] = model.Station{ID: s.ID, Lat: s.Lat, Lon: s.Lon}
	}
	return out
}

// Records expands the snapshots into status records. Station order inside a
// snapshot is irrelevant to the engine, so map order is fine.
func (sc *Scenario) Records() []model.StatusRecord {
	var out []model.StatusRecord
	for _, snap := range sc.Snapshots {
		for id, n := range snap.Bikes {
			out = append(out, model.StatusRecord{StationID: id, ScrapedAt: snap.At, BikesAvailable: decimal.NewFromInt(int64(n))})
		}
	}
	return out
}

func (e Expected) Rows() []model.ODRow {
	if e.Flows == nil {
		return nil
	}
	out := make([]model.ODRow, len(e.Flows))
	for i, f := range e.Flows {
		out[i] = model.ODRow{Origin: f.Origin, Destination: f.Destination, Count: f.Count}
	}
	return out
}

func (e Expected) appliesTo(matcher string) bool {
	if len(e.Matchers) == 0 {
		return true
	}
	for _, m := range e.Matchers {
		if m == matcher {
			return true
		}
	}
	return false
}

func parseBucket(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}
