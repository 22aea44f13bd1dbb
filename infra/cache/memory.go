package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/bikeflow/core/flow"
	"github.com/kilianp07/bikeflow/core/model"
	"github.com/kilianp07/bikeflow/core/publish"
)

// Memory is an in-process stand-in for Cache used when no Redis address is
// configured. Station entries never expire.
type Memory struct {
	mu       sync.RWMutex
	stations []model.Station
	latest   *publish.RunMessage
	totals   []model.ODRow
	through  time.Time
}

// NewMemory returns an empty Memory cache.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) PutStations(_ context.Context, stations []model.Station) error {
	m.mu.Lock()
	m.stations = append([]model.Station(nil), stations...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Stations(context.Context) ([]model.Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stations == nil {
		return nil, ErrMiss
	}
	return append([]model.Station(nil), m.stations...), nil
}

func (m *Memory) PutLatest(_ context.Context, msg publish.RunMessage, flows []model.Flow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = &msg
	fresh, mark := newBuckets(flows, m.through, msg.To)
	m.totals = flow.Merge(m.totals, flow.Aggregate(fresh))
	m.through = mark
	return nil
}

func (m *Memory) Latest(context.Context) (publish.RunMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return publish.RunMessage{}, ErrMiss
	}
	return *m.latest, nil
}

// TopPairs returns the n busiest accumulated pairs, all of them when n <= 0.
func (m *Memory) TopPairs(_ context.Context, n int) ([]model.ODRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return flow.TopN(m.totals, n), nil
}

func (m *Memory) Close() error { return nil }
