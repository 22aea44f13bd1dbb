// Package publish defines how inference results leave the process.
//
// Publishers receive every RunEvent of the service loop and push a RunMessage
// to an external system. MQTT and Kafka implementations live under infra/.
package publish

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/bikeflow/core/events"
	"github.com/kilianp07/bikeflow/core/model"
)

// ErrNotConnected is returned when a publisher has no live connection.
var ErrNotConnected = errors.New("publisher not connected")

// Publisher pushes run results to an external system.
type Publisher interface {
	PublishRun(ctx context.Context, ev events.RunEvent) error
	Close() error
}

// RunMessage is the payload shared by every publisher.
type RunMessage struct {
	RunID       string        `json:"run_id"`
	Matcher     string        `json:"matcher"`
	From        time.Time     `json:"from"`
	To          time.Time     `json:"to"`
	Moved       int           `json:"moved"`
	Flows       []model.ODRow `json:"flows"`
	PublishedAt time.Time     `json:"published_at"`
}

// NewRunMessage builds the payload for ev.
func NewRunMessage(ev events.RunEvent) RunMessage {
	flows := ev.OD
	if flows == nil {
		flows = []model.ODRow{}
	}
	return RunMessage{
		RunID:       ev.RunID,
		Matcher:     ev.Matcher,
		From:        ev.From,
		To:          ev.To,
		Moved:       ev.Moved,
		Flows:       flows,
		PublishedAt: ev.Time,
	}
}

// ByOrigin splits rows per origin station, keeping row order.
func ByOrigin(rows []model.ODRow) map[string][]model.ODRow {
	out := make(map[string][]model.ODRow)
	for _, r := range rows {
		out[r.Origin] = append(out[r.Origin], r)
	}
	return out
}

// NopPublisher drops every message.
type NopPublisher struct{}

func (NopPublisher) PublishRun(context.Context, events.RunEvent) error { return nil }
func (NopPublisher) Close() error                                      { return nil }

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) PublishRun(ctx context.Context, ev events.RunEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishRun(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
