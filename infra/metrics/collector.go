package metrics

import (
	"context"

	"github.com/kilianp07/bikeflow/core/events"
	coremetrics "github.com/kilianp07/bikeflow/core/metrics"
	"github.com/kilianp07/bikeflow/infra/logger"
	"github.com/kilianp07/bikeflow/internal/eventbus"
)

// StartRunCollector subscribes to run events and records the OD table of every
// successful run on sinks that support it. It stops when the context is
// canceled or the bus is closed.
func StartRunCollector(ctx context.Context, bus *eventbus.TypedBus[events.RunEvent], sink coremetrics.MetricsSink) {
	rec, ok := sink.(coremetrics.FlowRecorder)
	if bus == nil || !ok {
		return
	}
	log := logger.New("metrics-collector")
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		eventbus.Consume(ctx, sub, func(ev events.RunEvent) {
			if ev.Err != nil {
				return
			}
			if err := rec.RecordFlows(ev.RunID, ev.OD, ev.Time); err != nil {
				log.Errorf("record flows: %v", err)
			}
		})
	}()
}

// StartIngestCollector records acquisition events on sinks that support it.
func StartIngestCollector(ctx context.Context, bus *eventbus.TypedBus[events.IngestEvent], sink coremetrics.MetricsSink) {
	rec, ok := sink.(coremetrics.IngestRecorder)
	if bus == nil || !ok {
		return
	}
	log := logger.New("metrics-collector")
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		eventbus.Consume(ctx, sub, func(ev events.IngestEvent) {
			e := coremetrics.IngestEvent{Source: ev.Source, Rows: ev.Rows, Time: ev.Time}
			if ev.Err != nil {
				e.Error = ev.Err.Error()
			}
			if err := rec.RecordIngest(e); err != nil {
				log.Errorf("record ingest: %v", err)
			}
		})
	}()
}
