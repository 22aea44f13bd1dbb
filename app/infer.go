package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/bikeflow/core/events"
	"github.com/kilianp07/bikeflow/core/flow"
	"github.com/kilianp07/bikeflow/core/logger"
	"github.com/kilianp07/bikeflow/core/model"
	"github.com/kilianp07/bikeflow/core/monitoring"
	"github.com/kilianp07/bikeflow/core/runlog"
	"github.com/kilianp07/bikeflow/infra/cache"
	"github.com/kilianp07/bikeflow/internal/eventbus"
)

// DataSource reads the inputs of an inference run.
type DataSource interface {
	Stations(ctx context.Context) ([]model.Station, error)
	StatusRange(ctx context.Context, start, end time.Time) ([]model.StatusRecord, error)
}

// FlowStore persists the OD table of a run.
type FlowStore interface {
	SaveFlows(ctx context.Context, runID string, rows []model.ODRow) error
}

// Inference loads data, runs the engine and records the outcome.
type Inference struct {
	engine *flow.Engine
	data   DataSource
	flows  FlowStore
	runs   runlog.Store
	cache  cache.Store
	bus    *eventbus.TypedBus[events.RunEvent]
	topN   int
	log    logger.Logger
}

// InferenceOption customises an Inference.
type InferenceOption func(*Inference)

// WithRunLog records every run in s keeping the topN busiest pairs.
func WithRunLog(s runlog.Store, topN int) InferenceOption {
	return func(i *Inference) { i.runs, i.topN = s, topN }
}

// WithFlowStore persists every OD table.
func WithFlowStore(s FlowStore) InferenceOption { return func(i *Inference) { i.flows = s } }

// WithCache reads stations from c before the data source.
func WithCache(c cache.Store) InferenceOption { return func(i *Inference) { i.cache = c } }

// WithRunBus publishes a RunEvent after every run.
func WithRunBus(b *eventbus.TypedBus[events.RunEvent]) InferenceOption {
	return func(i *Inference) { i.bus = b }
}

// NewInference builds an Inference around engine and data.
func NewInference(engine *flow.Engine, data DataSource, log logger.Logger, opts ...InferenceOption) *Inference {
	i := &Inference{engine: engine, data: data, runs: runlog.NopStore{}, topN: 20, log: logger.OrNop(log)}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Run infers flows from the status readings in [start, end]. Zero bounds are
// open. Failed runs are logged and published with their error.
func (i *Inference) Run(ctx context.Context, start, end time.Time) (*flow.Result, error) {
	res, err := i.run(ctx, start, end)
	i.record(ctx, res, err)
	return res, err
}

func (i *Inference) run(ctx context.Context, start, end time.Time) (*flow.Result, error) {
	stations, err := i.stations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stations: %w", err)
	}
	recs, err := i.data.StatusRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load status: %w", err)
	}
	res, err := i.engine.Infer(ctx, stations, recs)
	if err != nil {
		return nil, err
	}
	if i.flows != nil {
		if err := i.flows.SaveFlows(ctx, res.RunID, res.OD); err != nil {
			return res, fmt.Errorf("save flows: %w", err)
		}
	}
	return res, nil
}

func (i *Inference) stations(ctx context.Context) ([]model.Station, error) {
	if i.cache != nil {
		st, err := i.cache.Stations(ctx)
		if err == nil && len(st) > 0 {
			return st, nil
		}
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			i.log.Warnf("station cache: %v", err)
		}
	}
	st, err := i.data.Stations(ctx)
	if err != nil {
		return nil, err
	}
	if i.cache != nil && len(st) > 0 {
		if err := i.cache.PutStations(ctx, st); err != nil {
			i.log.Warnf("station cache: %v", err)
		}
	}
	return st, nil
}

func (i *Inference) record(ctx context.Context, res *flow.Result, runErr error) {
	now := time.Now().UTC()
	rec := runlog.RunRecord{Timestamp: now, Matcher: i.engine.MatcherName(), BucketWidth: i.engine.BucketWidth().String()}
	ev := events.RunEvent{Matcher: rec.Matcher, Err: runErr, Time: now}
	if res != nil {
		rec.RunID = res.RunID
		rec.From, rec.To = res.From, res.To
		rec.Buckets, rec.Departures, rec.Arrivals = res.Buckets, res.Departures, res.Arrivals
		rec.Moved = res.Moved()
		rec.DurationMS = res.Duration.Milliseconds()
		rec.Top = flow.TopN(res.OD, i.topN)
		ev.RunID, ev.From, ev.To, ev.OD, ev.Moved = res.RunID, res.From, res.To, res.OD, rec.Moved
		ev.Flows = res.Flows
	}
	if runErr != nil {
		rec.Error = runErr.Error()
		if !errors.Is(runErr, context.Canceled) {
			monitoring.CaptureException(runErr, map[string]string{"module": "inference", "matcher": rec.Matcher})
		}
		i.log.Errorf("inference failed: %v", runErr)
	}
	if err := i.runs.Append(context.WithoutCancel(ctx), rec); err != nil {
		i.log.Errorf("run log: %v", err)
	}
	if i.bus != nil {
		i.bus.Publish(ev)
	}
}
