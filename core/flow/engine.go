package flow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/bikeflow/core/logger"
	coremetrics "github.com/kilianp07/bikeflow/core/metrics"
	"github.com/kilianp07/bikeflow/core/model"
)

// Result is the outcome of one inference run.
type Result struct {
	RunID   string
	Matcher string
	// From and To are the first and last bucket seen. Both are zero for an
	// empty run.
	From time.Time
	To   time.Time
	// Flows holds every bucket-level flow, in bucket order.
	Flows []model.Flow
	// OD is the aggregated table ordered by origin then destination.
	OD         []model.ODRow
	Buckets    int
	Departures int
	Arrivals   int
	// UnknownStations lists status station ids absent from the station table.
	UnknownStations []string
	Duration        time.Duration
}

// Moved is the number of bikes assigned to an OD pair.
func (r *Result) Moved() int { return TotalCount(r.OD) }

// Engine runs the inference pipeline: validation, bucketing, deltas,
// per-bucket matching and aggregation.
type Engine struct {
	width       time.Duration
	workers     int
	matcher     Matcher
	matcherName string
	log         logger.Logger
	sink        coremetrics.MetricsSink
}

// NewEngine builds an Engine from cfg. log and sink may be nil.
func NewEngine(cfg Config, log logger.Logger, sink coremetrics.MetricsSink) (*Engine, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	width, _ := cfg.Width()
	m, err := NewMatcher(cfg.Matcher)
	if err != nil {
		return nil, fmt.Errorf("matcher: %w", err)
	}
	log = logger.OrNop(log)
	if ls, ok := m.(interface{ SetLogger(logger.Logger) }); ok {
		ls.SetLogger(log)
	}
	if sink == nil {
		sink = coremetrics.NopSink{}
	}
	return &Engine{
		width:       width,
		workers:     cfg.Workers,
		matcher:     m,
		matcherName: cfg.Matcher.Type,
		log:         log,
		sink:        sink,
	}, nil
}

// WithMatcher returns a copy of e that uses m under the given name.
func (e *Engine) WithMatcher(name string, m Matcher) *Engine {
	cp := *e
	cp.matcher = m
	cp.matcherName = name
	return &cp
}

// BucketWidth returns the configured bucket width.
func (e *Engine) BucketWidth() time.Duration { return e.width }

// MatcherName is the registry name of the matcher in use.
func (e *Engine) MatcherName() string { return e.matcherName }

type bucketResult struct {
	flows      []model.Flow
	departures int
	arrivals   int
}

// Infer computes the OD flows implied by records. Stations not present in
// stations are ignored. Empty input yields an empty result. Any invalid
// record aborts the run with an error wrapping model.ErrInvalidRecord.
func (e *Engine) Infer(ctx context.Context, stations []model.Station, records []model.StatusRecord) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.NewString(), Matcher: e.matcherName}

	obs, err := model.ValidateRecords(records)
	if err != nil {
		return nil, err
	}
	idx := model.IndexStations(stations)
	res.UnknownStations = unknownStations(obs, idx)
	if n := len(res.UnknownStations); n > 0 {
		e.log.Warnf("%d station(s) in status data missing from station table, ignoring them", n)
	}

	readings, err := Bucketize(obs, e.width)
	if err != nil {
		return nil, err
	}
	buckets, byBucket := groupByBucket(ComputeDeltas(readings))
	res.Buckets = len(buckets)
	if len(buckets) > 0 {
		res.From, res.To = buckets[0], buckets[len(buckets)-1]
	}

	out := make([]bucketResult, len(buckets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.workers, 1))
	for i, b := range buckets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			deps, arrs := BuildNodes(byBucket[b], idx)
			br := bucketResult{departures: totalRemaining(deps), arrivals: totalRemaining(arrs)}
			if len(deps) > 0 && len(arrs) > 0 {
				for _, f := range e.matcher.Match(deps, arrs) {
					if f.Count <= 0 {
						continue
					}
					f.Bucket = b
					br.flows = append(br.flows, f)
				}
			}
			out[i] = br
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// A context cancelled after the last bucket started still fails the run.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, br := range out {
		res.Flows = append(res.Flows, br.flows...)
		res.Departures += br.departures
		res.Arrivals += br.arrivals
	}
	res.OD = Aggregate(res.Flows)
	res.Duration = time.Since(start)

	moved := res.Moved()
	inferenceDuration.WithLabelValues(e.matcherName).Observe(res.Duration.Seconds())
	bucketsMatched.WithLabelValues(e.matcherName).Add(float64(res.Buckets))
	bikesMatched.WithLabelValues(e.matcherName).Add(float64(moved))

	e.log.Infow("inference complete", map[string]any{
		"run_id":     res.RunID,
		"matcher":    e.matcherName,
		"buckets":    res.Buckets,
		"departures": res.Departures,
		"arrivals":   res.Arrivals,
		"moved":      moved,
		"pairs":      len(res.OD),
		"duration":   res.Duration.String(),
	})
	if err := e.sink.RecordRun(coremetrics.RunEvent{
		RunID:      res.RunID,
		Matcher:    e.matcherName,
		From:       res.From,
		To:         res.To,
		Buckets:    res.Buckets,
		Departures: res.Departures,
		Arrivals:   res.Arrivals,
		Moved:      moved,
		Pairs:      len(res.OD),
		Duration:   res.Duration,
		Time:       time.Now(),
	}); err != nil {
		e.log.Errorf("record run: %v", err)
	}
	return res, nil
}

func groupByBucket(deltas []model.DeltaRecord) ([]time.Time, map[time.Time][]model.DeltaRecord) {
	by := make(map[time.Time][]model.DeltaRecord)
	for _, d := range deltas {
		by[d.Bucket] = append(by[d.Bucket], d)
	}
	keys := make([]time.Time, 0, len(by))
	for k := range by {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys, by
}

func unknownStations(obs []model.Observation, idx model.StationIndex) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, o := range obs {
		if _, ok := idx[o.StationID]; ok {
			continue
		}
		if _, ok := seen[o.StationID]; ok {
			continue
		}
		seen[o.StationID] = struct{}{}
		ids = append(ids, o.StationID)
	}
	sort.Strings(ids)
	return ids
}
