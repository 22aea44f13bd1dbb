package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/bikeflow/api"
	"github.com/kilianp07/bikeflow/config"
	"github.com/kilianp07/bikeflow/core/events"
	"github.com/kilianp07/bikeflow/core/flow"
	coremetrics "github.com/kilianp07/bikeflow/core/metrics"
	"github.com/kilianp07/bikeflow/core/monitoring"
	"github.com/kilianp07/bikeflow/core/publish"
	"github.com/kilianp07/bikeflow/core/runlog"
	"github.com/kilianp07/bikeflow/infra/cache"
	"github.com/kilianp07/bikeflow/infra/gbfs"
	"github.com/kilianp07/bikeflow/infra/kafka"
	"github.com/kilianp07/bikeflow/infra/logger"
	"github.com/kilianp07/bikeflow/infra/metrics"
	"github.com/kilianp07/bikeflow/infra/mqtt"
	"github.com/kilianp07/bikeflow/infra/storage"
	"github.com/kilianp07/bikeflow/infra/weather"
	"github.com/kilianp07/bikeflow/internal/eventbus"
)

// Service runs acquisition and inference on a schedule and exposes the results.
type Service struct {
	Ingester  *Ingester
	Inference *Inference

	store      *storage.SQLiteStore
	cache      cache.Store
	runs       runlog.Store
	sink       coremetrics.MetricsSink
	publishers publish.Multi
	runBus     *eventbus.TypedBus[events.RunEvent]
	ingestBus  *eventbus.TypedBus[events.IngestEvent]
	log        logger.Logger

	pollEvery  time.Duration
	inferEvery time.Duration
	window     time.Duration
	promAddr   string
	apiCfg     api.Config
	now        func() time.Time
}

// New wires every component described by cfg. Publishers and the cache are
// only created when configured.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	poll, infer, window, err := cfg.Service.Durations()
	if err != nil {
		return nil, err
	}
	s := &Service{
		log:        logger.New("service"),
		runBus:     eventbus.NewTyped[events.RunEvent](),
		ingestBus:  eventbus.NewTyped[events.IngestEvent](),
		pollEvery:  poll,
		inferEvery: infer,
		window:     window,
		promAddr:   cfg.Metrics.PrometheusAddr,
		apiCfg:     cfg.API,
		now:        time.Now,
	}
	fail := func(err error) (*Service, error) {
		_ = s.Close()
		return nil, err
	}

	if s.store, err = storage.Open(cfg.Storage.Path); err != nil {
		return fail(fmt.Errorf("storage: %w", err))
	}
	if err := s.store.Init(ctx); err != nil {
		return fail(err)
	}
	if s.cache, err = cache.Open(ctx, cfg.Cache); err != nil {
		return fail(fmt.Errorf("cache: %w", err))
	}
	if s.runs, err = runlog.New(cfg.RunLog); err != nil {
		return fail(fmt.Errorf("runlog: %w", err))
	}
	if s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks); err != nil {
		return fail(fmt.Errorf("metrics: %w", err))
	}
	if cfg.MQTT.Enabled() {
		p, err := mqtt.NewPahoClient(cfg.MQTT)
		if err != nil {
			return fail(fmt.Errorf("mqtt client: %w", err))
		}
		s.publishers = append(s.publishers, p)
	}
	if cfg.Kafka.Enabled() {
		p, err := kafka.NewPublisher(cfg.Kafka)
		if err != nil {
			return fail(fmt.Errorf("kafka producer: %w", err))
		}
		s.publishers = append(s.publishers, p)
	}

	engine, err := flow.NewEngine(cfg.Inference, logger.New("inference"), s.sink)
	if err != nil {
		return fail(err)
	}
	s.Inference = NewInference(engine, s.store, logger.New("inference"),
		WithRunLog(s.runs, cfg.RunLog.TopN),
		WithFlowStore(s.store),
		WithCache(s.cache),
		WithRunBus(s.runBus),
	)

	var feed FeedSource
	if cfg.Feed.DiscoveryURL != "" {
		feed = gbfs.NewClient(cfg.Feed)
	}
	var ws WeatherSource
	if wc, err := weather.NewClient(cfg.Weather); err == nil {
		ws = wc
	}
	if feed != nil {
		s.Ingester = NewIngester(feed, ws, s.store, s.cache, s.ingestBus, logger.New("ingest"))
	}
	return s, nil
}

// Run blocks until ctx is canceled. Cycle errors are logged and reported,
// never returned.
func (s *Service) Run(ctx context.Context) error {
	defer monitoring.Recover()
	metrics.StartRunCollector(ctx, s.runBus, s.sink)
	metrics.StartIngestCollector(ctx, s.ingestBus, s.sink)
	s.startFanout(ctx)

	if s.promAddr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promAddr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if s.apiCfg.Addr != "" {
		router := api.NewRouter(api.Handlers{Runs: s.runs, Latest: s.cache, Flows: s.store, Token: s.apiCfg.Token})
		go func() {
			if err := api.Serve(ctx, s.apiCfg.Addr, router); err != nil {
				s.log.Errorf("api server: %v", err)
			}
		}()
	}

	if s.Ingester == nil {
		s.log.Warnf("feed.discovery_url not set, acquisition disabled")
	} else {
		s.ingest(ctx)
	}
	pollT := time.NewTicker(s.pollEvery)
	defer pollT.Stop()
	inferT := time.NewTicker(s.inferEvery)
	defer inferT.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pollT.C:
			if s.Ingester != nil {
				s.ingest(ctx)
			}
		case <-inferT.C:
			end := s.now().UTC()
			_, _ = s.Inference.Run(ctx, end.Add(-s.window), end)
		}
	}
}

func (s *Service) ingest(ctx context.Context) {
	if _, err := s.Ingester.IngestOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Errorf("ingest: %v", err)
	}
}

// startFanout forwards successful runs to every publisher and to the cache.
func (s *Service) startFanout(ctx context.Context) {
	sub := s.runBus.Subscribe()
	go func() {
		defer s.runBus.Unsubscribe(sub)
		eventbus.Consume(ctx, sub, func(ev events.RunEvent) { s.handleRun(ctx, ev) })
	}()
}

func (s *Service) handleRun(ctx context.Context, ev events.RunEvent) {
	if ev.Err != nil {
		return
	}
	if len(s.publishers) > 0 {
		if err := s.publishers.PublishRun(ctx, ev); err != nil {
			s.log.Errorf("publish run %s: %v", ev.RunID, err)
		}
	}
	if s.cache != nil {
		if err := s.cache.PutLatest(ctx, publish.NewRunMessage(ev), ev.Flows); err != nil {
			s.log.Errorf("cache run %s: %v", ev.RunID, err)
		}
	}
}

// Close releases every resource held by the service.
func (s *Service) Close() error {
	var errs []error
	if s.publishers != nil {
		errs = append(errs, s.publishers.Close())
	}
	if s.runBus != nil {
		s.runBus.Close()
	}
	if s.ingestBus != nil {
		s.ingestBus.Close()
	}
	if s.runs != nil {
		errs = append(errs, s.runs.Close())
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	monitoring.Flush(2 * time.Second)
	return errors.Join(errs...)
}
