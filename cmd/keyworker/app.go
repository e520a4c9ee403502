package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/warp/keyworker-engine/api"
	"github.com/warp/keyworker-engine/config"
	"github.com/warp/keyworker-engine/keyworker"
	"github.com/warp/keyworker-engine/keyworker/store"
	"github.com/warp/keyworker-engine/prisonapi"
	"github.com/warp/keyworker-engine/store/sqlite"
	"github.com/warp/keyworker-engine/telemetry"
)

// app is every component of the service, wired from one Config.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *sqlite.Store
	upstream *prisonapi.Client
	registry *prometheus.Registry
	sink     keyworker.EventSink

	deallocation *keyworker.DeallocationEngine
	status       *keyworker.StatusEngine
	stats        *keyworker.StatsEngine
	scheduler    *api.JobScheduler
}

func newApp(cfg *config.Config) (*app, error) {
	logger, err := telemetry.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.DB.Path, err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := telemetry.Multi{
		telemetry.NewLogSink(logger),
		telemetry.NewPrometheus(registry, cfg.Metrics.Namespace),
	}

	upstream := prisonapi.New(cfg.PrisonAPI.BaseURL, cfg.PrisonAPI.Timeout)
	prisons := store.NewPrisonConfigCache(db, cfg.Stats.PrisonCacheSize, cfg.Stats.PrisonCacheTTL)

	a := &app{
		cfg:          cfg,
		logger:       logger,
		store:        db,
		upstream:     upstream,
		registry:     registry,
		sink:         sink,
		deallocation: &keyworker.DeallocationEngine{
			Movements:   upstream,
			Allocations: db,
			Checkpoints: db,
			Sink:        sink,
			Config:      cfg.DeallocationConfig(),
			Logger:      logger,
		},
		status: &keyworker.StatusEngine{
			KeyWorkers: db,
			Sink:       sink,
			Logger:     logger,
		},
		stats: &keyworker.StatsEngine{
			Allocations: db,
			CaseNotes:   upstream,
			Snapshots:   db,
			Prisons:     prisons,
			Logger:      logger,
			Parallelism: cfg.Stats.Parallelism,
		},
	}

	a.scheduler = api.NewJobScheduler(db, sink, logger)
	a.scheduler.Register(api.JobDeallocate, cfg.Schedule.Deallocate, api.DeallocationJob(a.deallocation))
	a.scheduler.Register(api.JobUpdateStatus, cfg.Schedule.UpdateStatus, api.StatusUpdateJob(a.status))
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
