package main

import (
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"phonewatch/app/internal/auth"
	"phonewatch/app/internal/cache"
	"phonewatch/app/internal/config"
	"phonewatch/app/internal/database"
	"phonewatch/app/internal/feed"
	"phonewatch/app/internal/handlers"
	"phonewatch/app/internal/ingest"
	"phonewatch/app/internal/intervals"
	"phonewatch/app/internal/ranking"
	"phonewatch/app/internal/ratelimit"
	"phonewatch/app/internal/reports"
	"phonewatch/app/internal/security"
	"phonewatch/app/internal/uptime"
)

func main() {
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logrus.SetLevel(level)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithField("error", err).Fatal("failed to load config")
	}

	endpoints, err := config.LoadEndpoints(cfg.EndpointsFile)
	if err != nil {
		logrus.WithField("error", err).Fatal("failed to load endpoint inventory")
	}
	logrus.WithField("endpoints", len(endpoints)).Info("inventory loaded")

	store, err := database.Open(cfg.DBPath)
	if err != nil {
		logrus.WithField("error", err).Fatal("failed to open database")
	}
	defer store.Close()

	statsCache := cache.New(cfg.StatsTTL)
	defer statsCache.Stop()

	tracker := intervals.New(store, func(endpointID string) {
		statsCache.DeletePrefix(uptime.CacheKeyPrefix(endpointID))
	})

	agg := uptime.New(store, statsCache)
	engine := ranking.New(agg, store)
	gen := reports.NewGenerator(engine, agg)
	pipeline := ingest.NewPipeline(store, tracker)

	guard := auth.NewGuard(cfg.IngestTokenHash, cfg.InsecureDev)
	limiter := ratelimit.New(600, 1200)
	defer limiter.Stop()

	if cfg.EnableScheduler {
		sched := reports.NewScheduler(gen, store,
			func() []string { return config.EndpointIDs(endpoints) },
			cfg.ReportBudget, cfg.Retention())
		if err := sched.Start(cfg.ReportSchedule); err != nil {
			logrus.WithField("error", err).Fatal("invalid report schedule")
		}
		defer sched.Stop()
	}

	mux := handlers.SetupRoutes(handlers.Deps{
		Store:      store,
		Aggregator: agg,
		Engine:     engine,
		Generator:  gen,
		Pipeline:   pipeline,
		Feed:       feed.NewServer(pipeline, guard),
		Guard:      guard,
		Limiter:    limiter,
		Endpoints:  endpoints,
		Config:     cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      security.SecureHeaders(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logrus.WithField("port", cfg.Port).Info("server starting")
	if err := srv.ListenAndServe(); err != nil {
		logrus.WithField("error", err).Fatal("server failed")
	}
}
