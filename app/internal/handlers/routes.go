package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"phonewatch/app/internal/auth"
	"phonewatch/app/internal/config"
	"phonewatch/app/internal/database"
	"phonewatch/app/internal/feed"
	"phonewatch/app/internal/ingest"
	"phonewatch/app/internal/ranking"
	"phonewatch/app/internal/ratelimit"
	"phonewatch/app/internal/reports"
	"phonewatch/app/internal/uptime"
)

// Deps bundles everything the route table needs.
type Deps struct {
	Store      *database.Store
	Aggregator *uptime.Aggregator
	Engine     *ranking.Engine
	Generator  *reports.Generator
	Pipeline   *ingest.Pipeline
	Feed       *feed.Server
	Guard      *auth.Guard
	Limiter    *ratelimit.Limiter
	Endpoints  []config.Endpoint
	Config     *config.Config
}

// SetupRoutes configures all HTTP routes.
func SetupRoutes(d Deps) *http.ServeMux {
	inventory := func() []string { return config.EndpointIDs(d.Endpoints) }

	mux := http.NewServeMux()
	mux.HandleFunc("/api/uptime", HandleUptime(d.Aggregator))
	mux.HandleFunc("/api/ranking", HandleRanking(d.Engine, inventory, d.Config.ReportBudget))
	mux.HandleFunc("/api/report", HandleReport(d.Generator, inventory, d.Config.ReportBudget))
	mux.HandleFunc("/api/report/latest", HandleLatestSnapshot(d.Store))
	mux.HandleFunc("/api/events", HandleEvent(d.Pipeline, d.Guard, d.Limiter))
	mux.HandleFunc("/api/history", HandleHistory(d.Store))
	mux.HandleFunc("/api/endpoints", HandleEndpoints(d.Endpoints))
	mux.HandleFunc("/feed", d.Feed.Handler())
	mux.HandleFunc("/healthz", HandleHealthz())
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
