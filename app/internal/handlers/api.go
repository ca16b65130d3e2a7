package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"phonewatch/app/internal/auth"
	"phonewatch/app/internal/config"
	"phonewatch/app/internal/database"
	"phonewatch/app/internal/ingest"
	"phonewatch/app/internal/ranking"
	"phonewatch/app/internal/ratelimit"
	"phonewatch/app/internal/reports"
	"phonewatch/app/internal/uptime"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// parseWindow reads from/to query parameters (RFC3339), defaulting to
// the last 24 hours.
func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)
	to := now

	if q := r.URL.Query().Get("from"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid from parameter, use RFC3339")
		}
		from = t
	}
	if q := r.URL.Query().Get("to"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid to parameter, use RFC3339")
		}
		to = t
	}
	return from, to, nil
}

// HandleUptime serves the windowed uptime summary for one endpoint.
// "No data for the requested period" is a successful response with
// data_available=false, never an error.
func HandleUptime(agg *uptime.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpointID := r.URL.Query().Get("endpoint")
		if endpointID == "" {
			http.Error(w, "endpoint parameter required", http.StatusBadRequest)
			return
		}
		from, to, err := parseWindow(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := agg.ComputeUptime(r.Context(), endpointID, from, to)
		if err != nil {
			http.Error(w, "computation failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// HandleRanking serves the problem ranking over a window. The
// aggregation runs under the configured time budget; exceeding it is a
// retryable failure, clearly distinguished from an empty result.
func HandleRanking(engine *ranking.Engine, inventory func() []string, budget time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, err := parseWindow(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ids := inventory()
		if q := r.URL.Query().Get("endpoints"); q != "" {
			ids = splitIDs(q)
		}

		ctx, cancel := context.WithTimeout(r.Context(), budget)
		defer cancel()

		entries, summary, err := engine.RankEndpoints(ctx, ids, from, to)
		if err != nil {
			writeRankingError(w, err, from, to)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ranking": entries,
			"summary": summary,
		})
	}
}

// HandleReport serves the full report payload for templates.
func HandleReport(gen *reports.Generator, inventory func() []string, budget time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, err := parseWindow(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), budget)
		defer cancel()

		report, err := gen.Generate(ctx, inventory(), from, to)
		if err != nil {
			writeRankingError(w, err, from, to)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// HandleLatestSnapshot serves the most recent scheduled report
// snapshot without recomputation.
func HandleLatestSnapshot(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := store.LatestSnapshot()
		if err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		if snap == nil {
			http.Error(w, "no snapshot generated yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(snap.Payload))
	}
}

// writeRankingError maps aggregation failures to responses. Timeouts
// are retryable 503s naming the offending window; anything else is a
// plain computation failure. Neither is ever conflated with "no data".
func writeRankingError(w http.ResponseWriter, err error, from, to time.Time) {
	var te *ranking.TimeoutError
	if errors.As(err, &te) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":          "report aggregation exceeded time budget, retry with a narrower window",
			"retryable":      true,
			"window_minutes": int(te.Window.Minutes()),
			"endpoints":      te.Endpoints,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"error":     "computation failed",
		"retryable": false,
	})
}

// HandleEvent accepts one observation over HTTP. The feed normally
// delivers events over the WebSocket; this is the same pipeline for
// backfills and manual pushes.
func HandleEvent(pipeline *ingest.Pipeline, guard *auth.Guard, limiter *ratelimit.Limiter) http.HandlerFunc {
	return guard.Require(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !limiter.Allow(clientIP(r)) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}

		var obs ingest.Observation
		if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		change, err := pipeline.Process(obs)
		if err != nil {
			var me *ingest.MalformedError
			if errors.As(err, &me) {
				http.Error(w, me.Error(), http.StatusBadRequest)
				return
			}
			// Out-of-order and store failures: the observation was not
			// applied, and the pusher should know.
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"applied": false,
				"error":   err.Error(),
			})
			return
		}

		resp := map[string]interface{}{"applied": change != nil}
		if change != nil {
			resp["change"] = change
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// HandleHistory serves the status-change audit log.
func HandleHistory(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpointID := r.URL.Query().Get("endpoint")
		limit := 50
		if q := r.URL.Query().Get("limit"); q != "" {
			if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}

		entries, err := store.StatusLog(endpointID, limit)
		if err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []database.LogEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// HandleEndpoints serves the inventory for the map view.
func HandleEndpoints(endpoints []config.Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, endpoints)
	}
}

// HandleHealthz is the liveness probe.
func HandleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func splitIDs(q string) []string {
	var out []string
	for _, id := range strings.Split(q, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
