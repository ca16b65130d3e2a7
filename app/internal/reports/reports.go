// Package reports builds the report payload consumed by the rendering
// templates, and schedules daily snapshots of it.
package reports

import (
	"context"
	"time"

	"phonewatch/app/internal/ranking"
	"phonewatch/app/internal/uptime"
)

// Report is the complete payload for one window: the problem ranking,
// the aggregate summary, and the per-endpoint window results. The PDF
// and web layers render this; neither recomputes anything.
type Report struct {
	GeneratedAt time.Time             `json:"generated_at"`
	WindowStart time.Time             `json:"window_start"`
	WindowEnd   time.Time             `json:"window_end"`
	Summary     ranking.Summary       `json:"summary"`
	Ranking     []ranking.Entry       `json:"ranking"`
	Endpoints   []uptime.WindowResult `json:"endpoints"`
}

// Generator assembles Reports.
type Generator struct {
	engine *ranking.Engine
	agg    *uptime.Aggregator
}

// NewGenerator creates a report generator.
func NewGenerator(engine *ranking.Engine, agg *uptime.Aggregator) *Generator {
	return &Generator{engine: engine, agg: agg}
}

// Generate builds the full report for the given endpoints and window.
// It runs under the caller's context; a deadline surfaces as
// *ranking.TimeoutError and no partial report is returned.
func (g *Generator) Generate(ctx context.Context, endpointIDs []string, winStart, winEnd time.Time) (*Report, error) {
	entries, summary, err := g.engine.RankEndpoints(ctx, endpointIDs, winStart, winEnd)
	if err != nil {
		return nil, err
	}

	results := make([]uptime.WindowResult, 0, len(endpointIDs))
	for _, id := range endpointIDs {
		if ctx.Err() != nil {
			return nil, &ranking.TimeoutError{Window: winEnd.Sub(winStart), Endpoints: len(endpointIDs)}
		}
		res, err := g.agg.ComputeUptime(ctx, id, winStart, winEnd)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}

	return &Report{
		GeneratedAt: time.Now().UTC(),
		WindowStart: winStart,
		WindowEnd:   winEnd,
		Summary:     summary,
		Ranking:     entries,
		Endpoints:   results,
	}, nil
}
