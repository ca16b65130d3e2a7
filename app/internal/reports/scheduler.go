package reports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"phonewatch/app/internal/database"
)

// Scheduler runs the daily snapshot job and retention pruning on a
// cron schedule.
type Scheduler struct {
	gen       *Generator
	store     *database.Store
	endpoints func() []string
	budget    time.Duration
	retention time.Duration
	cron      *cron.Cron
}

// NewScheduler creates a scheduler. endpoints is called at job time so
// inventory changes are picked up without a restart.
func NewScheduler(gen *Generator, store *database.Store, endpoints func() []string, budget, retention time.Duration) *Scheduler {
	return &Scheduler{
		gen:       gen,
		store:     store,
		endpoints: endpoints,
		budget:    budget,
		retention: retention,
		cron:      cron.New(),
	}
}

// Start registers the snapshot job under the given cron spec (standard
// five-field syntax) and starts the scheduler.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return err
	}
	s.cron.Start()
	logrus.WithField("schedule", spec).Info("report scheduler started")
	return nil
}

// Stop stops the scheduler, waiting for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) run() {
	if err := s.SnapshotYesterday(); err != nil {
		logrus.WithField("error", err).Error("report snapshot failed")
	}
	s.prune()
}

// SnapshotYesterday generates the report for the previous UTC day and
// persists it to report_snapshots.
func (s *Scheduler) SnapshotYesterday() error {
	now := time.Now().UTC()
	dayEnd := now.Truncate(24 * time.Hour)
	dayStart := dayEnd.Add(-24 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), s.budget)
	defer cancel()

	report, err := s.gen.Generate(ctx, s.endpoints(), dayStart, dayEnd)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	if err := s.store.SaveSnapshot(dayStart, dayEnd, string(payload)); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"window_start": dayStart,
		"ranked":       len(report.Ranking),
	}).Info("report snapshot saved")
	return nil
}

func (s *Scheduler) prune() {
	if s.retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-s.retention)
	n, err := s.store.PruneEvents(cutoff)
	if err != nil {
		logrus.WithField("error", err).Error("event pruning failed")
		return
	}
	if n > 0 {
		logrus.WithField("removed", n).Info("pruned old events")
	}
	if err := s.store.PruneStatusLog(100000); err != nil {
		logrus.WithField("error", err).Error("status log pruning failed")
	}
}
