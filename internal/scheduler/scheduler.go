package scheduler

import (
	"log/slog"
	"time"

	"keymeter/internal/db"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the daily usage-log retention job. Quota resets are
// not scheduled work: the engine resets windows lazily on the first
// request after a boundary.
type Scheduler struct {
	db            db.Service
	c             *cron.Cron
	logger        *slog.Logger
	retentionDays int
}

func NewScheduler(dbService db.Service, retentionDays int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		db:            dbService,
		c:             cron.New(),
		logger:        logger.With("component", "scheduler"),
		retentionDays: retentionDays,
	}
}

func (s *Scheduler) Start() error {
	_, err := s.c.AddFunc("@daily", s.pruneUsageRecords)
	if err != nil {
		return err
	}
	s.c.Start()
	return nil
}

func (s *Scheduler) pruneUsageRecords() {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	pruned, err := s.db.PruneUsageRecords(cutoff)
	if err != nil {
		s.logger.Error("Usage record pruning failed", "error", err)
		return
	}
	if pruned > 0 {
		s.logger.Info("Pruned aged usage records", "count", pruned, "cutoff", cutoff.Format("2006-01-02"))
	}
}

func (s *Scheduler) Stop() {
	s.c.Stop()
}
