package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Youssef-Hatem/policylens/internal/config"
)

// CleanupService periodically reclaims broker leases left behind by crashed
// consumers. The result caches and quota counters expire on their own TTLs
// and need no sweeping.
type CleanupService struct {
	queue      TaskQueue
	cron       *cron.Cron
	staleAfter time.Duration
}

func NewCleanupService(queue TaskQueue, workerCfg config.WorkerConfig) *CleanupService {
	return &CleanupService{
		queue: queue,
		cron:  cron.New(),
		// A lease older than the hard time limit cannot belong to a live
		// consumer.
		staleAfter: workerCfg.HardTimeLimit + time.Minute,
	}
}

func (s *CleanupService) Start() error {
	if _, err := s.cron.AddFunc("@every 10m", s.reclaim); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("cleanup_started", "stale_after", s.staleAfter)
	return nil
}

func (s *CleanupService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *CleanupService) reclaim() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.queue.ReclaimStale(ctx, s.staleAfter)
	if err != nil {
		slog.Warn("lease_reclaim_failed", "error", err.Error())
		return
	}
	if n > 0 {
		slog.Info("stale_leases_reclaimed", "count", n)
	}
}
