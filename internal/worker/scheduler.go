package worker

import (
	"context"
	"time"

	"inventory-service/internal/service"
	"inventory-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const jobTimeout = 2 * time.Minute

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler runs the periodic jobs: the midnight dashboard rollover and the hourly
// ledger verification.
type Scheduler struct {
	sched   *cron.Cron
	reports *service.Reports
	ledger  *service.Ledger
	logger  *zap.Logger
}

// NewScheduler creates a scheduler whose day boundaries follow loc
func NewScheduler(loc *time.Location, reports *service.Reports, ledger *service.Ledger) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		sched:   cron.New(cron.WithLocation(loc), cron.WithParser(cronParser)),
		reports: reports,
		ledger:  ledger,
		logger:  util.Named("scheduler"),
	}

	if _, err := s.sched.AddFunc("@daily", s.RefreshDashboard); err != nil {
		return nil, err
	}
	if _, err := s.sched.AddFunc("@every 1h", s.VerifyLedger); err != nil {
		return nil, err
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler", zap.Int("jobs", len(s.sched.Entries())))
	s.sched.Start()
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	<-s.sched.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// RefreshDashboard recomputes the cached dashboard so today's window rolls over
func (s *Scheduler) RefreshDashboard() {
	defer s.recover("refresh dashboard")

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.reports.RefreshCache(ctx); err != nil {
		s.logger.Error("Scheduled dashboard refresh failed", zap.Error(err))
	}
}

// VerifyLedger replays the ledger and reports products that drifted from it
func (s *Scheduler) VerifyLedger() {
	defer s.recover("verify ledger")

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	mismatches, err := s.ledger.VerifyLedger(ctx)
	if err != nil {
		s.logger.Error("Scheduled ledger verification failed", zap.Error(err))
		return
	}

	util.LedgerMismatches.Set(float64(len(mismatches)))
	for _, m := range mismatches {
		s.logger.Warn("Ledger mismatch",
			zap.String("product_id", m.ProductID),
			zap.Int("stored", m.Stored),
			zap.Int("replayed", m.Replayed),
			zap.Bool("orphaned", m.Orphaned))
	}
}

func (s *Scheduler) recover(job string) {
	if r := recover(); r != nil {
		s.logger.Error("Scheduled job panicked", zap.String("job", job), zap.Any("panic", r))
	}
}
