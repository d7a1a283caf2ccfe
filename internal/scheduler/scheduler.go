package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kangjhooe/xclass-sub019/internal/config"
	"github.com/kangjhooe/xclass-sub019/internal/logger"
	"github.com/kangjhooe/xclass-sub019/internal/service"
)

// Scheduler drives the periodic renewal sweep in-process. Deployments with
// an external scheduler disable it and hit the cron endpoint instead.
type Scheduler struct {
	cron           *cron.Cron
	renewalService service.RenewalService
	config         *config.SchedulerConfig
	logger         *logger.Logger
}

func NewScheduler(
	renewalService service.RenewalService,
	cfg *config.Configuration,
	logger *logger.Logger,
) *Scheduler {
	return &Scheduler{
		cron:           cron.New(),
		renewalService: renewalService,
		config:         &cfg.Scheduler,
		logger:         logger,
	}
}

// Start registers the renewal sweep and starts the cron loop
func (s *Scheduler) Start() error {
	if !s.config.Enabled {
		s.logger.Info("scheduler disabled, skipping renewal cron registration")
		return nil
	}

	_, err := s.cron.AddFunc(s.config.RenewalCron, s.runRenewalSweep)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Infow("scheduler started",
		"renewal_cron", s.config.RenewalCron,
	)
	return nil
}

// Stop halts the cron loop and waits for any running job to finish
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runRenewalSweep() {
	now := time.Now().UTC()
	s.logger.Infow("starting renewal sweep", "now", now)

	response, err := s.renewalService.ProcessDueSubscriptions(context.Background(), now)
	if err != nil {
		s.logger.Errorw("renewal sweep failed", "error", err)
		return
	}

	s.logger.Infow("renewal sweep finished",
		"processed", len(response.Items),
		"success", response.TotalSuccess,
		"failed", response.TotalFailed,
	)
}
