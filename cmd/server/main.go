package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/kangjhooe/xclass-sub019/internal/api"
	"github.com/kangjhooe/xclass-sub019/internal/api/cron"
	v1 "github.com/kangjhooe/xclass-sub019/internal/api/v1"
	"github.com/kangjhooe/xclass-sub019/internal/config"
	"github.com/kangjhooe/xclass-sub019/internal/logger"
	"github.com/kangjhooe/xclass-sub019/internal/postgres"
	"github.com/kangjhooe/xclass-sub019/internal/pubsub/memory"
	"github.com/kangjhooe/xclass-sub019/internal/repository"
	"github.com/kangjhooe/xclass-sub019/internal/scheduler"
	"github.com/kangjhooe/xclass-sub019/internal/service"
	webhookPublisher "github.com/kangjhooe/xclass-sub019/internal/webhook/publisher"
)

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	app := fx.New(
		fx.Provide(
			// Config
			config.NewConfig,

			// Logger
			provideLogger,

			// Postgres
			postgres.NewDB,
			provideDBClient,

			// PubSub and webhook publisher
			memory.NewPubSub,
			webhookPublisher.NewPublisher,

			// Repositories
			repository.NewPlanRepository,
			repository.NewSubscriptionRepository,
			repository.NewBillingRepository,
			repository.NewRosterRepository,

			// Services
			service.NewServiceParams,
			service.NewPlanService,
			service.NewUsageService,
			service.NewBillingService,
			service.NewSubscriptionService,
			service.NewRenewalService,

			// Scheduler
			scheduler.NewScheduler,

			// API
			provideHandlers,
			provideRouter,
		),
		fx.Invoke(
			startServer,
			startScheduler,
		),
	)

	app.Run()
}

func provideLogger(cfg *config.Configuration) (*logger.Logger, error) {
	return logger.NewLoggerWithLevel(cfg.Logging.Level)
}

func provideDBClient(db *postgres.DB) postgres.IClient {
	return db
}

func provideHandlers(
	log *logger.Logger,
	planService service.PlanService,
	billingService service.BillingService,
	subscriptionService service.SubscriptionService,
	renewalService service.RenewalService,
) api.Handlers {
	return api.Handlers{
		Health:       v1.NewHealthHandler(log),
		Plan:         v1.NewPlanHandler(planService, log),
		Subscription: v1.NewSubscriptionHandler(subscriptionService, log),
		Billing:      v1.NewBillingHandler(billingService, log),
		CronRenewal:  cron.NewRenewalHandler(renewalService, log),
	}
}

func provideRouter(handlers api.Handlers, cfg *config.Configuration, log *logger.Logger) *gin.Engine {
	return api.NewRouter(handlers, cfg, log)
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	r *gin.Engine,
	db *postgres.DB,
	log *logger.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting API server", "address", cfg.Server.Address)
			go func() {
				if err := r.Run(cfg.Server.Address); err != nil {
					log.Fatalf("failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server")
			db.Close()
			return nil
		},
	})
}

func startScheduler(
	lc fx.Lifecycle,
	s *scheduler.Scheduler,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start()
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
}
