package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kangjhooe/xclass-sub019/internal/api/cron"
	v1 "github.com/kangjhooe/xclass-sub019/internal/api/v1"
	"github.com/kangjhooe/xclass-sub019/internal/config"
	"github.com/kangjhooe/xclass-sub019/internal/logger"
	"github.com/kangjhooe/xclass-sub019/internal/rest/middleware"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

type Handlers struct {
	Health       *v1.HealthHandler
	Plan         *v1.PlanHandler
	Subscription *v1.SubscriptionHandler
	Billing      *v1.BillingHandler
	CronRenewal  *cron.RenewalHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, log *logger.Logger) *gin.Engine {
	if cfg.Logging.Level != types.LogLevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.ErrorHandler())

	router.GET("/health", handlers.Health.Health)

	v1Group := router.Group("/v1")
	registerV1Routes(v1Group, handlers)

	return router
}

func registerV1Routes(router *gin.RouterGroup, handlers Handlers) {
	// Plan catalog routes, platform scoped
	plans := router.Group("/plans")
	{
		plans.POST("", handlers.Plan.CreatePlan)
		plans.GET("", handlers.Plan.GetPlans)
		plans.GET("/:id", handlers.Plan.GetPlan)
		plans.PUT("/:id", handlers.Plan.UpdatePlan)
		plans.DELETE("/:id", handlers.Plan.DeletePlan)
	}

	// Tenant scoped routes
	tenant := router.Group("/", middleware.TenantMiddleware)
	{
		subscriptions := tenant.Group("/subscriptions")
		{
			subscriptions.POST("", handlers.Subscription.CreateSubscription)
			subscriptions.GET("/summary", handlers.Subscription.GetSubscriptionSummary)
			subscriptions.POST("/evaluate", handlers.Subscription.EvaluateThreshold)
			subscriptions.POST("/cancel", handlers.Subscription.CancelSubscription)
		}

		billing := tenant.Group("/billing")
		{
			billing.GET("/history", handlers.Billing.GetBillingHistory)
			billing.GET("/history/:id", handlers.Billing.GetBillingRecord)
			billing.POST("/history/:id/pay", handlers.Billing.MarkPaid)
		}
	}

	// Cron routes, triggered by the in-process scheduler or an external
	// scheduler in multi-instance deployments
	cronGroup := router.Group("/cron")
	{
		cronGroup.POST("/subscriptions/renew", handlers.CronRenewal.ProcessDueSubscriptions)
	}
}
