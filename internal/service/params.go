package service

import (
	"github.com/kangjhooe/xclass-sub019/internal/config"
	"github.com/kangjhooe/xclass-sub019/internal/domain/billing"
	"github.com/kangjhooe/xclass-sub019/internal/domain/plan"
	"github.com/kangjhooe/xclass-sub019/internal/domain/roster"
	"github.com/kangjhooe/xclass-sub019/internal/domain/subscription"
	"github.com/kangjhooe/xclass-sub019/internal/logger"
	"github.com/kangjhooe/xclass-sub019/internal/postgres"
	webhookPublisher "github.com/kangjhooe/xclass-sub019/internal/webhook/publisher"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	DB     postgres.IClient

	// Repositories
	PlanRepo    plan.Repository
	SubRepo     subscription.Repository
	BillingRepo billing.Repository
	RosterRepo  roster.StudentCountProvider

	// Publishers
	WebhookPublisher webhookPublisher.WebhookPublisher
}

func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	planRepo plan.Repository,
	subRepo subscription.Repository,
	billingRepo billing.Repository,
	rosterRepo roster.StudentCountProvider,
	webhookPub webhookPublisher.WebhookPublisher,
) ServiceParams {
	return ServiceParams{
		Logger:           logger,
		Config:           config,
		DB:               db,
		PlanRepo:         planRepo,
		SubRepo:          subRepo,
		BillingRepo:      billingRepo,
		RosterRepo:       rosterRepo,
		WebhookPublisher: webhookPub,
	}
}
