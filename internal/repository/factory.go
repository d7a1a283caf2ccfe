package repository

import (
	"github.com/kangjhooe/xclass-sub019/internal/domain/billing"
	"github.com/kangjhooe/xclass-sub019/internal/domain/plan"
	"github.com/kangjhooe/xclass-sub019/internal/domain/roster"
	"github.com/kangjhooe/xclass-sub019/internal/domain/subscription"
	"github.com/kangjhooe/xclass-sub019/internal/logger"
	"github.com/kangjhooe/xclass-sub019/internal/postgres"
	postgresRepo "github.com/kangjhooe/xclass-sub019/internal/repository/postgres"
)

func NewPlanRepository(db *postgres.DB, logger *logger.Logger) plan.Repository {
	return postgresRepo.NewPlanRepository(db, logger)
}

func NewSubscriptionRepository(db *postgres.DB, logger *logger.Logger) subscription.Repository {
	return postgresRepo.NewSubscriptionRepository(db, logger)
}

func NewBillingRepository(db *postgres.DB, logger *logger.Logger) billing.Repository {
	return postgresRepo.NewBillingRepository(db, logger)
}

func NewRosterRepository(db *postgres.DB, logger *logger.Logger) roster.StudentCountProvider {
	return postgresRepo.NewRosterRepository(db, logger)
}
