package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/kangjhooe/xclass-sub019/internal/config"
	"github.com/kangjhooe/xclass-sub019/internal/domain/billing"
	"github.com/kangjhooe/xclass-sub019/internal/domain/plan"
	"github.com/kangjhooe/xclass-sub019/internal/domain/roster"
	"github.com/kangjhooe/xclass-sub019/internal/domain/subscription"
	"github.com/kangjhooe/xclass-sub019/internal/logger"
	"github.com/kangjhooe/xclass-sub019/internal/postgres"
	"github.com/kangjhooe/xclass-sub019/internal/pubsub/memory"
	"github.com/kangjhooe/xclass-sub019/internal/types"
	webhookPublisher "github.com/kangjhooe/xclass-sub019/internal/webhook/publisher"
)

// Stores holds all the repository interfaces for testing
type Stores struct {
	PlanRepo    plan.Repository
	SubRepo     subscription.Repository
	BillingRepo billing.Repository
	RosterRepo  roster.StudentCountProvider
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx              context.Context
	stores           Stores
	webhookPublisher webhookPublisher.WebhookPublisher
	db               postgres.IClient
	logger           *logger.Logger
	config           *config.Configuration
	now              time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	cfg := &config.Configuration{
		Logging: config.LoggingConfig{
			Level: types.LogLevelInfo,
		},
		Webhook: config.WebhookConfig{
			Topic: "webhooks",
		},
		Billing: config.BillingConfig{
			TrialGraceDays: 0,
			SweepBatchSize: 100,
			MaxRetries:     3,
		},
	}

	var err error
	s.config = cfg
	s.logger, err = logger.NewLoggerWithLevel(cfg.Logging.Level)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.setupContext()
	s.setupStores()
	s.now = time.Now().UTC()
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.clearStores()
}

func (s *BaseServiceTestSuite) setupContext() {
	s.ctx = SetupContext()
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		PlanRepo:    NewInMemoryPlanStore(),
		SubRepo:     NewInMemorySubscriptionStore(),
		BillingRepo: NewInMemoryBillingStore(),
		RosterRepo:  NewInMemoryRosterStore(),
	}

	s.db = NewMockPostgresClient(s.logger)

	pubsub := memory.NewPubSub(s.config, s.logger)
	webhookPub, err := webhookPublisher.NewPublisher(pubsub, s.config, s.logger)
	if err != nil {
		s.T().Fatalf("failed to create webhook publisher: %v", err)
	}
	s.webhookPublisher = webhookPub
}

func (s *BaseServiceTestSuite) clearStores() {
	s.stores.PlanRepo.(*InMemoryPlanStore).Clear()
	s.stores.SubRepo.(*InMemorySubscriptionStore).Clear()
	s.stores.BillingRepo.(*InMemoryBillingStore).Clear()
	s.stores.RosterRepo.(*InMemoryRosterStore).Clear()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetWebhookPublisher returns the test webhook publisher
func (s *BaseServiceTestSuite) GetWebhookPublisher() webhookPublisher.WebhookPublisher {
	return s.webhookPublisher
}

// GetDB returns the test database client
func (s *BaseServiceTestSuite) GetDB() postgres.IClient {
	return s.db
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetNow returns the current test time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now.UTC()
}
