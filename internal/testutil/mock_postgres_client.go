package testutil

import (
	"context"

	"github.com/kangjhooe/xclass-sub019/internal/logger"
	"github.com/kangjhooe/xclass-sub019/internal/postgres"
)

var _ postgres.IClient = (*MockPostgresClient)(nil)

// MockPostgresClient is a mock implementation of postgres client for testing.
// The in-memory stores apply writes immediately, so WithTx just runs the
// function; atomicity of multi-store writes is exercised with failure
// injection in the stores instead.
type MockPostgresClient struct {
	logger *logger.Logger
}

// NewMockPostgresClient creates a new mock postgres client
func NewMockPostgresClient(logger *logger.Logger) postgres.IClient {
	return &MockPostgresClient{
		logger: logger,
	}
}

// WithTx executes the given function without a real transaction
func (c *MockPostgresClient) WithTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
