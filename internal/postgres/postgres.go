package postgres

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/kangjhooe/xclass-sub019/internal/config"
	"github.com/kangjhooe/xclass-sub019/internal/logger"
)

// IClient defines the transaction surface services depend on. Both the real
// sqlx-backed DB and the in-memory test client implement it.
type IClient interface {
	// WithTx wraps the given function in a transaction; nested calls reuse
	// the transaction through savepoints
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DB wraps sqlx.DB to provide transaction management
type DB struct {
	*sqlx.DB
	logger *logger.Logger
}

var _ IClient = (*DB)(nil)

// Querier interface defines all database operations
// Both *sqlx.DB and *sqlx.Tx implement these methods
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExec(query string, arg interface{}) (sql.Result, error)
	PrepareNamed(query string) (*sqlx.NamedStmt, error)
	Preparex(query string) (*sqlx.Stmt, error)
}

// NewDB creates a new DB instance
func NewDB(config *config.Configuration, logger *logger.Logger) (*DB, error) {
	dsn := config.Postgres.GetDSN()
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(config.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(config.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(config.Postgres.ConnMaxLifetimeMinutes) * time.Minute)

	return &DB{DB: db, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if err := db.DB.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}
}

// GetQuerier returns either the transaction from context or the base DB
func (db *DB) GetQuerier(ctx context.Context) Querier {
	if tx, ok := GetTx(ctx); ok {
		return tx.Tx
	}
	return db.DB
}
