package postgres

import (
	"context"

	"github.com/kangjhooe/xclass-sub019/internal/domain/roster"
	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/logger"
	"github.com/kangjhooe/xclass-sub019/internal/postgres"
)

// rosterRepository reads the roster subsystem's students table. The billing
// core never writes it; enrollment is owned by the school-management side of
// the platform.
type rosterRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewRosterRepository(db *postgres.DB, logger *logger.Logger) roster.StudentCountProvider {
	return &rosterRepository{db: db, logger: logger}
}

func (r *rosterRepository) CurrentStudentCount(ctx context.Context, tenantID string) (int, error) {
	var count int
	q := r.db.GetQuerier(ctx)
	err := q.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM students
		WHERE tenant_id = $1 AND is_active = TRUE
	`, tenantID)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to read student count").
			Mark(ierr.ErrDatabase)
	}

	return count, nil
}
