package roster

import (
	"context"
)

// StudentCountProvider is the read-only contract onto the roster subsystem.
// The authoritative enrollment write path lives outside this core; billing
// only ever reads a committed snapshot of the active-student count.
type StudentCountProvider interface {
	// CurrentStudentCount returns the tenant's active student count as of
	// the call, read-committed. Callers making billing decisions must call
	// this inside the same transaction that mutates billing state.
	CurrentStudentCount(ctx context.Context, tenantID string) (int, error)
}
