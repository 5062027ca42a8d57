// Package board implements the ordered task-placement engine: it owns every
// order-key mutation on a board and records an activity entry for each one.
package board

import (
	"context"

	"taskboard-api/domain"
)

// Store is the persistence contract the engine runs against. Reads return
// entities carrying their concurrency version; Apply submits one atomic
// mutation guarded by those versions.
type Store interface {
	// GetTask returns the task regardless of its deleted flag, or
	// domain.ErrTaskNotFound.
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	// GetColumn returns the column regardless of its deleted flag, or
	// domain.ErrColumnNotFound.
	GetColumn(ctx context.Context, columnID string) (*domain.Column, error)
	// ListTasks returns the non-deleted tasks of a column ascending by
	// order key. Recomputed on every call; never cached across calls.
	ListTasks(ctx context.Context, columnID string) ([]domain.Task, error)
	// ListColumns returns the non-deleted columns of a board ascending by
	// order key.
	ListColumns(ctx context.Context, boardID string) ([]domain.Column, error)
	// ListActivity returns a task's activity records newest-first.
	ListActivity(ctx context.Context, taskID string) ([]domain.ActivityRecord, error)
	// Apply commits the mutation atomically: either every write lands or
	// none do. A version mismatch on any guarded entity aborts the whole
	// mutation with domain.ErrConflict.
	Apply(ctx context.Context, m Mutation) error
}

// Mutation is the write set of one logical operation. Tasks and Columns are
// full rows replacing their stored counterparts, guarded by the Version
// captured when they were read. Touch rotates a column's version without
// changing its content, serialising membership changes against concurrent
// moves in the same container.
type Mutation struct {
	BoardID      string
	InsertTask   *domain.Task
	InsertColumn *domain.Column
	Tasks        []domain.Task
	Columns      []domain.Column
	Touch        []domain.Column
	// TouchBoard rotates the board's marker entity, serialising column
	// appends against each other the way Touch serialises task appends.
	TouchBoard bool
	Activity   *domain.ActivityRecord
}

// Publisher receives committed board events in commit order. Hand-off must
// never happen for an uncommitted mutation.
type Publisher interface {
	Publish(ev domain.BoardEvent)
}
