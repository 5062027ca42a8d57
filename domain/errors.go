package domain

import "errors"

var (
	// ErrTaskNotFound is returned when the referenced task does not exist
	// or has been soft deleted.
	ErrTaskNotFound = errors.New("task not found")

	// ErrColumnNotFound is returned when the referenced column does not exist.
	ErrColumnNotFound = errors.New("column not found")

	// ErrColumnDeleted is returned when a move targets a soft-deleted column.
	ErrColumnDeleted = errors.New("target column is deleted")

	// ErrCrossBoard is returned when a move targets a column on a different
	// board; a placement transaction never spans two boards.
	ErrCrossBoard = errors.New("target column belongs to a different board")

	// ErrConflict signals that a concurrent mutation invalidated the
	// transaction. Transient: the caller may retry with fresh reads. The
	// engine itself never retries.
	ErrConflict = errors.New("concurrent modification conflict")
)
