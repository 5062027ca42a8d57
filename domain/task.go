package domain

import "time"

// Task is a single board item. Order is owned by the move coordinator;
// nothing else writes it.
type Task struct {
	ID          string    `json:"id"`
	BoardID     string    `json:"boardId"`
	ColumnID    string    `json:"columnId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	DueDate     string    `json:"dueDate,omitempty"`
	AssignedTo  string    `json:"assignedTo,omitempty"`
	Order       int       `json:"order"`
	Deleted     bool      `json:"-"`
	Comments    []Comment `json:"comments,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// Version is the storage concurrency token captured at read time and
	// checked by the write transaction. Opaque to everything else.
	Version string `json:"-"`
}

// Column is an ordered bucket of tasks. Columns themselves are ordered
// within their board by the same coordinator logic.
type Column struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	Name    string `json:"name"`
	Order   int    `json:"order"`
	Deleted bool   `json:"-"`

	Version string `json:"-"`
}

// Comment is an immutable note attached to a task.
type Comment struct {
	ID     string    `json:"id"`
	Author string    `json:"author"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// TaskUpdate carries optional payload edits. Order and ColumnID are
// deliberately absent; position changes go through Move.
type TaskUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	DueDate     *string `json:"dueDate,omitempty"`
	AssignedTo  *string `json:"assignedTo,omitempty"`
}

// IsZero reports whether the update carries no fields.
func (u TaskUpdate) IsZero() bool {
	return u.Title == nil && u.Description == nil && u.Priority == nil &&
		u.DueDate == nil && u.AssignedTo == nil
}
