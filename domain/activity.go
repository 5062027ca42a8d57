package domain

import "time"

// ActivityKind enumerates the recorded event kinds.
type ActivityKind string

const (
	ActivityCreated   ActivityKind = "created"
	ActivityMoved     ActivityKind = "moved"
	ActivityEdited    ActivityKind = "edited"
	ActivityAssigned  ActivityKind = "assigned"
	ActivityCommented ActivityKind = "commented"
	ActivityDeleted   ActivityKind = "deleted"
)

// PositionRef is a point-in-time snapshot of where a task sat. Column names
// are resolved at append time and intentionally frozen in the record.
type PositionRef struct {
	ColumnID   string `json:"columnId"`
	ColumnName string `json:"columnName,omitempty"`
	Order      int    `json:"order"`
}

// ActivityRecord is an immutable audit entry attached to a task. Records
// are append-only; they are never edited or removed.
type ActivityRecord struct {
	ID          string       `json:"id"`
	TaskID      string       `json:"taskId"`
	Kind        ActivityKind `json:"kind"`
	Actor       string       `json:"actor"`
	Description string       `json:"description"`
	At          time.Time    `json:"at"`
	From        *PositionRef `json:"from,omitempty"`
	To          *PositionRef `json:"to,omitempty"`
}
