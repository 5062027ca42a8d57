package domain

// Board event kinds published after commit.
const (
	EventTaskCreated   = "task-created"
	EventTaskMoved     = "task-moved"
	EventTaskUpdated   = "task-updated"
	EventTaskDeleted   = "task-deleted"
	EventCommentAdded  = "comment-added"
	EventColumnCreated = "column-created"
	EventColumnMoved   = "column-moved"
	EventColumnDeleted = "column-deleted"
)

// BoardEvent is the broadcast payload handed off after a successful commit.
// Hand-off order equals commit order; subscribers of the board receive
// events for racing moves in one consistent sequence.
type BoardEvent struct {
	Kind        string `json:"kind"`
	BoardID     string `json:"boardId"`
	EntityID    string `json:"entityId"`
	OldColumnID string `json:"oldColumnId,omitempty"`
	NewColumnID string `json:"newColumnId,omitempty"`
	NewOrder    int    `json:"newOrder"`
	Actor       string `json:"actor"`
	Time        int64  `json:"time"`
}
