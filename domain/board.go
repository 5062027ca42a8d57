package domain

// BoardSnapshot is a read-only view of one board: its live columns in
// display order, each carrying its live tasks in display order.
type BoardSnapshot struct {
	BoardID string       `json:"boardId"`
	Columns []ColumnView `json:"columns"`
}

// ColumnView is a column together with its tasks.
type ColumnView struct {
	Column
	Tasks []Task `json:"tasks"`
}
