package board

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

// Service relocates items and records what happened. It is request-scoped
// and stateless: every call runs to completion on its own, and concurrent
// callers are serialised by the store's version checks, not by the service.
type Service struct {
	store  Store
	pub    Publisher
	logger *log.Logger
}

// NewService wires the engine to its store and post-commit publisher.
func NewService(store Store, pub Publisher, logger *log.Logger) *Service {
	if store == nil {
		panic("board: store is required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{store: store, pub: pub, logger: logger}
}

// MoveResult is the authoritative position of an item after a committed move.
type MoveResult struct {
	ID       string `json:"id"`
	ColumnID string `json:"columnId"`
	Order    int    `json:"order"`
}

// TaskDraft is the caller-supplied payload for a new task.
type TaskDraft struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	DueDate     string `json:"dueDate,omitempty"`
	AssignedTo  string `json:"assignedTo,omitempty"`
}

// Move relocates a task within its column or into another column of the
// same board. All reads and writes of one invocation form a single atomic
// mutation; on any failure the board is left exactly as it was. Out-of-range
// targets are clamped, never rejected. A no-op move (clamped target equals
// the current position) records no activity and broadcasts nothing.
func (s *Service) Move(ctx context.Context, actor, taskID, targetColumnID string, targetOrder int) (MoveResult, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return MoveResult{}, err
	}
	if task.Deleted {
		return MoveResult{}, domain.ErrTaskNotFound
	}

	srcCol, err := s.store.GetColumn(ctx, task.ColumnID)
	if err != nil {
		return MoveResult{}, err
	}
	dstCol := srcCol
	if targetColumnID != task.ColumnID {
		dstCol, err = s.store.GetColumn(ctx, targetColumnID)
		if err != nil {
			return MoveResult{}, err
		}
	}
	if dstCol.Deleted {
		return MoveResult{}, domain.ErrColumnDeleted
	}
	if dstCol.BoardID != task.BoardID {
		return MoveResult{}, domain.ErrCrossBoard
	}

	srcTasks, err := s.store.ListTasks(ctx, srcCol.ID)
	if err != nil {
		return MoveResult{}, err
	}
	byID := indexTasks(srcTasks)

	var plan domain.MovePlan
	var ok bool
	if dstCol.ID == srcCol.ID {
		plan, ok = domain.PlanReorder(sequenceOf(srcTasks), srcCol.ID, taskID, targetOrder)
	} else {
		dstTasks, err := s.store.ListTasks(ctx, dstCol.ID)
		if err != nil {
			return MoveResult{}, err
		}
		for id, t := range indexTasks(dstTasks) {
			byID[id] = t
		}
		plan, ok = domain.PlanTransfer(sequenceOf(srcTasks), srcCol.ID, sequenceOf(dstTasks), dstCol.ID, taskID, targetOrder)
	}
	if !ok {
		// The task vanished from its column between reads.
		return MoveResult{}, domain.ErrConflict
	}

	result := MoveResult{ID: taskID, ColumnID: dstCol.ID, Order: plan.NewOrder}
	if !plan.Moved && len(plan.Writes) == 0 {
		return result, nil
	}

	now := time.Now().UTC()
	m := Mutation{BoardID: task.BoardID, Touch: []domain.Column{*srcCol}}
	if dstCol.ID != srcCol.ID {
		m.Touch = append(m.Touch, *dstCol)
	}
	for _, w := range plan.Writes {
		t, found := byID[w.ID]
		if !found {
			return MoveResult{}, domain.ErrConflict
		}
		t.ColumnID = w.ColumnID
		t.Order = w.Order
		if t.ID == taskID {
			t.UpdatedAt = now
		}
		m.Tasks = append(m.Tasks, *t)
	}
	if plan.Moved {
		m.Activity = &domain.ActivityRecord{
			ID:          uuid.NewString(),
			TaskID:      taskID,
			Kind:        domain.ActivityMoved,
			Actor:       actor,
			Description: moveDescription(srcCol, dstCol),
			At:          now,
			From:        &domain.PositionRef{ColumnID: srcCol.ID, ColumnName: srcCol.Name, Order: task.Order},
			To:          &domain.PositionRef{ColumnID: dstCol.ID, ColumnName: dstCol.Name, Order: plan.NewOrder},
		}
	}

	if err := s.store.Apply(ctx, m); err != nil {
		return MoveResult{}, err
	}

	if plan.Moved {
		s.publish(domain.BoardEvent{
			Kind:        domain.EventTaskMoved,
			BoardID:     task.BoardID,
			EntityID:    taskID,
			OldColumnID: srcCol.ID,
			NewColumnID: dstCol.ID,
			NewOrder:    plan.NewOrder,
			Actor:       actor,
		})
	}
	s.logger.WithFields(log.Fields{"task": taskID, "from": srcCol.ID, "to": dstCol.ID, "order": plan.NewOrder}).Debug("task moved")
	return result, nil
}

// MoveColumn reorders a column among its board's columns. Structurally the
// same problem as Move with the board acting as the container of columns.
func (s *Service) MoveColumn(ctx context.Context, actor, columnID string, targetOrder int) (MoveResult, error) {
	col, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return MoveResult{}, err
	}
	if col.Deleted {
		return MoveResult{}, domain.ErrColumnNotFound
	}

	cols, err := s.store.ListColumns(ctx, col.BoardID)
	if err != nil {
		return MoveResult{}, err
	}
	byID := make(map[string]*domain.Column, len(cols))
	ps := make([]domain.Placement, 0, len(cols))
	for i := range cols {
		byID[cols[i].ID] = &cols[i]
		ps = append(ps, domain.Placement{ID: cols[i].ID, Order: cols[i].Order})
	}

	plan, ok := domain.PlanReorder(domain.NewSequence(ps), col.BoardID, columnID, targetOrder)
	if !ok {
		return MoveResult{}, domain.ErrConflict
	}

	result := MoveResult{ID: columnID, ColumnID: col.BoardID, Order: plan.NewOrder}
	if !plan.Moved && len(plan.Writes) == 0 {
		return result, nil
	}

	m := Mutation{BoardID: col.BoardID}
	for _, w := range plan.Writes {
		c, found := byID[w.ID]
		if !found {
			return MoveResult{}, domain.ErrConflict
		}
		c.Order = w.Order
		m.Columns = append(m.Columns, *c)
	}
	if err := s.store.Apply(ctx, m); err != nil {
		return MoveResult{}, err
	}

	if plan.Moved {
		s.publish(domain.BoardEvent{
			Kind:     domain.EventColumnMoved,
			BoardID:  col.BoardID,
			EntityID: columnID,
			NewOrder: plan.NewOrder,
			Actor:    actor,
		})
	}
	return result, nil
}

// CreateTask appends a task to the end of a column and records a created
// activity entry in the same mutation.
func (s *Service) CreateTask(ctx context.Context, actor, columnID string, draft TaskDraft) (*domain.Task, error) {
	col, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	if col.Deleted {
		return nil, domain.ErrColumnDeleted
	}

	tasks, err := s.store.ListTasks(ctx, columnID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	task := &domain.Task{
		ID:          uuid.NewString(),
		BoardID:     col.BoardID,
		ColumnID:    columnID,
		Title:       draft.Title,
		Description: draft.Description,
		Priority:    draft.Priority,
		DueDate:     draft.DueDate,
		AssignedTo:  draft.AssignedTo,
		Order:       sequenceOf(tasks).NextOrder(),
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m := Mutation{
		BoardID:    col.BoardID,
		InsertTask: task,
		Touch:      []domain.Column{*col},
		Activity: &domain.ActivityRecord{
			ID:          uuid.NewString(),
			TaskID:      task.ID,
			Kind:        domain.ActivityCreated,
			Actor:       actor,
			Description: fmt.Sprintf("created this task in %q", col.Name),
			At:          now,
			To:          &domain.PositionRef{ColumnID: col.ID, ColumnName: col.Name, Order: task.Order},
		},
	}
	if err := s.store.Apply(ctx, m); err != nil {
		return nil, err
	}

	s.publish(domain.BoardEvent{
		Kind:        domain.EventTaskCreated,
		BoardID:     col.BoardID,
		EntityID:    task.ID,
		NewColumnID: columnID,
		NewOrder:    task.Order,
		Actor:       actor,
	})
	return task, nil
}

// CreateColumn appends a column to the end of a board.
func (s *Service) CreateColumn(ctx context.Context, actor, boardID, name string) (*domain.Column, error) {
	cols, err := s.store.ListColumns(ctx, boardID)
	if err != nil {
		return nil, err
	}
	ps := make([]domain.Placement, 0, len(cols))
	for _, c := range cols {
		ps = append(ps, domain.Placement{ID: c.ID, Order: c.Order})
	}

	col := &domain.Column{
		ID:      uuid.NewString(),
		BoardID: boardID,
		Name:    name,
		Order:   domain.NewSequence(ps).NextOrder(),
	}
	m := Mutation{BoardID: boardID, InsertColumn: col, TouchBoard: true}
	if err := s.store.Apply(ctx, m); err != nil {
		return nil, err
	}

	s.publish(domain.BoardEvent{
		Kind:     domain.EventColumnCreated,
		BoardID:  boardID,
		EntityID: col.ID,
		NewOrder: col.Order,
		Actor:    actor,
	})
	return col, nil
}

// UpdateTask edits a task's payload. Position is untouched; the update is
// guarded by the task's version so it cannot trample a concurrent move.
func (s *Service) UpdateTask(ctx context.Context, actor, taskID string, upd domain.TaskUpdate) (*domain.Task, error) {
	if upd.IsZero() {
		return nil, fmt.Errorf("task %s update had no fields", taskID)
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Deleted {
		return nil, domain.ErrTaskNotFound
	}

	kind := domain.ActivityEdited
	desc := "edited this task"
	if upd.Title != nil {
		task.Title = *upd.Title
	}
	if upd.Description != nil {
		task.Description = *upd.Description
	}
	if upd.Priority != nil {
		task.Priority = *upd.Priority
	}
	if upd.DueDate != nil {
		task.DueDate = *upd.DueDate
	}
	if upd.AssignedTo != nil {
		task.AssignedTo = *upd.AssignedTo
		kind = domain.ActivityAssigned
		desc = fmt.Sprintf("assigned this task to %s", *upd.AssignedTo)
	}
	now := time.Now().UTC()
	task.UpdatedAt = now

	m := Mutation{
		BoardID: task.BoardID,
		Tasks:   []domain.Task{*task},
		Activity: &domain.ActivityRecord{
			ID:          uuid.NewString(),
			TaskID:      taskID,
			Kind:        kind,
			Actor:       actor,
			Description: desc,
			At:          now,
		},
	}
	if err := s.store.Apply(ctx, m); err != nil {
		return nil, err
	}

	s.publish(domain.BoardEvent{
		Kind:        domain.EventTaskUpdated,
		BoardID:     task.BoardID,
		EntityID:    taskID,
		NewColumnID: task.ColumnID,
		NewOrder:    task.Order,
		Actor:       actor,
	})
	return task, nil
}

// DeleteTask soft-deletes a task. Sibling order keys are not renumbered;
// the gap is compacted by the next move touching the column. The column's
// version is rotated so in-flight moves planned against the old membership
// abort instead of resurrecting the row's position.
func (s *Service) DeleteTask(ctx context.Context, actor, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Deleted {
		return domain.ErrTaskNotFound
	}
	col, err := s.store.GetColumn(ctx, task.ColumnID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	task.Deleted = true
	task.UpdatedAt = now
	m := Mutation{
		BoardID: task.BoardID,
		Tasks:   []domain.Task{*task},
		Touch:   []domain.Column{*col},
		Activity: &domain.ActivityRecord{
			ID:          uuid.NewString(),
			TaskID:      taskID,
			Kind:        domain.ActivityDeleted,
			Actor:       actor,
			Description: fmt.Sprintf("deleted this task from %q", col.Name),
			At:          now,
			From:        &domain.PositionRef{ColumnID: col.ID, ColumnName: col.Name, Order: task.Order},
		},
	}
	if err := s.store.Apply(ctx, m); err != nil {
		return err
	}

	s.publish(domain.BoardEvent{
		Kind:        domain.EventTaskDeleted,
		BoardID:     task.BoardID,
		EntityID:    taskID,
		OldColumnID: col.ID,
		Actor:       actor,
	})
	return nil
}

// DeleteColumn soft-deletes a column together with any tasks still in it,
// all in one mutation. Sibling columns keep their order keys; the gap is
// compacted by the next column move. Task histories survive the cascade.
func (s *Service) DeleteColumn(ctx context.Context, actor, columnID string) error {
	col, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return err
	}
	if col.Deleted {
		return domain.ErrColumnNotFound
	}
	tasks, err := s.store.ListTasks(ctx, columnID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	col.Deleted = true
	m := Mutation{BoardID: col.BoardID, Columns: []domain.Column{*col}}
	for i := range tasks {
		tasks[i].Deleted = true
		tasks[i].UpdatedAt = now
		m.Tasks = append(m.Tasks, tasks[i])
	}
	if err := s.store.Apply(ctx, m); err != nil {
		return err
	}

	s.publish(domain.BoardEvent{
		Kind:     domain.EventColumnDeleted,
		BoardID:  col.BoardID,
		EntityID: columnID,
		Actor:    actor,
	})
	s.logger.WithFields(log.Fields{"column": columnID, "tasks": len(tasks)}).Debug("column deleted")
	return nil
}

// AddComment appends an immutable comment and a commented activity entry.
func (s *Service) AddComment(ctx context.Context, actor, taskID, text string) (*domain.Comment, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Deleted {
		return nil, domain.ErrTaskNotFound
	}

	now := time.Now().UTC()
	comment := domain.Comment{ID: uuid.NewString(), Author: actor, Text: text, At: now}
	task.Comments = append(task.Comments, comment)
	task.UpdatedAt = now

	m := Mutation{
		BoardID: task.BoardID,
		Tasks:   []domain.Task{*task},
		Activity: &domain.ActivityRecord{
			ID:          uuid.NewString(),
			TaskID:      taskID,
			Kind:        domain.ActivityCommented,
			Actor:       actor,
			Description: "commented on this task",
			At:          now,
		},
	}
	if err := s.store.Apply(ctx, m); err != nil {
		return nil, err
	}

	s.publish(domain.BoardEvent{
		Kind:        domain.EventCommentAdded,
		BoardID:     task.BoardID,
		EntityID:    taskID,
		NewColumnID: task.ColumnID,
		NewOrder:    task.Order,
		Actor:       actor,
	})
	return &comment, nil
}

// GetTask returns a live task.
func (s *Service) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Deleted {
		return nil, domain.ErrTaskNotFound
	}
	return task, nil
}

// ListTasks returns a column's live tasks ascending by order key.
func (s *Service) ListTasks(ctx context.Context, columnID string) ([]domain.Task, error) {
	if _, err := s.store.GetColumn(ctx, columnID); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, columnID)
}

// ListColumns returns a board's live columns ascending by order key.
func (s *Service) ListColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	return s.store.ListColumns(ctx, boardID)
}

// GetActivity returns a task's activity records newest-first. Works for
// soft-deleted tasks; history outlives the task.
func (s *Service) GetActivity(ctx context.Context, taskID string) ([]domain.ActivityRecord, error) {
	return s.store.ListActivity(ctx, taskID)
}

func (s *Service) publish(ev domain.BoardEvent) {
	if s.pub != nil {
		s.pub.Publish(ev)
	}
}

func moveDescription(src, dst *domain.Column) string {
	if src.ID == dst.ID {
		return fmt.Sprintf("moved this task within %q", src.Name)
	}
	return fmt.Sprintf("moved this task from %q to %q", src.Name, dst.Name)
}

func indexTasks(tasks []domain.Task) map[string]*domain.Task {
	m := make(map[string]*domain.Task, len(tasks))
	for i := range tasks {
		m[tasks[i].ID] = &tasks[i]
	}
	return m
}

func sequenceOf(tasks []domain.Task) domain.Sequence {
	ps := make([]domain.Placement, 0, len(tasks))
	for _, t := range tasks {
		ps = append(ps, domain.Placement{ID: t.ID, Order: t.Order})
	}
	return domain.NewSequence(ps)
}
