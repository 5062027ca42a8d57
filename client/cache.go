// Package client keeps a board replica for interactive callers. Moves are
// applied speculatively so the UI responds immediately; the authoritative
// answer arrives over the event stream and either confirms the speculation
// or replaces it. The engine is never asked to trust client-side state.
package client

import (
	"errors"
	"sort"
	"sync"

	"taskboard-api/domain"
)

var ErrUnknownTask = errors.New("task not in cached board")

type move struct {
	taskID   string
	columnID string
	order    int
}

// BoardCache holds the confirmed board state plus any not-yet-confirmed
// local moves. Reads see the confirmed state with local moves replayed on
// top, so the caller's own drag lands instantly while racing events keep
// flowing underneath it.
type BoardCache struct {
	mu        sync.Mutex
	boardID   string
	columns   []domain.Column
	confirmed map[string]domain.Task
	pending   []move
	stale     bool
}

// New builds a cache from a canonical board snapshot.
func New(snapshot domain.BoardSnapshot) *BoardCache {
	c := &BoardCache{boardID: snapshot.BoardID}
	c.load(snapshot)
	return c
}

func (c *BoardCache) load(snapshot domain.BoardSnapshot) {
	c.columns = make([]domain.Column, 0, len(snapshot.Columns))
	c.confirmed = make(map[string]domain.Task)
	for _, view := range snapshot.Columns {
		c.columns = append(c.columns, view.Column)
		for _, t := range view.Tasks {
			c.confirmed[t.ID] = t
		}
	}
	c.pending = nil
	c.stale = false
}

func (c *BoardCache) BoardID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boardID
}

// Stale reports whether an event arrived that the cache could not apply in
// place. A stale cache still serves reads; the caller should Resync soon.
func (c *BoardCache) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// Resync replaces everything with a fresh canonical snapshot, discarding
// pending speculation.
func (c *BoardCache) Resync(snapshot domain.BoardSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boardID = snapshot.BoardID
	c.load(snapshot)
}

// ApplyLocal speculatively moves a task. The cache shifts neighbours exactly
// the way the engine will, so the local view matches the eventual commit
// unless a concurrent writer got there first.
func (c *BoardCache) ApplyLocal(taskID, columnID string, order int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.confirmed[taskID]
	if !ok {
		return ErrUnknownTask
	}
	if columnID == "" {
		columnID = t.ColumnID
	}
	c.pending = append(c.pending, move{taskID: taskID, columnID: columnID, order: order})
	return nil
}

// Abort discards pending speculation for a task. Call it when the server
// answered the move with a conflict or rejection; the view falls back to
// confirmed state.
func (c *BoardCache) Abort(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.pending[:0]
	for _, m := range c.pending {
		if m.taskID != taskID {
			kept = append(kept, m)
		}
	}
	c.pending = kept
}

// ApplyEvent folds an authoritative broadcast into the confirmed state.
// A move event also settles the oldest pending speculation for its task.
// Events the cache cannot apply in place mark it stale.
func (c *BoardCache) ApplyEvent(ev domain.BoardEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.BoardID != c.boardID {
		return
	}
	switch ev.Kind {
	case domain.EventTaskMoved:
		applyMove(c.confirmed, ev.EntityID, ev.NewColumnID, ev.NewOrder)
		c.settlePending(ev.EntityID)
	case domain.EventTaskDeleted:
		delete(c.confirmed, ev.EntityID)
		c.dropPending(ev.EntityID)
	default:
		// Creations, edits and column changes carry only IDs on the wire;
		// the full rows have to come from a fresh snapshot.
		c.stale = true
	}
}

func (c *BoardCache) settlePending(taskID string) {
	for i, m := range c.pending {
		if m.taskID == taskID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

func (c *BoardCache) dropPending(taskID string) {
	kept := c.pending[:0]
	for _, m := range c.pending {
		if m.taskID != taskID {
			kept = append(kept, m)
		}
	}
	c.pending = kept
}

// Tasks returns the current view of a column, pending moves included,
// ascending by position.
func (c *BoardCache) Tasks(columnID string) []domain.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	view := c.view()
	var out []domain.Task
	for _, t := range view {
		if t.ColumnID == columnID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Columns returns the board's columns ascending by position.
func (c *BoardCache) Columns() []domain.Column {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]domain.Column(nil), c.columns...)
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (c *BoardCache) view() map[string]domain.Task {
	view := make(map[string]domain.Task, len(c.confirmed))
	for id, t := range c.confirmed {
		view[id] = t
	}
	for _, m := range c.pending {
		applyMove(view, m.taskID, m.columnID, m.order)
	}
	return view
}

// applyMove runs the engine's shift algorithm against an in-memory replica.
func applyMove(tasks map[string]domain.Task, taskID, columnID string, order int) {
	t, ok := tasks[taskID]
	if !ok {
		return
	}
	if columnID == "" {
		columnID = t.ColumnID
	}

	var plan domain.MovePlan
	if columnID == t.ColumnID {
		p, ok := domain.PlanReorder(sequenceOf(tasks, t.ColumnID), t.ColumnID, taskID, order)
		if !ok {
			return
		}
		plan = p
	} else {
		p, ok := domain.PlanTransfer(sequenceOf(tasks, t.ColumnID), t.ColumnID, sequenceOf(tasks, columnID), columnID, taskID, order)
		if !ok {
			return
		}
		plan = p
	}
	for _, w := range plan.Writes {
		cur := tasks[w.ID]
		cur.ColumnID = w.ColumnID
		cur.Order = w.Order
		tasks[w.ID] = cur
	}
}

func sequenceOf(tasks map[string]domain.Task, columnID string) domain.Sequence {
	var ps []domain.Placement
	for _, t := range tasks {
		if t.ColumnID == columnID {
			ps = append(ps, domain.Placement{ID: t.ID, Order: t.Order})
		}
	}
	return domain.NewSequence(ps)
}
