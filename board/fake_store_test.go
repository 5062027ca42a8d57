package board

import (
	"context"
	"sort"
	"strconv"

	"taskboard-api/domain"
)

// fakeStore mimics the aztables store: reads hand out versions, Apply
// validates every guarded version and commits all-or-nothing.
type fakeStore struct {
	tasks    map[string]domain.Task
	columns  map[string]domain.Column
	activity []domain.ActivityRecord

	rev         int
	beforeApply func(f *fakeStore)
	failApply   error
	applied     []Mutation
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:   map[string]domain.Task{},
		columns: map[string]domain.Column{},
	}
}

func (f *fakeStore) nextRev() string {
	f.rev++
	return strconv.Itoa(f.rev)
}

func (f *fakeStore) putColumn(c domain.Column) {
	c.Version = f.nextRev()
	f.columns[c.ID] = c
}

func (f *fakeStore) putTask(t domain.Task) {
	t.Version = f.nextRev()
	f.tasks[t.ID] = t
}

func (f *fakeStore) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	cp := t
	return &cp, nil
}

func (f *fakeStore) GetColumn(ctx context.Context, columnID string) (*domain.Column, error) {
	c, ok := f.columns[columnID]
	if !ok {
		return nil, domain.ErrColumnNotFound
	}
	cp := c
	return &cp, nil
}

func (f *fakeStore) ListTasks(ctx context.Context, columnID string) ([]domain.Task, error) {
	var out []domain.Task
	for _, t := range f.tasks {
		if t.ColumnID == columnID && !t.Deleted {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *fakeStore) ListColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	var out []domain.Column
	for _, c := range f.columns {
		if c.BoardID == boardID && !c.Deleted {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *fakeStore) ListActivity(ctx context.Context, taskID string) ([]domain.ActivityRecord, error) {
	var out []domain.ActivityRecord
	for i := len(f.activity) - 1; i >= 0; i-- {
		if f.activity[i].TaskID == taskID {
			out = append(out, f.activity[i])
		}
	}
	return out, nil
}

func (f *fakeStore) Apply(ctx context.Context, m Mutation) error {
	if f.beforeApply != nil {
		hook := f.beforeApply
		f.beforeApply = nil
		hook(f)
	}
	if f.failApply != nil {
		return f.failApply
	}

	// Validate every guard before touching anything.
	for _, t := range m.Tasks {
		cur, ok := f.tasks[t.ID]
		if !ok || cur.Version != t.Version {
			return domain.ErrConflict
		}
	}
	for _, c := range m.Columns {
		cur, ok := f.columns[c.ID]
		if !ok || cur.Version != c.Version {
			return domain.ErrConflict
		}
	}
	for _, c := range m.Touch {
		cur, ok := f.columns[c.ID]
		if !ok || cur.Version != c.Version {
			return domain.ErrConflict
		}
	}
	if m.InsertTask != nil {
		if _, exists := f.tasks[m.InsertTask.ID]; exists {
			return domain.ErrConflict
		}
	}
	if m.InsertColumn != nil {
		if _, exists := f.columns[m.InsertColumn.ID]; exists {
			return domain.ErrConflict
		}
	}

	for _, t := range m.Tasks {
		f.putTask(t)
	}
	for _, c := range m.Columns {
		f.putColumn(c)
	}
	for _, c := range m.Touch {
		cur := f.columns[c.ID]
		f.putColumn(cur)
	}
	if m.InsertTask != nil {
		f.putTask(*m.InsertTask)
	}
	if m.InsertColumn != nil {
		f.putColumn(*m.InsertColumn)
	}
	if m.Activity != nil {
		f.activity = append(f.activity, *m.Activity)
	}
	f.applied = append(f.applied, m)
	return nil
}

var _ Store = (*fakeStore)(nil)

type capturePublisher struct {
	events []domain.BoardEvent
}

func (p *capturePublisher) Publish(ev domain.BoardEvent) {
	p.events = append(p.events, ev)
}
