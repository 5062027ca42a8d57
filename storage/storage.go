// Package storage persists boards in Azure Table Storage. Every entity of a
// board lives in the board's partition so that one logical operation can be
// committed as a single entity-group transaction.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"taskboard-api/board"
	"taskboard-api/domain"
)

// Transactions against a single partition accept at most this many actions.
const maxTransactionActions = 100

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage provides access to the board table and the event export queue.
type Storage struct {
	boardTable *aztables.Client
	eventQueue queueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, boardTable, eventsQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{boardTable: svc.NewClient(boardTable), eventQueue: eq}, nil
}

// Row key layout within a board partition. The prefixes sort activity rows
// before the board marker, columns and tasks, so range filters can pick one
// kind without touching the others.
const boardMarkerRowKey = "board"

func taskRowKey(id string) string   { return "task|" + id }
func columnRowKey(id string) string { return "col|" + id }

// activityRowKey embeds a reverse timestamp so that ascending row-key order
// yields newest-first activity. The record ID breaks same-instant ties.
func activityRowKey(taskID string, at time.Time, id string) string {
	return fmt.Sprintf("act|%s|%020d|%s", taskID, math.MaxInt64-at.UnixNano(), id)
}

func filterValue(s string) string { return strings.ReplaceAll(s, "'", "''") }

type taskEntity struct {
	aztables.Entity
	ETag        string `json:"odata.etag,omitempty"`
	ColumnID    string `json:"ColumnId"`
	Title       string `json:"Title"`
	Description string `json:"Description,omitempty"`
	Priority    string `json:"Priority,omitempty"`
	DueDate     string `json:"DueDate,omitempty"`
	AssignedTo  string `json:"AssignedTo,omitempty"`
	Order       int    `json:"Order"`
	IsDeleted   bool   `json:"IsDeleted"`
	Comments    string `json:"Comments,omitempty"`
	CreatedBy   string `json:"CreatedBy,omitempty"`
	CreatedAt   string `json:"CreatedAt,omitempty"`
	UpdatedAt   string `json:"UpdatedAt,omitempty"`
}

type columnEntity struct {
	aztables.Entity
	ETag      string `json:"odata.etag,omitempty"`
	Name      string `json:"Name"`
	Order     int    `json:"Order"`
	IsDeleted bool   `json:"IsDeleted"`
}

type activityEntity struct {
	aztables.Entity
	ActivityID  string `json:"ActivityId"`
	TaskID      string `json:"TaskId"`
	Kind        string `json:"Kind"`
	Actor       string `json:"Actor,omitempty"`
	Description string `json:"Description,omitempty"`
	At          string `json:"At"`
	From        string `json:"From,omitempty"`
	To          string `json:"To,omitempty"`
}

func entityFromTask(t domain.Task) (taskEntity, error) {
	var comments string
	if len(t.Comments) > 0 {
		data, err := json.Marshal(t.Comments)
		if err != nil {
			return taskEntity{}, err
		}
		comments = string(data)
	}
	return taskEntity{
		Entity:      aztables.Entity{PartitionKey: t.BoardID, RowKey: taskRowKey(t.ID)},
		ColumnID:    t.ColumnID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority,
		DueDate:     t.DueDate,
		AssignedTo:  t.AssignedTo,
		Order:       t.Order,
		IsDeleted:   t.Deleted,
		Comments:    comments,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:   t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func taskFromEntity(ent taskEntity) (domain.Task, error) {
	var comments []domain.Comment
	if ent.Comments != "" {
		if err := json.Unmarshal([]byte(ent.Comments), &comments); err != nil {
			return domain.Task{}, err
		}
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, ent.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, ent.UpdatedAt)
	return domain.Task{
		ID:          strings.TrimPrefix(ent.RowKey, "task|"),
		BoardID:     ent.PartitionKey,
		ColumnID:    ent.ColumnID,
		Title:       ent.Title,
		Description: ent.Description,
		Priority:    ent.Priority,
		DueDate:     ent.DueDate,
		AssignedTo:  ent.AssignedTo,
		Order:       ent.Order,
		Deleted:     ent.IsDeleted,
		Comments:    comments,
		CreatedBy:   ent.CreatedBy,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
		Version:     ent.ETag,
	}, nil
}

func entityFromColumn(c domain.Column) columnEntity {
	return columnEntity{
		Entity:    aztables.Entity{PartitionKey: c.BoardID, RowKey: columnRowKey(c.ID)},
		Name:      c.Name,
		Order:     c.Order,
		IsDeleted: c.Deleted,
	}
}

func columnFromEntity(ent columnEntity) domain.Column {
	return domain.Column{
		ID:      strings.TrimPrefix(ent.RowKey, "col|"),
		BoardID: ent.PartitionKey,
		Name:    ent.Name,
		Order:   ent.Order,
		Deleted: ent.IsDeleted,
		Version: ent.ETag,
	}
}

func entityFromActivity(boardID string, rec domain.ActivityRecord) (activityEntity, error) {
	ent := activityEntity{
		Entity:      aztables.Entity{PartitionKey: boardID, RowKey: activityRowKey(rec.TaskID, rec.At, rec.ID)},
		ActivityID:  rec.ID,
		TaskID:      rec.TaskID,
		Kind:        string(rec.Kind),
		Actor:       rec.Actor,
		Description: rec.Description,
		At:          rec.At.UTC().Format(time.RFC3339Nano),
	}
	if rec.From != nil {
		data, err := json.Marshal(rec.From)
		if err != nil {
			return activityEntity{}, err
		}
		ent.From = string(data)
	}
	if rec.To != nil {
		data, err := json.Marshal(rec.To)
		if err != nil {
			return activityEntity{}, err
		}
		ent.To = string(data)
	}
	return ent, nil
}

func activityFromEntity(ent activityEntity) (domain.ActivityRecord, error) {
	at, _ := time.Parse(time.RFC3339Nano, ent.At)
	rec := domain.ActivityRecord{
		ID:          ent.ActivityID,
		TaskID:      ent.TaskID,
		Kind:        domain.ActivityKind(ent.Kind),
		Actor:       ent.Actor,
		Description: ent.Description,
		At:          at,
	}
	if ent.From != "" {
		rec.From = &domain.PositionRef{}
		if err := json.Unmarshal([]byte(ent.From), rec.From); err != nil {
			return domain.ActivityRecord{}, err
		}
	}
	if ent.To != "" {
		rec.To = &domain.PositionRef{}
		if err := json.Unmarshal([]byte(ent.To), rec.To); err != nil {
			return domain.ActivityRecord{}, err
		}
	}
	return rec, nil
}

// GetTask looks a task up by ID alone. The row key carries the task ID, so a
// cross-partition row-key filter finds it without knowing the board.
func (s *Storage) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	filter := "RowKey eq '" + filterValue(taskRowKey(taskID)) + "'"
	pager := s.boardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			task, err := taskFromEntity(ent)
			if err != nil {
				return nil, err
			}
			return &task, nil
		}
	}
	return nil, domain.ErrTaskNotFound
}

// GetColumn looks a column up by ID alone.
func (s *Storage) GetColumn(ctx context.Context, columnID string) (*domain.Column, error) {
	filter := "RowKey eq '" + filterValue(columnRowKey(columnID)) + "'"
	pager := s.boardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent columnEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			col := columnFromEntity(ent)
			return &col, nil
		}
	}
	return nil, domain.ErrColumnNotFound
}

// ListTasks returns the live tasks of a column ascending by order key.
func (s *Storage) ListTasks(ctx context.Context, columnID string) ([]domain.Task, error) {
	filter := "ColumnId eq '" + filterValue(columnID) + "' and IsDeleted eq false"
	pager := s.boardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			task, err := taskFromEntity(ent)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Order < tasks[j].Order })
	return tasks, nil
}

// ListColumns returns the live columns of a board ascending by order key.
func (s *Storage) ListColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	filter := "PartitionKey eq '" + filterValue(boardID) +
		"' and RowKey ge 'col|' and RowKey lt 'col|~' and IsDeleted eq false"
	pager := s.boardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	columns := []domain.Column{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent columnEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			columns = append(columns, columnFromEntity(ent))
		}
	}
	sort.Slice(columns, func(i, j int) bool { return columns[i].Order < columns[j].Order })
	return columns, nil
}

// ListActivity returns a task's activity newest-first. The reverse timestamp
// in the row key makes the table's ascending scan come back newest-first.
func (s *Storage) ListActivity(ctx context.Context, taskID string) ([]domain.ActivityRecord, error) {
	prefix := "act|" + filterValue(taskID) + "|"
	filter := "RowKey ge '" + prefix + "' and RowKey lt '" + prefix + "~'"
	pager := s.boardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	records := []domain.ActivityRecord{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent activityEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			rec, err := activityFromEntity(ent)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// FetchBoard reads a whole board in one partition scan: every column and
// task row, skipping activity and the board marker.
func (s *Storage) FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	filter := "PartitionKey eq '" + filterValue(boardID) + "' and RowKey ge 'col|'"
	pager := s.boardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var columns []domain.Column
	tasksByColumn := map[string][]domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.BoardSnapshot{}, err
		}
		for _, e := range resp.Entities {
			var keys aztables.Entity
			if err := json.Unmarshal(e, &keys); err != nil {
				return domain.BoardSnapshot{}, err
			}
			switch {
			case strings.HasPrefix(keys.RowKey, "col|"):
				var ent columnEntity
				if err := json.Unmarshal(e, &ent); err != nil {
					return domain.BoardSnapshot{}, err
				}
				if col := columnFromEntity(ent); !col.Deleted {
					columns = append(columns, col)
				}
			case strings.HasPrefix(keys.RowKey, "task|"):
				var ent taskEntity
				if err := json.Unmarshal(e, &ent); err != nil {
					return domain.BoardSnapshot{}, err
				}
				task, err := taskFromEntity(ent)
				if err != nil {
					return domain.BoardSnapshot{}, err
				}
				if !task.Deleted {
					tasksByColumn[task.ColumnID] = append(tasksByColumn[task.ColumnID], task)
				}
			}
		}
	}
	sort.Slice(columns, func(i, j int) bool { return columns[i].Order < columns[j].Order })
	snapshot := domain.BoardSnapshot{BoardID: boardID, Columns: []domain.ColumnView{}}
	for _, col := range columns {
		tasks := tasksByColumn[col.ID]
		sort.Slice(tasks, func(i, j int) bool { return tasks[i].Order < tasks[j].Order })
		if tasks == nil {
			tasks = []domain.Task{}
		}
		snapshot.Columns = append(snapshot.Columns, domain.ColumnView{Column: col, Tasks: tasks})
	}
	return snapshot, nil
}

// Apply commits one mutation as a single entity-group transaction against
// the board's partition. Guarded rows carry the ETag captured at read time;
// any mismatch fails the whole batch and surfaces as domain.ErrConflict.
func (s *Storage) Apply(ctx context.Context, m board.Mutation) error {
	actions := make([]aztables.TransactionAction, 0, len(m.Tasks)+len(m.Columns)+len(m.Touch)+4)

	for _, t := range m.Tasks {
		ent, err := entityFromTask(t)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(ent)
		if err != nil {
			return err
		}
		et := azcore.ETag(t.Version)
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateReplace,
			Entity:     payload,
			IfMatch:    &et,
		})
	}
	for _, c := range m.Columns {
		payload, err := json.Marshal(entityFromColumn(c))
		if err != nil {
			return err
		}
		et := azcore.ETag(c.Version)
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateReplace,
			Entity:     payload,
			IfMatch:    &et,
		})
	}
	// A touch rewrites the row with its current content. The write rotates
	// the ETag, which is the whole point: any in-flight move that read the
	// old ETag loses.
	for _, c := range m.Touch {
		payload, err := json.Marshal(entityFromColumn(c))
		if err != nil {
			return err
		}
		et := azcore.ETag(c.Version)
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     payload,
			IfMatch:    &et,
		})
	}
	if m.InsertTask != nil {
		ent, err := entityFromTask(*m.InsertTask)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(ent)
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeAdd,
			Entity:     payload,
		})
	}
	if m.InsertColumn != nil {
		payload, err := json.Marshal(entityFromColumn(*m.InsertColumn))
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeAdd,
			Entity:     payload,
		})
	}
	if m.TouchBoard {
		action, err := s.boardMarkerAction(ctx, m.BoardID)
		if err != nil {
			return err
		}
		actions = append(actions, action)
	}
	if m.Activity != nil {
		ent, err := entityFromActivity(m.BoardID, *m.Activity)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(ent)
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeAdd,
			Entity:     payload,
		})
	}

	if len(actions) == 0 {
		return nil
	}
	if len(actions) > maxTransactionActions {
		return fmt.Errorf("mutation needs %d actions, transaction limit is %d", len(actions), maxTransactionActions)
	}
	if _, err := s.boardTable.SubmitTransaction(ctx, actions, nil); err != nil {
		return mapWriteError(err)
	}
	return nil
}

// boardMarkerAction guards column appends: the marker row's ETag is read
// here and re-checked at commit, so two concurrent appends to the same board
// cannot both land.
func (s *Storage) boardMarkerAction(ctx context.Context, boardID string) (aztables.TransactionAction, error) {
	marker := aztables.Entity{PartitionKey: boardID, RowKey: boardMarkerRowKey}
	payload, err := json.Marshal(marker)
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	resp, err := s.boardTable.GetEntity(ctx, boardID, boardMarkerRowKey, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return aztables.TransactionAction{
				ActionType: aztables.TransactionTypeAdd,
				Entity:     payload,
			}, nil
		}
		return aztables.TransactionAction{}, err
	}
	var stored struct {
		ETag string `json:"odata.etag"`
	}
	if err := json.Unmarshal(resp.Value, &stored); err != nil {
		return aztables.TransactionAction{}, err
	}
	et := azcore.ETag(stored.ETag)
	return aztables.TransactionAction{
		ActionType: aztables.TransactionTypeUpdateMerge,
		Entity:     payload,
		IfMatch:    &et,
	}, nil
}

// ExportEvent pushes a committed event onto the durable export queue.
func (s *Storage) ExportEvent(ctx context.Context, ev domain.BoardEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.eventQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

func mapWriteError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusConflict, http.StatusPreconditionFailed, http.StatusNotFound:
			return fmt.Errorf("%w: %s", domain.ErrConflict, respErr.ErrorCode)
		}
	}
	return err
}

var _ board.Store = (*Storage)(nil)
