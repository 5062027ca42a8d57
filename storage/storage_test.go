package storage

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"taskboard-api/domain"
)

func TestTaskEntityRoundTrip(t *testing.T) {
	created := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	task := domain.Task{
		ID:          "t1",
		BoardID:     "b1",
		ColumnID:    "c1",
		Title:       "Write release notes",
		Description: "draft only",
		Priority:    "high",
		AssignedTo:  "dana",
		Order:       3,
		Deleted:     true,
		Comments:    []domain.Comment{{ID: "cm1", Author: "alex", Text: "on it", At: created}},
		CreatedBy:   "alex",
		CreatedAt:   created,
		UpdatedAt:   created.Add(time.Hour),
	}

	ent, err := entityFromTask(task)
	if err != nil {
		t.Fatalf("entityFromTask: %v", err)
	}
	if ent.PartitionKey != "b1" || ent.RowKey != "task|t1" {
		t.Fatalf("unexpected keys: %s/%s", ent.PartitionKey, ent.RowKey)
	}
	ent.ETag = `W/"datetime'2025-03-01'"`

	got, err := taskFromEntity(ent)
	if err != nil {
		t.Fatalf("taskFromEntity: %v", err)
	}
	if got.ID != "t1" || got.BoardID != "b1" || got.ColumnID != "c1" {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if got.Order != 3 || !got.Deleted || got.Priority != "high" {
		t.Fatalf("unexpected fields: %+v", got)
	}
	if len(got.Comments) != 1 || got.Comments[0].Text != "on it" {
		t.Fatalf("unexpected comments: %+v", got.Comments)
	}
	if got.Version != ent.ETag {
		t.Fatalf("version not captured from etag: %q", got.Version)
	}
	if !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(created.Add(time.Hour)) {
		t.Fatalf("timestamps not preserved: %v %v", got.CreatedAt, got.UpdatedAt)
	}
}

func TestColumnEntityRoundTrip(t *testing.T) {
	col := domain.Column{ID: "c1", BoardID: "b1", Name: "Doing", Order: 2}
	ent := entityFromColumn(col)
	if ent.RowKey != "col|c1" {
		t.Fatalf("unexpected row key: %s", ent.RowKey)
	}
	ent.ETag = "abc"
	got := columnFromEntity(ent)
	if got.ID != "c1" || got.BoardID != "b1" || got.Name != "Doing" || got.Order != 2 {
		t.Fatalf("unexpected column: %+v", got)
	}
	if got.Version != "abc" {
		t.Fatalf("version not captured: %q", got.Version)
	}
}

func TestActivityEntityRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	rec := domain.ActivityRecord{
		ID:          "a1",
		TaskID:      "t1",
		Kind:        domain.ActivityMoved,
		Actor:       "dana",
		Description: `moved this task from "To Do" to "Done"`,
		At:          at,
		From:        &domain.PositionRef{ColumnID: "c1", ColumnName: "To Do", Order: 0},
		To:          &domain.PositionRef{ColumnID: "c2", ColumnName: "Done", Order: 1},
	}
	ent, err := entityFromActivity("b1", rec)
	if err != nil {
		t.Fatalf("entityFromActivity: %v", err)
	}
	got, err := activityFromEntity(ent)
	if err != nil {
		t.Fatalf("activityFromEntity: %v", err)
	}
	if got.ID != "a1" || got.Kind != domain.ActivityMoved || !got.At.Equal(at) {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.From == nil || got.From.ColumnName != "To Do" || got.To == nil || got.To.Order != 1 {
		t.Fatalf("position refs not preserved: %+v %+v", got.From, got.To)
	}
}

// Later activity must sort before earlier activity under the table's
// ascending row-key scan.
func TestActivityRowKeyNewestFirst(t *testing.T) {
	base := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	keys := []string{
		activityRowKey("t1", base, "a1"),
		activityRowKey("t1", base.Add(time.Second), "a2"),
		activityRowKey("t1", base.Add(time.Minute), "a3"),
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	if sorted[0] != keys[2] || sorted[1] != keys[1] || sorted[2] != keys[0] {
		t.Fatalf("row keys do not reverse-sort by time: %v", sorted)
	}
	for _, k := range sorted {
		if k < "act|t1|" || k >= "act|t1|~" {
			t.Fatalf("key %q escapes the task's range filter", k)
		}
	}
}

func TestMapWriteError(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{412, true},
		{409, true},
		{404, true},
		{503, false},
	}
	for _, tc := range cases {
		err := mapWriteError(&azcore.ResponseError{StatusCode: tc.status, ErrorCode: "UpdateConditionNotSatisfied"})
		if got := errors.Is(err, domain.ErrConflict); got != tc.want {
			t.Fatalf("status %d: conflict=%v, want %v", tc.status, got, tc.want)
		}
	}
	plain := errors.New("boom")
	if got := mapWriteError(plain); got != plain {
		t.Fatalf("unrelated error rewritten: %v", got)
	}
}

func TestFilterValueEscapesQuotes(t *testing.T) {
	if got := filterValue("o'brien"); got != "o''brien" {
		t.Fatalf("unexpected escape: %q", got)
	}
}
