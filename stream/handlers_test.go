package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"taskboard-api/domain"
)

type fakeSnapshots struct {
	snapshot domain.BoardSnapshot
	called   int
}

func (f *fakeSnapshots) FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	f.called++
	f.snapshot.BoardID = boardID
	return f.snapshot, nil
}

type fakeAuth struct {
	err error
}

func (f fakeAuth) UserIDFromAuthHeader(h string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "user1", nil
}

type flushRecorder struct{ *httptest.ResponseRecorder }

func (flushRecorder) Flush() {}

func TestStreamBoardSendsSnapshotThenUpdates(t *testing.T) {
	snapshots := &fakeSnapshots{snapshot: domain.BoardSnapshot{Columns: []domain.ColumnView{}}}
	broker := NewBroker()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/boards/b1/stream", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	rec := flushRecorder{httptest.NewRecorder()}
	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)
	c := e.NewContext(req, rec)
	c.SetParamNames("boardId")
	c.SetParamValues("b1")
	handler := streamBoard(snapshots, fakeAuth{}, broker)

	errCh := make(chan error, 1)
	go func() { errCh <- handler(c) }()

	deadline := time.Now().Add(time.Second)
	for snapshots.called == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if snapshots.called != 1 {
		t.Fatalf("expected FetchBoard once, got %d", snapshots.called)
	}

	update, _ := json.Marshal(domain.BoardEvent{Kind: domain.EventTaskMoved, BoardID: "b1", EntityID: "t1"})
	for time.Now().Before(deadline) {
		broker.Broadcast("b1", update)
		if strings.Contains(rec.Body.String(), "event: update") {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("handler error: %v", err)
	}

	body := rec.Body.String()
	snapshotData, _ := json.Marshal(snapshots.snapshot)
	if !strings.HasPrefix(body, "event: snapshot\ndata: "+string(snapshotData)+"\n\n") {
		t.Fatalf("body does not start with snapshot event: %q", body)
	}
	if !strings.Contains(body, "event: update\ndata: "+string(update)+"\n\n") {
		t.Fatalf("body missing update event: %q", body)
	}
	if si, ui := strings.Index(body, "event: snapshot"), strings.Index(body, "event: update"); si > ui {
		t.Fatal("snapshot must precede updates")
	}
}

func TestStreamBoardAcceptsQueryToken(t *testing.T) {
	snapshots := &fakeSnapshots{}
	broker := NewBroker()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/boards/b1/stream?token=a.b.c", nil)
	rec := flushRecorder{httptest.NewRecorder()}
	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)
	c := e.NewContext(req, rec)
	c.SetParamNames("boardId")
	c.SetParamValues("b1")
	handler := streamBoard(snapshots, fakeAuth{}, broker)

	errCh := make(chan error, 1)
	go func() { errCh <- handler(c) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "event: snapshot") {
		t.Fatalf("expected snapshot event, got %q", rec.Body.String())
	}
}

func TestStreamBoardRejectsUnauthenticated(t *testing.T) {
	broker := NewBroker()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/boards/b1/stream", nil)
	rec := flushRecorder{httptest.NewRecorder()}
	c := e.NewContext(req, rec)
	c.SetParamNames("boardId")
	c.SetParamValues("b1")
	handler := streamBoard(&fakeSnapshots{}, fakeAuth{err: errors.New("missing authorization header")}, broker)

	if err := handler(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}
