package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"taskboard-api/domain"
)

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	failAt   int
	count    int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{failAt: -1}
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt >= 0 && f.count == f.failAt {
		f.count++
		return azqueue.EnqueueMessagesResponse{}, errors.New("enqueue failed")
	}
	f.count++
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func TestExportEvent(t *testing.T) {
	q := newFakeQueue()
	s := &Storage{eventQueue: q}

	ev := domain.BoardEvent{
		Kind:        domain.EventTaskMoved,
		BoardID:     "b1",
		EntityID:    "t1",
		OldColumnID: "c1",
		NewColumnID: "c2",
		NewOrder:    1,
		Actor:       "dana",
		Time:        42,
	}
	if err := s.ExportEvent(context.Background(), ev); err != nil {
		t.Fatalf("ExportEvent: %v", err)
	}
	if len(q.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(q.messages))
	}
	var got domain.BoardEvent
	if err := json.Unmarshal([]byte(q.messages[0]), &got); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if got != ev {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestExportEventPropagatesFailure(t *testing.T) {
	q := newFakeQueue()
	q.failAt = 0
	s := &Storage{eventQueue: q}

	if err := s.ExportEvent(context.Background(), domain.BoardEvent{Kind: domain.EventTaskCreated}); err == nil {
		t.Fatal("expected enqueue error")
	}
	if len(q.messages) != 0 {
		t.Fatalf("message recorded despite failure: %v", q.messages)
	}
}
