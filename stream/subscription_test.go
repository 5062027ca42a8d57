package stream

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskboard-api/events"
)

func TestSubscribeUpdatesForwardsToBroker(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	broker := NewBroker()
	ch := broker.Subscribe("b1")
	other := broker.Subscribe("b2")
	defer broker.Unsubscribe("b1", ch)
	defer broker.Unsubscribe("b2", other)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		SubscribeUpdates(ctx, nil, rc, broker)
		close(done)
	}()

	// The pattern subscription races connection setup; keep publishing
	// until the broker sees the message.
	payload := `{"kind":"task-moved","boardId":"b1","entityId":"t1"}`
	deadline := time.After(5 * time.Second)
	var got []byte
publish:
	for {
		_ = rc.Publish(context.Background(), events.Channel("b1"), payload).Err()
		select {
		case got = <-ch:
			break publish
		case <-deadline:
			t.Fatal("broker never received the published event")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if string(got) != payload {
		t.Fatalf("unexpected payload: %s", got)
	}

	select {
	case <-other:
		t.Fatal("b2 subscriber received b1 traffic")
	default:
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("SubscribeUpdates did not stop on cancel")
	}
}
