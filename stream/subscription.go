package stream

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard-api/events"
)

// SubscribeUpdates forwards committed board events from redis to the broker.
// Runs until the context is cancelled, reconnecting if the pub/sub channel
// closes underneath it.
func SubscribeUpdates(ctx context.Context, logger *log.Logger, rc *redis.Client, broker *Broker) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	prefix := events.Channel("")
	for {
		sub := rc.PSubscribe(ctx, events.Channel("*"))
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				boardID := strings.TrimPrefix(msg.Channel, prefix)
				broker.Broadcast(boardID, []byte(msg.Payload))
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
