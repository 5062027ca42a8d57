package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard-api/board"
	"taskboard-api/domain"
)

type backend interface {
	FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error)
	Apply(ctx context.Context, m board.Mutation) error
}

// Cache wraps a Storage instance with Redis-backed caching for board
// snapshots. Only whole-board reads are cached: the engine's list reads must
// see live rows with live concurrency versions, so they pass straight
// through to the embedded Storage.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	if snapshot, ok := c.loadBoardFromCache(ctx, boardID); ok {
		return snapshot, nil
	}

	snapshot, err := c.base.FetchBoard(ctx, boardID)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}

	c.storeBoard(ctx, boardID, snapshot)
	return snapshot, nil
}

// Apply delegates to the backing storage and drops the board's cached
// snapshot once the mutation has committed.
func (c *Cache) Apply(ctx context.Context, m board.Mutation) error {
	if err := c.base.Apply(ctx, m); err != nil {
		return err
	}

	c.evict(ctx, m.BoardID)
	return nil
}

func (c *Cache) loadBoardFromCache(ctx context.Context, boardID string) (domain.BoardSnapshot, bool) {
	if c.redis == nil {
		return domain.BoardSnapshot{}, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		}
		return domain.BoardSnapshot{}, false
	}
	var snapshot domain.BoardSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		return domain.BoardSnapshot{}, false
	}
	return snapshot, true
}

func (c *Cache) storeBoard(ctx context.Context, boardID string, snapshot domain.BoardSnapshot) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(boardID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
}

func boardCacheKey(boardID string) string {
	return "cache:board:" + boardID
}
