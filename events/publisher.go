// Package events broadcasts committed board mutations. Live subscribers get
// the event over a redis channel; a durable copy goes to the export queue.
// A single drain goroutine delivers in hand-off order, so subscribers see
// racing moves in the order their transactions committed.
package events

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

// Exporter pushes a committed event onto durable storage.
type Exporter interface {
	ExportEvent(ctx context.Context, ev domain.BoardEvent) error
}

type Config struct {
	BufferSize     int
	PublishTimeout time.Duration
	HandoffTimeout time.Duration
	RetryInitial   time.Duration
	RetryMax       time.Duration
	MaxAttempts    int
}

func (c *Config) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 4096
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 30 * time.Second
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 250 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
}

// Publisher fans committed events out to redis and the export queue.
type Publisher struct {
	cfg      Config
	redis    *redis.Client
	exporter Exporter
	logger   *log.Logger

	ch     chan domain.BoardEvent
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	closing bool
	dropped atomic.Uint64
}

// Channel names the redis pub/sub channel carrying a board's live events.
func Channel(boardID string) string {
	return "board:" + boardID
}

// NewPublisher starts the drain goroutine. Either client may be nil; the
// corresponding leg is skipped.
func NewPublisher(cfg Config, redisClient *redis.Client, exporter Exporter, logger *log.Logger) *Publisher {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.StandardLogger()
	}
	p := &Publisher{
		cfg:      cfg,
		redis:    redisClient,
		exporter: exporter,
		logger:   logger,
		ch:       make(chan domain.BoardEvent, cfg.BufferSize),
		stopCh:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.drain()
	return p
}

// Publish hands a committed event to the drain goroutine. Events arriving
// while the buffer is saturated past the hand-off timeout are dropped with
// an error log; the durable queue still has a copy of everything delivered.
func (p *Publisher) Publish(ev domain.BoardEvent) {
	if ev.Time == 0 {
		ev.Time = nextTimestamp()
	}

	// The hand-off happens with the mutex held so Close cannot close the
	// channel out from under a sender.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		p.logger.Errorf("publisher closed, dropping event, kind=%s, board=%s", ev.Kind, ev.BoardID)
		return
	}

	if p.cfg.HandoffTimeout <= 0 {
		select {
		case p.ch <- ev:
			return
		default:
		}
	} else {
		timer := time.NewTimer(p.cfg.HandoffTimeout)
		defer timer.Stop()
		select {
		case p.ch <- ev:
			return
		case <-timer.C:
		}
	}

	p.dropped.Add(1)
	p.logger.Errorf("event publisher saturated, dropping event, kind=%s, board=%s", ev.Kind, ev.BoardID)
}

// Close stops accepting events and waits for the buffered ones to flush.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return
	}
	p.closing = true
	p.mu.Unlock()

	close(p.stopCh)
	close(p.ch)
	p.wg.Wait()
}

// Dropped reports how many events were discarded under saturation.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for ev := range p.ch {
		p.deliver(ev)
	}
}

func (p *Publisher) deliver(ev domain.BoardEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.WithError(err).Errorf("event marshal failed, kind=%s, board=%s", ev.Kind, ev.BoardID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
	defer cancel()

	// The live leg is best-effort: a subscriber that misses an event
	// resynchronizes from a board snapshot.
	if p.redis != nil {
		if err := p.redis.Publish(ctx, Channel(ev.BoardID), payload).Err(); err != nil {
			p.logger.WithError(err).Errorf("live broadcast failed, kind=%s, board=%s", ev.Kind, ev.BoardID)
		}
	}

	if p.exporter == nil {
		return
	}
	for attempt := 0; ; attempt++ {
		err := p.exporter.ExportEvent(ctx, ev)
		if err == nil {
			return
		}
		if attempt+1 >= p.cfg.MaxAttempts {
			p.logger.WithError(err).Errorf("event export abandoned, kind=%s, board=%s, attempts=%d", ev.Kind, ev.BoardID, attempt+1)
			return
		}
		p.logger.WithError(err).Errorf("event export failed, kind=%s, board=%s, attempt=%d", ev.Kind, ev.BoardID, attempt+1)

		// Retrying in-line keeps later events behind this one, preserving
		// delivery order at the cost of throughput.
		timer := time.NewTimer(exponentialBackoff(attempt+1, p.cfg.RetryInitial, p.cfg.RetryMax))
		select {
		case <-timer.C:
		case <-p.stopCh:
			timer.Stop()
			p.logger.Errorf("event export interrupted by shutdown, kind=%s, board=%s", ev.Kind, ev.BoardID)
			return
		}
		timer.Stop()
	}
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 {
		if initial <= 0 {
			return time.Second
		}
		return initial
	}
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
