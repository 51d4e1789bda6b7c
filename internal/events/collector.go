package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/resilience"
)

// Publisher writes a batch of events to the broker.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// shutdownFlushTimeout bounds publishes made after the start context is
// cancelled.
const shutdownFlushTimeout = 5 * time.Second

func defaultConfig() Config {
	return Config{BufferSize: 10000, BatchSize: 100, FlushInterval: time.Second}
}

// Collector buffers events and publishes them in batches from a single
// background goroutine. Track never blocks: when the buffer is full or the
// broker circuit is open, events are dropped and counted.
type Collector struct {
	publisher Publisher
	breaker   *resilience.CircuitBreaker
	cfg       Config
	metrics   *metrics.Metrics
	eventCh   chan Event
	logger    *slog.Logger
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewCollector(publisher Publisher, cfg Config, m *metrics.Metrics) *Collector {
	def := defaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	c := &Collector{
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		eventCh:   make(chan Event, cfg.BufferSize),
		logger:    slog.Default().With("component", "event-collector"),
		done:      make(chan struct{}),
	}
	c.breaker = resilience.NewCircuitBreaker("annotation-events", resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(from, to resilience.State) {
			if to == resilience.StateOpen {
				c.logger.Warn("broker unavailable, dropping events", "from", from.String())
			} else if to == resilience.StateClosed {
				c.logger.Info("broker recovered")
			}
		},
	})
	return c
}

// Start launches the publish loop. Cancelling ctx flushes what is
// buffered, but the loop keeps publishing until Close so events tracked
// while requests drain still reach the broker.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.FlushInterval)
		defer ticker.Stop()
		batch := make([]kafka.Event, 0, c.cfg.BatchSize)
		cancelled := ctx.Done()

		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					c.flush(ctx, batch)
					return
				}
				if event.Timestamp.IsZero() {
					event.Timestamp = time.Now().UTC()
				}
				batch = append(batch, kafka.Event{Key: event.Key(), Value: event})
				if len(batch) >= c.cfg.BatchSize {
					c.flush(ctx, batch)
					batch = batch[:0]
				}
			case <-ticker.C:
				c.flush(ctx, batch)
				batch = batch[:0]
			case <-cancelled:
				cancelled = nil
				c.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}()
	c.logger.Info("event collector started",
		"buffer_size", c.cfg.BufferSize,
		"batch_size", c.cfg.BatchSize,
		"flush_interval", c.cfg.FlushInterval,
	)
}

// Track enqueues an event without blocking. Events tracked after Close are
// dropped and counted.
func (c *Collector) Track(event Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.metrics.EventDropped()
		c.logger.Warn("annotation event dropped (collector closed)", "type", event.Type)
		return
	}
	select {
	case c.eventCh <- event:
	default:
		c.metrics.EventDropped()
		c.logger.Warn("annotation event dropped (buffer full)", "type", event.Type)
	}
}

// Close stops accepting events and waits for the final flush.
func (c *Collector) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.eventCh)
	}
	c.mu.Unlock()
	<-c.done
}

// HealthCheck reports the broker degraded while its circuit is not closed.
// Annotation never depends on the broker, so it is never down.
func (c *Collector) HealthCheck() health.Check {
	return func(context.Context) health.ComponentHealth {
		if st := c.breaker.GetState(); st != resilience.StateClosed {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "circuit " + st.String()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	}
}

func (c *Collector) flush(ctx context.Context, batch []kafka.Event) {
	if len(batch) == 0 {
		return
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), shutdownFlushTimeout)
		defer cancel()
	}
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.publisher.PublishBatch(ctx, batch)
	})
	if err == nil {
		c.logger.Debug("events published", "count", len(batch))
		return
	}
	for range batch {
		c.metrics.EventDropped()
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Warn("broker circuit open, events dropped", "count", len(batch))
		return
	}
	c.logger.Error("failed to publish annotation events", "count", len(batch), "error", err)
}
