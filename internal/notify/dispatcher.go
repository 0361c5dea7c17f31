package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/metrics"
)

type Config struct {
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

const (
	defaultQueueSize = 256
	defaultTimeout   = 5 * time.Second
)

// Dispatcher delivers published changes to a sink from a single worker
// goroutine. When the queue is full the change is dropped.
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan domain.StateChange
	done   chan struct{}
}

func NewDispatcher(sink Sink, cfg Config, m *metrics.Metrics) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	d := &Dispatcher{
		sink:    sink,
		timeout: cfg.Timeout,
		metrics: m,
		queue:   make(chan domain.StateChange, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Publish(change domain.StateChange) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		slog.Warn("Notification dropped, dispatcher closed", "station_id", change.StationID)
		d.metrics.Notification("dropped")
		return
	}
	select {
	case d.queue <- change:
	default:
		slog.Warn("Notification dropped, queue full",
			"station_id", change.StationID,
			"old_state", change.OldState,
			"new_state", change.NewState)
		d.metrics.Notification("dropped")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for change := range d.queue {
		d.deliver(change)
	}
}

func (d *Dispatcher) deliver(change domain.StateChange) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Notification sink panicked", "station_id", change.StationID, "panic", r)
			d.metrics.Notification("failed")
		}
	}()

	if err := d.sink.NotifyStateChange(ctx, change); err != nil {
		slog.Error("Failed to deliver notification",
			"station_id", change.StationID,
			"new_state", change.NewState,
			"error", err)
		d.metrics.Notification("failed")
		return
	}
	d.metrics.Notification("delivered")
}

// Close stops accepting changes and waits until the queue has drained or
// ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
