package notify

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/polyclinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

// Dispatcher is the fire-and-forget Notifier: Notify only enqueues, and a
// fixed pool of workers performs delivery. A full buffer drops the
// notification with a warning instead of blocking the caller.
type Dispatcher struct {
	deliverer Deliverer
	logger    *logging.Logger
	metrics   *metrics.SchedulerMetrics
	queue     chan Notification
	workers   int
	timeout   time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

var _ Notifier = (*Dispatcher)(nil)

func NewDispatcher(deliverer Deliverer, logger *logging.Logger) *Dispatcher {
	if deliverer == nil {
		panic("notify: deliverer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		deliverer: deliverer,
		logger:    logger,
		queue:     make(chan Notification, 256),
		workers:   2,
		timeout:   15 * time.Second,
	}
}

// WithBuffer sets the queue size. Call before Start.
func (d *Dispatcher) WithBuffer(n int) *Dispatcher {
	if n > 0 {
		d.queue = make(chan Notification, n)
	}
	return d
}

// WithWorkers sets the worker count. Call before Start.
func (d *Dispatcher) WithWorkers(n int) *Dispatcher {
	if n > 0 {
		d.workers = n
	}
	return d
}

// WithTimeout bounds a single delivery attempt.
func (d *Dispatcher) WithTimeout(t time.Duration) *Dispatcher {
	if t > 0 {
		d.timeout = t
	}
	return d
}

func (d *Dispatcher) WithMetrics(m *metrics.SchedulerMetrics) *Dispatcher {
	d.metrics = m
	return d
}

// Start launches the workers. Deliveries run on contexts detached from the
// request that triggered them.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

// Notify enqueues n. It never blocks and never fails the caller.
func (d *Dispatcher) Notify(_ context.Context, n Notification) {
	if err := n.Validate(); err != nil {
		d.logger.Warn("notification dropped: invalid", "kind", n.Kind, "error", err)
		d.metrics.ObserveNotification(string(n.Kind), "invalid")
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("notification dropped: dispatcher stopped", "kind", n.Kind)
		d.metrics.ObserveNotification(string(n.Kind), "dropped")
		return
	}
	select {
	case d.queue <- n:
	default:
		d.logger.Warn("notification dropped: queue full", "kind", n.Kind, "to", n.To)
		d.metrics.ObserveNotification(string(n.Kind), "dropped")
	}
}

// Stop closes the queue and waits for queued deliveries to finish or ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n Notification) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification delivery panicked", "kind", n.Kind, "panic", r)
			d.metrics.ObserveNotification(string(n.Kind), "failed")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.deliverer.Deliver(ctx, n); err != nil {
		d.logger.Error("notification delivery failed", "kind", n.Kind, "to", n.To, "error", err)
		d.metrics.ObserveNotification(string(n.Kind), "failed")
		return
	}
	d.metrics.ObserveNotification(string(n.Kind), "sent")
}
