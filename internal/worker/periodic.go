// Package worker runs background jobs on a fixed interval.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/polyclinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

// Job is one iteration of a background task. It returns how many items it handled.
type Job func(ctx context.Context) (int, error)

// Periodic runs a Job immediately on Start and then every interval until Stop.
type Periodic struct {
	name     string
	interval time.Duration
	job      Job
	logger   *logging.Logger
	metrics  *metrics.SchedulerMetrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPeriodic(name string, interval time.Duration, job Job, logger *logging.Logger) *Periodic {
	if job == nil {
		panic("worker: job cannot be nil")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Periodic{name: name, interval: interval, job: job, logger: logger}
}

func (p *Periodic) WithMetrics(m *metrics.SchedulerMetrics) *Periodic {
	p.metrics = m
	return p
}

func (p *Periodic) Name() string { return p.name }

// Start launches the loop. Calling Start on a running worker is a no-op.
func (p *Periodic) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
	p.logger.Info("worker started", "job", p.name, "interval", p.interval.String())
}

// Stop cancels the loop and waits for the current iteration to return.
func (p *Periodic) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("worker stopped", "job", p.name)
}

func (p *Periodic) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single iteration. Panics are recovered and reported as errors.
func (p *Periodic) RunOnce(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: %s panicked: %v", p.name, r)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
			if ctx.Err() == nil {
				p.logger.Error("worker iteration failed", "job", p.name, "error", err)
			}
		}
		p.metrics.ObserveSweep(p.name, outcome, n)
	}()
	return p.job(ctx)
}
