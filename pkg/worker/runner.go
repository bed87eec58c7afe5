package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
)

// failureLogThreshold is how many consecutive failures a worker
// accumulates before its errors escalate from Error to Warn-with-streak.
const failureLogThreshold = 3

// Worker is one unit of recurring background work
type Worker interface {
	// Name identifies the worker in logs
	Name() string
	// Run executes a single iteration
	Run(ctx context.Context) error
}

// PeriodicWorker drives a Worker on a fixed interval with a random
// start offset, so a fleet of identical workers does not hit external
// APIs in lockstep. Iteration errors are logged and the loop keeps
// going; only context cancellation stops it.
type PeriodicWorker struct {
	worker   Worker
	interval time.Duration
	done     chan struct{}
}

// NewPeriodicWorker wraps a worker with periodic execution
func NewPeriodicWorker(worker Worker, interval time.Duration) *PeriodicWorker {
	return &PeriodicWorker{
		worker:   worker,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the worker loop
func (pw *PeriodicWorker) Start(ctx context.Context) {
	go pw.loop(ctx)
}

// Stop blocks until the loop exits or the timeout passes
func (pw *PeriodicWorker) Stop(timeout time.Duration) {
	select {
	case <-pw.done:
		logger.Info("✅ Worker stopped", zap.String("worker", pw.worker.Name()))
	case <-time.After(timeout):
		logger.Warn("⚠️ Worker did not stop in time", zap.String("worker", pw.worker.Name()))
	}
}

func (pw *PeriodicWorker) loop(ctx context.Context) {
	defer close(pw.done)

	name := pw.worker.Name()
	logger.Info("🚀 Worker started",
		zap.String("worker", name),
		zap.Duration("interval", pw.interval),
	)

	// desynchronize fleet members before the first iteration
	offset := time.Duration(rand.Int63n(int64(pw.interval)/4 + 1))
	select {
	case <-ctx.Done():
		return
	case <-time.After(offset):
	}

	streak := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("🛑 Worker stopping", zap.String("worker", name))
			return
		case <-timer.C:
		}

		if err := pw.worker.Run(ctx); err != nil {
			streak++
			if streak >= failureLogThreshold {
				logger.Warn("⚠️ Worker failing repeatedly",
					zap.String("worker", name),
					zap.Int("streak", streak),
					zap.Error(err),
				)
			} else {
				logger.Error("worker iteration failed",
					zap.String("worker", name),
					zap.Error(err),
				)
			}
		} else {
			streak = 0
		}

		timer.Reset(pw.interval)
	}
}

// WorkerGroup owns a set of periodic workers sharing one lifecycle
type WorkerGroup struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers []*PeriodicWorker
	started bool
}

// NewWorkerGroup creates a group tied to the parent context
func NewWorkerGroup(ctx context.Context) *WorkerGroup {
	ctx, cancel := context.WithCancel(ctx)
	return &WorkerGroup{ctx: ctx, cancel: cancel}
}

// Add registers a worker. Workers added after Start begin immediately.
func (g *WorkerGroup) Add(worker Worker, interval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pw := NewPeriodicWorker(worker, interval)
	g.workers = append(g.workers, pw)
	if g.started {
		pw.Start(g.ctx)
	}
}

// Start launches every registered worker
func (g *WorkerGroup) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.started = true
	for _, pw := range g.workers {
		pw.Start(g.ctx)
	}

	logger.Info("🚀 Worker group started", zap.Int("workers", len(g.workers)))
}

// Stop cancels the group context and waits for every worker, giving
// each the remaining share of the timeout.
func (g *WorkerGroup) Stop(timeout time.Duration) {
	logger.Info("🛑 Stopping worker group", zap.Int("workers", len(g.workers)))
	g.cancel()

	deadline := time.Now().Add(timeout)
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, pw := range g.workers {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		pw.Stop(remaining)
	}

	logger.Info("✅ Worker group stopped")
}
