package fraud

import (
	"context"
	"log/slog"
	"time"
)

// Timer periodically runs the cluster and dump sweeps.
type Timer struct {
	engine   *Engine
	monitor  *DumpMonitor
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewTimer creates the fraud sweep timer.
func NewTimer(engine *Engine, monitor *DumpMonitor, logger *slog.Logger) *Timer {
	return &Timer{
		engine:   engine,
		monitor:  monitor,
		interval: 10 * time.Minute,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) sweep(ctx context.Context) {
	clusters, err := t.engine.RunClusterSweep(ctx)
	if err != nil {
		t.logger.Warn("cluster sweep failed", "error", err)
	} else if len(clusters) > 0 {
		t.logger.Info("cluster sweep done", "clusters", len(clusters))
	}

	if t.monitor != nil {
		dumps, err := t.monitor.Sweep(ctx)
		if err != nil {
			t.logger.Warn("dump sweep failed", "error", err)
		} else if dumps > 0 {
			t.logger.Info("dump sweep done", "new_records", dumps)
		}
	}
}
