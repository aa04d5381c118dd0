package daemon

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/papercomputeco/engram/pkg/memory"
)

// healthInterval is how often the provider is probed.
const healthInterval = 30 * time.Second

// healthMonitor tracks provider reachability. Transitions are logged once,
// not on every failing probe, so a long outage doesn't flood the log.
type healthMonitor struct {
	provider memory.Provider
	logger   *slog.Logger
	degraded atomic.Bool
}

func newHealthMonitor(provider memory.Provider, logger *slog.Logger) *healthMonitor {
	return &healthMonitor{provider: provider, logger: logger}
}

// Degraded reports whether the provider failed its last probe.
func (h *healthMonitor) Degraded() bool {
	return h.degraded.Load()
}

// run probes until ctx is cancelled.
func (h *healthMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probe(ctx)
		}
	}
}

func (h *healthMonitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := h.provider.HealthCheck(probeCtx)
	cancel()

	if err != nil {
		if !h.degraded.Swap(true) {
			h.logger.Error("memory provider degraded, recall and storage paused", "error", err)
		}
		return
	}

	if h.degraded.Swap(false) {
		h.logger.Info("memory provider recovered")
	}
}
