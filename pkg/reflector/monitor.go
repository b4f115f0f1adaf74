package reflector

import (
	"context"
	"runtime"
	"time"

	"github.com/dbehnke/ysf-nexus/pkg/config"
	"github.com/dbehnke/ysf-nexus/pkg/logger"
)

// Monitor samples process memory and reacts to pressure by expiring idle
// sessions and streams ahead of their normal timeouts. It never kills the
// process; shedding load is the only response.
type Monitor struct {
	cfg      config.ResourceConfig
	log      *logger.Logger
	server   *Server
	baseline uint64
}

// NewMonitor creates a resource monitor bound to a reflector server
func NewMonitor(cfg config.ResourceConfig, server *Server, log *logger.Logger) *Monitor {
	return &Monitor{
		cfg:    cfg,
		log:    log.WithComponent("monitor"),
		server: server,
	}
}

// Run samples until ctx is cancelled. It blocks; callers run it in its
// own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	if !m.cfg.Enabled {
		return
	}

	m.baseline = heapAlloc()
	m.log.Info("Resource monitor started",
		logger.Uint64("baseline_heap", m.baseline))

	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkOnce(time.Now())
		}
	}
}

// checkOnce runs one sampling pass
func (m *Monitor) checkOnce(now time.Time) {
	heap := heapAlloc()

	pressured := false
	if m.cfg.MaxHeapBytes > 0 && heap > m.cfg.MaxHeapBytes {
		pressured = true
		m.log.Warn("Heap over absolute ceiling",
			logger.Uint64("heap", heap),
			logger.Uint64("ceiling", m.cfg.MaxHeapBytes))
	}
	if !pressured && m.cfg.GrowthPercent > 0 && m.baseline > 0 {
		limit := m.baseline + m.baseline*uint64(m.cfg.GrowthPercent)/100
		if heap > limit {
			pressured = true
			m.log.Warn("Heap grew past threshold",
				logger.Uint64("heap", heap),
				logger.Uint64("baseline", m.baseline))
		}
	}

	if !pressured {
		// Track a slowly-moving baseline so gradual legitimate growth
		// does not trip the relative check forever.
		if heap > m.baseline {
			m.baseline = heap
		}
		return
	}

	m.shed(now)
	m.baseline = heapAlloc()
}

// shed expires idle streams with a tightened window and sweeps clients
// with half their usual timeout
func (m *Monitor) shed(now time.Time) {
	streams := m.server.Streams().SweepIdle(now, m.cfg.IdleWindow)
	clients := m.server.Registry().SweepTimeouts(now, m.server.cfg.Timeouts.Client/2)
	m.log.Warn("Shed idle load under memory pressure",
		logger.Int("streams_closed", streams),
		logger.Int("clients_expired", clients))
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
