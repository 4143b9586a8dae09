package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"haggle-lab/observability"
)

// HeartbeatWorker periodically logs process health (CPU, RSS, status) next
// to the domain counters so a single log line tells whether the bot is
// alive and what it has been doing.
type HeartbeatWorker struct {
	log        *slog.Logger
	monitoring *observability.MonitoringManager
	interval   time.Duration
}

func NewHeartbeatWorker(log *slog.Logger, monitoring *observability.MonitoringManager, interval time.Duration) *HeartbeatWorker {
	return &HeartbeatWorker{log: log, monitoring: monitoring, interval: interval}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cpu, err := p.CPUPercent()
			if err != nil {
				w.log.Error("Error while finding process cpu usage", "err", err)
				continue
			}
			mem, err := p.MemoryInfo()
			if err != nil {
				w.log.Error("Error while finding process ram usage", "err", err)
				continue
			}
			stats := w.monitoring.Snapshot()
			w.log.Info("Heartbeat",
				"cpu_percent", cpu,
				"rss_mb", mem.RSS/1024/1024,
				"alloc_mb", stats.AllocMemMb,
				"num_gc", stats.NumGC,
				"uptime", stats.Uptime,
				"events_handled", stats.EventsHandled,
				"duplicates_suppressed", stats.DuplicatesSuppressed,
				"pairings_made", stats.PairingsMade,
				"sessions_ended", stats.SessionsEnded,
				"delivery_failures", stats.DeliveryFailures,
				"pings_sent", stats.PingsSent)
		}
	}
}
