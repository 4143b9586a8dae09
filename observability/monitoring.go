package observability

import (
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"
)

// Stats aggregates the live counters plus process memory for reporting.
type Stats struct {
	EventsHandled        uint64 `json:"events_handled"`
	DuplicatesSuppressed uint64 `json:"duplicates_suppressed"`
	PairingsMade         uint64 `json:"pairings_made"`
	SessionsEnded        uint64 `json:"sessions_ended"`
	DeliveryFailures     uint64 `json:"delivery_failures"`
	PingsSent            uint64 `json:"pings_sent"`

	AllocMemMb uint64 `json:"alloc_mem_mb"`
	NumGC      uint32 `json:"num_gc"`
	Uptime     string `json:"uptime"`
}

// MonitoringManager collects real-time telemetry with atomic counters.
// Every mutation is lock-free; Snapshot is cheap enough to call from the
// heartbeat loop.
type MonitoringManager struct {
	log     *slog.Logger
	started time.Time

	eventsHandled        atomic.Uint64
	duplicatesSuppressed atomic.Uint64
	pairingsMade         atomic.Uint64
	sessionsEnded        atomic.Uint64
	deliveryFailures     atomic.Uint64
	pingsSent            atomic.Uint64
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log, started: time.Now()}
}

func (m *MonitoringManager) IncHandled()           { m.eventsHandled.Add(1) }
func (m *MonitoringManager) IncDuplicate()         { m.duplicatesSuppressed.Add(1) }
func (m *MonitoringManager) IncPairing()           { m.pairingsMade.Add(1) }
func (m *MonitoringManager) IncSessionEnded()      { m.sessionsEnded.Add(1) }
func (m *MonitoringManager) IncDeliveryFailure()   { m.deliveryFailures.Add(1) }
func (m *MonitoringManager) AddPingsSent(n uint64) { m.pingsSent.Add(n) }

func (m *MonitoringManager) Snapshot() Stats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return Stats{
		EventsHandled:        m.eventsHandled.Load(),
		DuplicatesSuppressed: m.duplicatesSuppressed.Load(),
		PairingsMade:         m.pairingsMade.Load(),
		SessionsEnded:        m.sessionsEnded.Load(),
		DeliveryFailures:     m.deliveryFailures.Load(),
		PingsSent:            m.pingsSent.Load(),
		AllocMemMb:           mem.Alloc / 1024 / 1024,
		NumGC:                mem.NumGC,
		Uptime:               time.Since(m.started).Round(time.Second).String(),
	}
}
