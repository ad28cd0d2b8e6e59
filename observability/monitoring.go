package observability

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ServerStats aggregates the metrics reported by the stats worker.
type ServerStats struct {
	SessionsOnline int     `json:"sessions_online"`
	GroupsActive   int     `json:"groups_active"`
	MessagesPerSec float64 `json:"messages_per_sec"`
	GroupMessages  uint64  `json:"group_messages"`
	DirectMessages uint64  `json:"direct_messages"`
	CensoredCount  uint64  `json:"censored_count"`
	AllocMemMb     uint64  `json:"alloc_mem_mb"`
	NumGC          uint32  `json:"num_gc"`
}

// MonitoringManager collects telemetry from the hot paths. Counters are
// atomic so the dispatcher never blocks on a metrics lock.
type MonitoringManager struct {
	log         *slog.Logger
	mu          sync.RWMutex
	latestStats ServerStats

	groupMessages  uint64
	directMessages uint64
	censoredCount  uint64
	windowMessages uint64
	lastCheck      time.Time
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{
		log:       log,
		lastCheck: time.Now(),
	}
}

func (mm *MonitoringManager) IncrGroupMessage() {
	atomic.AddUint64(&mm.groupMessages, 1)
	atomic.AddUint64(&mm.windowMessages, 1)
}

func (mm *MonitoringManager) IncrDirectMessage() {
	atomic.AddUint64(&mm.directMessages, 1)
	atomic.AddUint64(&mm.windowMessages, 1)
}

func (mm *MonitoringManager) IncrCensored() {
	atomic.AddUint64(&mm.censoredCount, 1)
}

// UpdateRegistries records the current registry sizes. Called by the
// stats worker on every tick.
func (mm *MonitoringManager) UpdateRegistries(sessions, groups int) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.latestStats.SessionsOnline = sessions
	mm.latestStats.GroupsActive = groups
}

// Refresh recomputes the windowed throughput and the Go runtime metrics.
func (mm *MonitoringManager) Refresh() {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	now := time.Now()
	duration := now.Sub(mm.lastCheck).Seconds()
	if duration > 0 {
		window := atomic.SwapUint64(&mm.windowMessages, 0)
		mm.latestStats.MessagesPerSec = float64(window) / duration
	}
	mm.lastCheck = now

	mm.latestStats.GroupMessages = atomic.LoadUint64(&mm.groupMessages)
	mm.latestStats.DirectMessages = atomic.LoadUint64(&mm.directMessages)
	mm.latestStats.CensoredCount = atomic.LoadUint64(&mm.censoredCount)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	mm.latestStats.AllocMemMb = m.Alloc / 1024 / 1024
	mm.latestStats.NumGC = m.NumGC

	mm.log.Debug("Stats refreshed",
		"msg_per_sec", mm.latestStats.MessagesPerSec,
		"group_messages", mm.latestStats.GroupMessages,
		"alloc_mb", mm.latestStats.AllocMemMb,
	)
}

func (mm *MonitoringManager) GetLatest() ServerStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.latestStats
}
