package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"groupchat/observability"
	"groupchat/runtime"
)

// StatsWorker periodically samples the process (CPU, RSS via the OS) and
// the registries, refreshes the monitoring manager, and logs a heartbeat
// line for the operator.
type StatsWorker struct {
	log            *slog.Logger
	monitoring     *observability.MonitoringManager
	sessions       *runtime.SessionRegistry
	groups         *runtime.GroupRegistry
	metricInterval time.Duration
}

func NewStatsWorker(
	log *slog.Logger,
	monitoring *observability.MonitoringManager,
	sessions *runtime.SessionRegistry,
	groups *runtime.GroupRegistry,
	metricInterval time.Duration,
) *StatsWorker {
	return &StatsWorker{
		log:            log,
		monitoring:     monitoring,
		sessions:       sessions,
		groups:         groups,
		metricInterval: metricInterval,
	}
}

func (w *StatsWorker) Run(ctx context.Context) error {
	w.log.Info("Starting stats worker", "interval", w.metricInterval)
	ticker := time.NewTicker(w.metricInterval)
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
			w.monitoring.UpdateRegistries(w.sessions.Count(), w.groups.Count())
			w.monitoring.Refresh()

			rss, cpu, err := getSelfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}

			stats := w.monitoring.GetLatest()
			w.log.Info("Server stats",
				"sessions", stats.SessionsOnline,
				"groups", stats.GroupsActive,
				"msg_per_sec", stats.MessagesPerSec,
				"group_messages", stats.GroupMessages,
				"direct_messages", stats.DirectMessages,
				"censored", stats.CensoredCount,
				"alloc_mb", stats.AllocMemMb,
				"num_gc", stats.NumGC,
				"rss_mb", rss/1024/1024,
				"cpu_percent", cpu,
			)
		}
	}
}

// getSelfStats retrieves memory and CPU usage of the server process.
func getSelfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
