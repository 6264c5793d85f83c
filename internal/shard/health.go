package shard

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type healthStatus struct {
	Status     string  `json:"status"`
	ShardID    string  `json:"shard_id"`
	UptimeSecs float64 `json:"uptime_secs"`
	Sessions   int64   `json:"sessions"`
	Goroutines int     `json:"goroutines"`
	MemoryMB   float64 `json:"memory_mb"`
	CPUPercent float64 `json:"cpu_percent"`
}

// handleHealth reports liveness plus the process stats an operator
// checks first when a shard misbehaves.
func (s *Shard) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := healthStatus{
		Status:     "ok",
		ShardID:    s.ID.String(),
		UptimeSecs: time.Since(s.startedAt).Seconds(),
		Sessions:   atomic.LoadInt64(&s.sessionCount),
		Goroutines: runtime.NumGoroutine(),
	}
	if status.Sessions >= int64(s.cfg.MaxConnections) {
		status.Status = "degraded"
	}
	if s.draining.Load() {
		status.Status = "draining"
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, merr := proc.MemoryInfo(); merr == nil {
			status.MemoryMB = float64(memInfo.RSS) / 1024 / 1024
		}
		if cpu, cerr := proc.CPUPercent(); cerr == nil {
			status.CPUPercent = cpu
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if status.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write health response")
	}
}
