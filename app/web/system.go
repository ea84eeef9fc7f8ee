package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/umputun/wirecutter/app/store"
)

// APISystemResponse is the JSON response for host resource usage
type APISystemResponse struct {
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryPercent   float64 `json:"memory_percent"`
	Load1           float64 `json:"load1"`
	Load5           float64 `json:"load5"`
	Load15          float64 `json:"load15"`
	DiskFreePercent float64 `json:"disk_free_percent"`
}

// cpuSampleInterval is the window used to measure CPU usage
const cpuSampleInterval = 200 * time.Millisecond

// handleHealth checks both database pools
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.health(ctx); err != nil {
		log.Printf("[WARN] health check failed: %v", err)
		s.writeJSONError(w, http.StatusServiceUnavailable, store.KindStorage, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSystem reports cpu, memory, load and disk usage of the host
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	resp, err := systemStats(r.Context(), "/")
	if err != nil {
		log.Printf("[WARN] failed to collect system stats: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "system", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func systemStats(ctx context.Context, diskPath string) (APISystemResponse, error) {
	var res APISystemResponse

	cpuPercent, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
	if err != nil {
		return res, fmt.Errorf("failed to get CPU: %w", err)
	}
	if len(cpuPercent) > 0 {
		res.CPUPercent = cpuPercent[0]
	}

	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to get memory: %w", err)
	}
	res.MemoryPercent = v.UsedPercent

	loads, err := load.AvgWithContext(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to get load average: %w", err)
	}
	res.Load1, res.Load5, res.Load15 = loads.Load1, loads.Load5, loads.Load15

	usage, err := disk.UsageWithContext(ctx, diskPath)
	if err != nil {
		return res, fmt.Errorf("failed to get disk usage for %s: %w", diskPath, err)
	}
	res.DiskFreePercent = 100 - usage.UsedPercent

	return res, nil
}
