// Package resourcestats reports host CPU/memory gauges alongside
// distributor metrics, grounded in the example pack's executor memory
// detection via gopsutil.
package resourcestats

import (
	"context"
	"runtime"
	"time"

	"duraq/pkg/logger"
	"duraq/pkg/metrics"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Report starts a background loop that updates metrics.WorkerCPUCount and
// metrics.WorkerMemoryTotalBytes every interval, until ctx is canceled.
func Report(ctx context.Context, interval time.Duration) {
	metrics.WorkerCPUCount.Set(float64(runtime.NumCPU()))
	updateMemory()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateMemory()
		}
	}
}

func updateMemory() {
	v, err := mem.VirtualMemory()
	if err != nil {
		logger.Debug("resourcestats: failed to read memory", zap.Error(err))
		return
	}
	metrics.WorkerMemoryTotalBytes.Set(float64(v.Total))
}
