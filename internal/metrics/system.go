package metrics

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// StartProcessSampler periodically refreshes the process CPU/RSS gauges
// until ctx is cancelled. Grounded on go-server's SystemMetrics.updateCPUMetrics
// exponential-smoothing approach, adapted to push straight into Prometheus
// gauges instead of an intermediate polled struct.
func (r *Registry) StartProcessSampler(ctx context.Context, logger *zap.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn("process sampler disabled", zap.Error(err))
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var smoothedCPU float64
		const alpha = 0.3

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
					if smoothedCPU == 0 {
						smoothedCPU = pct
					} else {
						smoothedCPU = alpha*pct + (1-alpha)*smoothedCPU
					}
					r.ProcessCPUPercent.Set(smoothedCPU)
				} else {
					logger.Debug("cpu sample failed", zap.Error(err))
				}

				if mem, err := proc.MemoryInfoWithContext(ctx); err == nil {
					r.ProcessRSSBytes.Set(float64(mem.RSS))
				} else {
					logger.Debug("memory sample failed", zap.Error(err))
				}
			}
		}
	}()
}
