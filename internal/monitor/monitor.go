package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"videra/pkg/models"
)

// Thresholds above which the host is reported busy.
const (
	busyCPUPercent = 80.0
	busyRAMPercent = 90.0
)

type SystemMonitor struct {
	sampleWindow time.Duration
}

func NewSystemMonitor() *SystemMonitor {
	return &SystemMonitor{sampleWindow: 200 * time.Millisecond}
}

// GetStats gathers real-time CPU and RAM usage.
func (m *SystemMonitor) GetStats(ctx context.Context) (models.HardwareStats, error) {
	stats := models.HardwareStats{}

	// 1. Get Memory Stats
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to get mem stats: %w", err)
	}
	stats.RAMPercent = v.UsedPercent

	// 2. Get CPU Percent over a short window
	cpuPct, err := cpu.PercentWithContext(ctx, m.sampleWindow, false)
	if err != nil {
		return stats, fmt.Errorf("failed to get cpu stats: %w", err)
	}
	if len(cpuPct) > 0 {
		stats.CPUPercent = cpuPct[0]
	}

	// 3. A software encode pins the CPU; flag it so operators see why
	// progress slows down.
	stats.IsBusy = isBusy(stats.CPUPercent, stats.RAMPercent)
	return stats, nil
}

func isBusy(cpuPercent, ramPercent float64) bool {
	return cpuPercent > busyCPUPercent || ramPercent > busyRAMPercent
}
