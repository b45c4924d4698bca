package rendition

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/soycharroup/memoryreel/internal/event"
	"github.com/soycharroup/memoryreel/internal/metrics"
	"github.com/soycharroup/memoryreel/pkg/logger"
)

var monitorLog = logger.Get("MemMonitor")

type (
	MonitorConfig struct {
		HighWaterBytes uint64        `yaml:"high_water_bytes" env:"MEMORY_HIGH_WATER_BYTES" env-default:"1073741824"`
		SampleInterval time.Duration `yaml:"sample_interval" env:"MEMORY_SAMPLE_INTERVAL" env-default:"5s"`
	}

	// MemoryMonitor periodically samples the resident memory of this
	// process. Crossing the high-water mark is non-fatal: a warning is
	// emitted (log, gauge and event bus) and the pressure flag is raised so
	// the orchestrator can shed load by reducing concurrency for new
	// submissions. Processing already in flight is never interrupted.
	MemoryMonitor struct {
		config   MonitorConfig
		eventBus event.EventDispatcher
		pressure atomic.Bool
		proc     *process.Process
	}
)

func NewMemoryMonitor(config MonitorConfig, eventBus event.EventDispatcher) (*MemoryMonitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	return &MemoryMonitor{
		config:   config,
		eventBus: eventBus,
		proc:     proc,
	}, nil
}

// Run samples on the configured interval until the provided context is
// cancelled.
func (monitor *MemoryMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(monitor.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			monitor.sample()
		case <-ctx.Done():
			return nil
		}
	}
}

// UnderPressure reports whether the most recent sample was above the
// high-water mark.
func (monitor *MemoryMonitor) UnderPressure() bool {
	return monitor.pressure.Load()
}

func (monitor *MemoryMonitor) sample() {
	info, err := monitor.proc.MemoryInfo()
	if err != nil {
		monitorLog.Debugf("Failed to sample process memory: %v\n", err)
		return
	}

	metrics.MemoryUsageBytes.Set(float64(info.RSS))

	wasUnderPressure := monitor.pressure.Load()
	underPressure := info.RSS >= monitor.config.HighWaterBytes
	monitor.pressure.Store(underPressure)

	if underPressure && !wasUnderPressure {
		monitorLog.Warnf("Process memory %d bytes crossed high-water mark of %d bytes; new submissions will be shed\n", info.RSS, monitor.config.HighWaterBytes)
		metrics.MemoryPressure.Set(1)
		if monitor.eventBus != nil {
			monitor.eventBus.Dispatch(event.MemoryPressureEvent, info.RSS)
		}
	} else if !underPressure && wasUnderPressure {
		monitorLog.Infof("Process memory %d bytes back below high-water mark\n", info.RSS)
		metrics.MemoryPressure.Set(0)
	}
}
