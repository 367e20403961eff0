package engine

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryProbe returns the percentage of system memory currently in use.
type MemoryProbe func(ctx context.Context) (float64, error)

// SystemMemory reads the used percentage of virtual memory from the operating system.
func SystemMemory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// watchMemory polls memory use while the engine runs and treats crossing the configured threshold
// during a recording as a memory warning.
func (e *Engine) watchMemory(ctx context.Context) {
	threshold := e.cfg.Memory.WarnUsedPercent
	interval := e.cfg.Memory.Interval()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.clock.After(interval):
		}

		used, err := e.memoryProbe(ctx)
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Debugw("cannot read memory usage", "error", err)
			}
			continue
		}
		if used >= threshold && e.IsRecording() {
			e.logger.Debugw("memory use above threshold", "used_percent", used, "threshold_percent", threshold)
			e.HandleMemoryWarning()
		}
	}
}
