package pipelinecfg

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostInfo summarizes the fields of the host's CPU/memory shape that size
// a default executor pool and an allocator block count.
type HostInfo struct {
	CPUCores        int
	MemoryTotal     uint64
	MemoryAvailable uint64
}

// CollectHostInfo queries the running host. A failed individual probe
// leaves its field zero rather than failing the whole collection, matching
// the teacher's stats collector's per-probe error tolerance.
func CollectHostInfo(ctx context.Context) (HostInfo, error) {
	var info HostInfo

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUCores = cores
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryAvailable = vm.Available
	}

	if info.CPUCores == 0 {
		return info, fmt.Errorf("pipelinecfg: unable to determine host CPU count")
	}
	return info, nil
}

// DefaultPoolSize picks a worker-pool executor size from the host's CPU
// count: one worker per core, with a floor of 1 for single-core hosts.
func (h HostInfo) DefaultPoolSize() int {
	if h.CPUCores < 1 {
		return 1
	}
	return h.CPUCores
}

// DefaultAllocBlocks scales an allocator block count up slightly on larger
// hosts: base is returned unchanged for 4 cores or fewer, and one block is
// added for every two cores beyond four. The result has no upper cap.
func (h HostInfo) DefaultAllocBlocks(base int) int {
	if h.CPUCores <= 4 {
		return base
	}
	extra := (h.CPUCores - 4) / 2
	return base + extra
}
