package inference

import (
	"github.com/shirou/gopsutil/v4/mem"
)

// MemoryEstimate represents memory usage estimation
type MemoryEstimate struct {
	EstimatedGB     float64
	AvailableGB     float64
	RecommendedSafe bool
}

// EstimateMemoryUsage estimates memory requirements for enhancing frames of
// width x height at scale, against currently available system memory.
func EstimateMemoryUsage(width, height, scale int) (*MemoryEstimate, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}
	return estimateMemory(width, height, scale, float64(vm.Available)/(1024*1024*1024)), nil
}

func estimateMemory(width, height, scale int, availableGB float64) *MemoryEstimate {
	const (
		dtypeSize      = 4   // float32 size in bytes
		modelMemoryGB  = 2.0 // Approximate model memory in GB
		overheadFactor = 1.5 // Processing overhead multiplier
		safetyMargin   = 0.8 // Use max 80% of available memory
	)

	inputMemory := float64(width * height * 3 * dtypeSize)
	outputMemory := float64((width * scale) * (height * scale) * 3 * dtypeSize)

	totalMemory := (inputMemory + outputMemory + modelMemoryGB*1024*1024*1024) * overheadFactor
	estimatedGB := totalMemory / (1024 * 1024 * 1024)

	return &MemoryEstimate{
		EstimatedGB:     estimatedGB,
		AvailableGB:     availableGB,
		RecommendedSafe: estimatedGB <= availableGB*safetyMargin,
	}
}
