// Package spec defines resource limits applied to one execution.
package spec

import "time"

// ResourceLimit bounds one isolated execution. Zero fields mean "use the default".
type ResourceLimit struct {
	Deadline    time.Duration `yaml:"deadline"`
	MemoryBytes int64         `yaml:"memory_bytes"`
	PidsLimit   int64         `yaml:"pids_limit"`
	NanoCPUs    int64         `yaml:"nano_cpus"`
}

// DefaultLimits mirrors the fixed caps every execution gets unless overridden.
func DefaultLimits() ResourceLimit {
	return ResourceLimit{
		Deadline:    30 * time.Second,
		MemoryBytes: 128 << 20,
		PidsLimit:   50,
	}
}

// Merge returns base with every non-zero field of override applied.
func Merge(base, override ResourceLimit) ResourceLimit {
	if override.Deadline > 0 {
		base.Deadline = override.Deadline
	}
	if override.MemoryBytes > 0 {
		base.MemoryBytes = override.MemoryBytes
	}
	if override.PidsLimit > 0 {
		base.PidsLimit = override.PidsLimit
	}
	if override.NanoCPUs > 0 {
		base.NanoCPUs = override.NanoCPUs
	}
	return base
}

// Scale applies per-language multipliers to time and memory.
func Scale(limits ResourceLimit, timeMultiplier, memoryMultiplier float64) ResourceLimit {
	if timeMultiplier > 0 && limits.Deadline > 0 {
		limits.Deadline = time.Duration(float64(limits.Deadline) * timeMultiplier)
	}
	if memoryMultiplier > 0 && limits.MemoryBytes > 0 {
		limits.MemoryBytes = int64(float64(limits.MemoryBytes) * memoryMultiplier)
	}
	return limits
}
