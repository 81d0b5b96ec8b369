package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// ResourceUsage is the process footprint reported next to the broker
// counters in Info. CPUPercent is averaged over the interval since the
// previous Info call and is zero on the first one.
type ResourceUsage struct {
	CPUPercent float64 `json:"cpu_percent"`
	HeapBytes  uint64  `json:"heap_bytes"`
	Goroutines int     `json:"goroutines"`
	GCCycles   uint64  `json:"gc_cycles"`
}

const (
	sampleCPU        = "/sched/cpu:seconds"
	sampleHeap       = "/memory/classes/heap/objects:bytes"
	sampleGoroutines = "/sched/goroutines:goroutines"
	sampleGCCycles   = "/gc/cycles/total:gc-cycles"
)

// usageSampler reads ResourceUsage from runtime/metrics.
type usageSampler struct {
	mu      sync.Mutex
	samples []metrics.Sample
	numCPU  float64

	prevCPU float64
	prevAt  time.Time
}

func newUsageSampler() *usageSampler {
	return &usageSampler{numCPU: float64(runtime.NumCPU())}
}

func (u *usageSampler) Snapshot() ResourceUsage {
	if u == nil {
		return ResourceUsage{}
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.samples == nil {
		u.samples = []metrics.Sample{
			{Name: sampleCPU},
			{Name: sampleHeap},
			{Name: sampleGoroutines},
			{Name: sampleGCCycles},
		}
	}
	metrics.Read(u.samples)
	now := time.Now()

	usage := ResourceUsage{
		HeapBytes:  sampleUint(u.samples[1]),
		Goroutines: int(sampleUint(u.samples[2])),
		GCCycles:   sampleUint(u.samples[3]),
	}
	if usage.Goroutines == 0 {
		usage.Goroutines = runtime.NumGoroutine()
	}

	if cpu := u.samples[0].Value; cpu.Kind() == metrics.KindFloat64 {
		seconds := cpu.Float64()
		if !u.prevAt.IsZero() {
			usage.CPUPercent = cpuPercent(seconds-u.prevCPU, now.Sub(u.prevAt), u.numCPU)
		}
		u.prevCPU = seconds
	}
	u.prevAt = now
	return usage
}

func sampleUint(s metrics.Sample) uint64 {
	if s.Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s.Value.Uint64()
}

func cpuPercent(cpuSeconds float64, wall time.Duration, numCPU float64) float64 {
	if wall <= 0 || numCPU <= 0 || cpuSeconds < 0 {
		return 0
	}
	return cpuSeconds / wall.Seconds() / numCPU * 100
}
