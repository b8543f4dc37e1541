package reliability

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// HealthSample is a point-in-time process/host reading attached to the
// scheduler heartbeat and exposed on the read-only status endpoint.
type HealthSample struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemPercent    float64   `json:"mem_percent"`
	UptimeSeconds uint64    `json:"uptime_seconds"`
	SampledAt     time.Time `json:"sampled_at"`
}

// SampleHealth takes a fast (100ms) CPU sample plus an instant memory
// and host-uptime read. Errors degrade to zero values rather than
// failing the caller: a health probe must never block a trading cycle.
func SampleHealth() HealthSample {
	sample := HealthSample{SampledAt: time.Now()}

	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		sample.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sample.MemPercent = vm.UsedPercent
	}
	if info, err := host.Info(); err == nil {
		sample.UptimeSeconds = info.Uptime
	}
	return sample
}
