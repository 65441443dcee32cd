// Package nerdstats snapshots Go runtime figures for the status endpoint and
// the shutdown report.
package nerdstats

import (
	"runtime"
	"runtime/debug"
	"time"

	"github.com/thushan/olla-link/pkg/format"
)

const (
	PressureLow    = "low"
	PressureMedium = "medium"
	PressureHigh   = "high"

	GoroutinesHealthy    = "healthy"
	GoroutinesNormal     = "normal"
	GoroutinesElevated   = "elevated"
	GoroutinesConcerning = "concerning"
)

// Stats is a point in time view of the process. See runtime.MemStats for
// what each memory figure means.
type Stats struct {
	LastGC        time.Time     `json:"last_gc"`
	GoVersion     string        `json:"go_version"`
	HeapAlloc     uint64        `json:"heap_alloc"`
	HeapSys       uint64        `json:"heap_sys"`
	HeapInuse     uint64        `json:"heap_inuse"`
	TotalAlloc    uint64        `json:"total_alloc"`
	Mallocs       uint64        `json:"mallocs"`
	Frees         uint64        `json:"frees"`
	TotalGCPause  time.Duration `json:"total_gc_pause"`
	Uptime        time.Duration `json:"uptime"`
	GCCPUFraction float64       `json:"gc_cpu_fraction"`
	Goroutines    int           `json:"goroutines"`
	NumCPU        int           `json:"num_cpu"`
	GOMAXPROCS    int           `json:"gomaxprocs"`
	NumGC         uint32        `json:"num_gc"`
}

func Snapshot(startTime time.Time) Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := Stats{
		HeapAlloc:     m.HeapAlloc,
		HeapSys:       m.HeapSys,
		HeapInuse:     m.HeapInuse,
		TotalAlloc:    m.TotalAlloc,
		Mallocs:       m.Mallocs,
		Frees:         m.Frees,
		NumGC:         m.NumGC,
		GCCPUFraction: m.GCCPUFraction,
		Goroutines:    runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
		GoVersion:     runtime.Version(),
		Uptime:        time.Since(startTime),
	}
	if m.LastGC > 0 {
		stats.LastGC = time.Unix(0, int64(m.LastGC))
		stats.TotalGCPause = time.Duration(m.PauseTotalNs)
	}
	return stats
}

// MemoryPressure is a rough reading of heap use against what the OS gave us
func (s Stats) MemoryPressure() string {
	if s.HeapSys == 0 {
		return PressureLow
	}
	heapRatio := float64(s.HeapInuse) / float64(s.HeapSys)
	allocsPerFree := float64(s.Mallocs) / float64(s.Frees+1)

	switch {
	case heapRatio > 0.9 && allocsPerFree > 1.5:
		return PressureHigh
	case heapRatio > 0.7 || allocsPerFree > 1.2:
		return PressureMedium
	default:
		return PressureLow
	}
}

// GoroutineHealth flags runaway goroutine counts. The adapter itself only
// needs a handful plus one per in-flight request.
func (s Stats) GoroutineHealth() string {
	switch {
	case s.Goroutines > 1000:
		return GoroutinesConcerning
	case s.Goroutines > 500:
		return GoroutinesElevated
	case s.Goroutines > 100:
		return GoroutinesNormal
	default:
		return GoroutinesHealthy
	}
}

func (s Stats) AverageGCPause() string {
	if s.NumGC == 0 {
		return "n/a"
	}
	return format.Latency(s.TotalGCPause / time.Duration(s.NumGC))
}

// BuildSettings picks the interesting entries from the embedded build info
func BuildSettings() map[string]string {
	out := make(map[string]string)
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	out["path"] = info.Path
	out["main_version"] = info.Main.Version
	for _, setting := range info.Settings {
		switch setting.Key {
		case "CGO_ENABLED", "GOARCH", "GOOS", "vcs.revision", "vcs.time":
			out[setting.Key] = setting.Value
		}
	}
	return out
}
