//go:build linux

package dispatcher

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// platformSample reads kernel load/memory stats via golang.org/x/sys/unix,
// the same dependency the teacher's go.mod already carries for its
// platform syscall shims, here exercising its Sysinfo binding instead.
func platformSample() LoadSample {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return LoadSample{ThreadCount: float64(runtime.NumGoroutine())}
	}
	// Loads[0] is the 1-minute load average in Linux's fixed-point format
	// (scaled by 1<<16), per sysinfo(2).
	const scale = 1 << 16
	loadAvg := float64(info.Loads[0]) / scale

	total := float64(info.Totalram) * float64(info.Unit)
	free := float64(info.Freeram) * float64(info.Unit)
	memUtil := 0.0
	if total > 0 {
		memUtil = clamp01((total - free) / total)
	}

	cpus := float64(runtime.GOMAXPROCS(0))
	cpuUtil := 0.0
	if cpus > 0 {
		cpuUtil = clamp01(loadAvg / cpus)
	}

	return LoadSample{
		CPUUtilization:    cpuUtil,
		MemoryUtilization: memUtil,
		LoadAverage:       loadAvg,
		ThreadCount:       float64(runtime.NumGoroutine()),
	}
}
