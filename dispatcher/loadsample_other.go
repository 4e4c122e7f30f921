//go:build !linux

package dispatcher

import "runtime"

// platformSample is the portable fallback for non-Linux platforms, where
// golang.org/x/sys/unix.Sysinfo is unavailable; it approximates CPU
// pressure from goroutine count relative to GOMAXPROCS.
func platformSample() LoadSample {
	threads := float64(runtime.NumGoroutine())
	cpus := float64(runtime.GOMAXPROCS(0))
	cpuUtil := 0.0
	if cpus > 0 {
		cpuUtil = clamp01(threads / (cpus * 8))
	}
	return LoadSample{CPUUtilization: cpuUtil, ThreadCount: threads}
}
