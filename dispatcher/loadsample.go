package dispatcher

// LoadSample is the "collaborator" struct of four floats the spec (§4.5
// step 1) requires the adaptive scheduler to sample each tick: CPU %,
// memory %, load average, and thread (goroutine, in this runtime) count.
type LoadSample struct {
	CPUUtilization    float64
	MemoryUtilization float64
	LoadAverage       float64
	ThreadCount       float64
}

// LoadSampler is the pluggable collaborator the adaptive loop queries.
type LoadSampler interface {
	Sample() LoadSample
}

// DefaultSampler is platform-probed: platformSample (loadsample_linux.go /
// loadsample_other.go) reads golang.org/x/sys/unix.Sysinfo on Linux for
// load average and memory, mirroring the teacher's platform-probe-with-
// portable-fallback pattern from its (now out-of-domain, deleted) NUMA
// placement code.
type DefaultSampler struct{}

func (DefaultSampler) Sample() LoadSample {
	return platformSample()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
