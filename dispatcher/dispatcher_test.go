package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestScheduleRunsTask(t *testing.T) {
	cfg := DefaultConfig()
	s := New(cfg)
	defer s.Shutdown(context.Background())

	var ran bool
	var mu sync.Mutex
	s.Schedule(func() { mu.Lock(); ran = true; mu.Unlock() })

	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran
	})
}

func TestAdmissionRejectsWhenQueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers = map[Tier]TierConfig{
		Batch: {ConcurrencyLimit: 1, QueueLimit: 1, MinConcurrency: 1, MaxConcurrency: 1},
	}
	for _, tier := range []Tier{CPUIntensive, IOIntensive, LowLatency, Default} {
		cfg.Tiers[tier] = TierConfig{ConcurrencyLimit: 1, QueueLimit: 1, MinConcurrency: 1, MaxConcurrency: 1}
	}
	s := New(cfg)
	defer s.Shutdown(context.Background())

	block := make(chan struct{})
	ok1 := s.ScheduleTiered(Batch, func() { <-block })
	if !ok1 {
		t.Fatalf("expected first submission admitted")
	}
	// Give the dispatch loop a moment to pick up the running task so the
	// queue slot is genuinely free before we fill it.
	time.Sleep(20 * time.Millisecond)
	ok2 := s.ScheduleTiered(Batch, func() {})
	if !ok2 {
		t.Fatalf("expected second submission admitted into the now-empty queue")
	}
	ok3 := s.ScheduleTiered(Batch, func() {})
	if ok3 {
		t.Fatalf("expected third submission rejected: queue limit 1 already occupied")
	}
	close(block)

	snap := s.Snapshot()
	var rejected uint64
	for _, snp := range snap {
		if snp.Tier == Batch {
			rejected = snp.Rejected
		}
	}
	if rejected == 0 {
		t.Fatalf("expected rejection counted in metrics")
	}
}

// TestAdaptiveRebalance reproduces spec §8 scenario 3: CPU tier limit=4,
// offered load of IO tasks and CPU utilization 0.9 for a few ticks;
// expected CPU limit down by >=1 and IO limit up by >=1.
func TestAdaptiveRebalance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableAdaptive = true
	cfg.AdaptationInterval = 30 * time.Millisecond
	cfg.ElasticityFactor = 1
	cfg.TargetCPUUtilization = 0.5
	cfg.Tiers[CPUIntensive] = TierConfig{ConcurrencyLimit: 4, QueueLimit: 256, MinConcurrency: 1, MaxConcurrency: 8}
	cfg.Tiers[IOIntensive] = TierConfig{ConcurrencyLimit: 4, QueueLimit: 256, MinConcurrency: 1, MaxConcurrency: 32}
	cfg.Sampler = constSampler{LoadSample{CPUUtilization: 0.9, LoadAverage: 3}}

	s := New(cfg)
	defer s.Shutdown(context.Background())

	for i := 0; i < 100; i++ {
		s.ScheduleTiered(IOIntensive, func() { time.Sleep(80 * time.Millisecond) })
	}

	waitUntil(t, 2*time.Second, func() bool {
		var cpuLimit, ioLimit int
		for _, snp := range s.Snapshot() {
			if snp.Tier == CPUIntensive {
				cpuLimit = snp.ConcurrencyLimit
			}
			if snp.Tier == IOIntensive {
				ioLimit = snp.ConcurrencyLimit
			}
		}
		return cpuLimit <= 3 && ioLimit >= 5
	})
}

type constSampler struct{ sample LoadSample }

func (c constSampler) Sample() LoadSample { return c.sample }
