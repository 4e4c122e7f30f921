package dispatcher

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// adaptiveLoop is the periodic reconfiguration loop described at
// SPEC_FULL.md §4.5: "Layered + adaptive are one scheduler, two modes" per
// spec.md §9 — it holds a reference to the same Scheduler rather than
// subclassing it, and only runs when Config.EnableAdaptive is true.
type adaptiveLoop struct {
	s      *Scheduler
	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
}

func newAdaptiveLoop(s *Scheduler) *adaptiveLoop {
	return &adaptiveLoop{
		s:      s,
		ticker: time.NewTicker(s.cfg.AdaptationInterval),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (a *adaptiveLoop) start() {
	go func() {
		defer close(a.doneCh)
		for {
			select {
			case <-a.stopCh:
				a.ticker.Stop()
				return
			case <-a.ticker.C:
				a.tick()
			}
		}
	}()
}

func (a *adaptiveLoop) stop() {
	close(a.stopCh)
	<-a.doneCh
}

// tick applies one rebalance pass: sample load, sample per-tier metrics,
// apply the rule set, write back clamped new concurrency limits.
func (a *adaptiveLoop) tick() {
	load := a.s.cfg.Sampler.Sample()
	snap := a.s.Snapshot()
	target := a.s.cfg.TargetCPUUtilization
	elasticity := a.s.cfg.ElasticityFactor

	deltas := make(map[Tier]int, len(snap))

	cpuDelta := load.CPUUtilization - target
	switch {
	case cpuDelta > 0.1:
		deltas[CPUIntensive] += -1
		deltas[IOIntensive] += 1
	case cpuDelta < -0.1:
		deltas[CPUIntensive] += 1
	}

	for _, snp := range snap {
		if snp.QueueLength > 3*snp.ActiveCount {
			deltas[snp.Tier]++
		} else if snp.QueueLength == 0 && snp.ActiveCount < 2 {
			deltas[snp.Tier]--
		}
		if snp.Tier == LowLatency && snp.AvgProcessingMs > 100 {
			deltas[LowLatency]++
		}
		if snp.Tier == Batch {
			if load.LoadAverage > 2 {
				deltas[Batch]--
			} else if load.LoadAverage < 1 && snp.QueueLength > 0 {
				deltas[Batch]++
			}
		}
	}

	for _, t := range AllTiers {
		raw := deltas[t]
		if raw == 0 {
			continue
		}
		scaled := int(math.Round(float64(raw) * elasticity))
		if scaled == 0 {
			if raw > 0 {
				scaled = 1
			} else {
				scaled = -1
			}
		}
		ts := a.s.tiers[t]
		next := int(ts.limit.Load()) + scaled
		if next < ts.minConc {
			next = ts.minConc
		}
		if next > ts.maxConc {
			next = ts.maxConc
		}
		if next != int(ts.limit.Load()) {
			a.s.log.Debug("adaptive scheduler rebalanced tier",
				zap.String("tier", t.String()), zap.Int("from", int(ts.limit.Load())), zap.Int("to", next))
			ts.setLimit(next)
		}
	}
}
