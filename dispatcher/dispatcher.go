// Package dispatcher implements the dispatcher, layered scheduler, and
// adaptive scheduler of SPEC_FULL.md §4.5. It is grounded on the teacher's
// internal/runtime/actor_system.go ActorScheduler (CPU-affinity worker
// pool, work stealing, least-loaded-worker selection, per-worker queue
// introspection) but restructured: the teacher has one flat pool of
// workers; this package classifies tasks into five independent tiers, each
// with its own bounded queue and a concurrency budget gated by a
// golang.org/x/sync/semaphore.Weighted, and layers a periodic adaptive
// rebalance loop on top — "one structure with a boolean 'adaptation
// enabled'" per spec.md §9's design note, not an inheritance chain.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orizon-lang/orizon-actors/ring"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// TaskFunc is a unit of work the dispatcher runs.
type TaskFunc func()

// ClassifyFunc is the shape of a tier-classification hook. The Scheduler
// does not take or call one: untagged tasks submitted through Schedule
// always go to the Default tier.
type ClassifyFunc func() Tier

// Config configures the layered/adaptive scheduler, per SPEC_FULL.md §6.
type Config struct {
	Tiers                     map[Tier]TierConfig
	EnableAdaptive            bool
	AdaptationInterval        time.Duration
	MinConcurrency            int
	MaxConcurrency            int
	TargetCPUUtilization      float64
	ElasticityFactor          float64
	MetricsCollectionInterval time.Duration
	Debug                     bool
	Logger                    *zap.Logger
	Sampler                   LoadSampler
}

// DefaultConfig mirrors the teacher's DefaultSchedulerConfig-style
// constructor: sane defaults a caller can selectively override.
func DefaultConfig() Config {
	return Config{
		Tiers:                     defaultTierConfigs(),
		EnableAdaptive:            false,
		AdaptationInterval:        2 * time.Second,
		MinConcurrency:            1,
		MaxConcurrency:            64,
		TargetCPUUtilization:      0.7,
		ElasticityFactor:          0.5,
		MetricsCollectionInterval: time.Second,
	}
}

type tierMetrics struct {
	mu              sync.Mutex
	completed       uint64
	rejected        uint64
	avgProcessingMs float64
	utilization     float64
	peakUtilization float64
}

func (m *tierMetrics) recordCompletion(d time.Duration, active, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
	ms := float64(d.Microseconds()) / 1000.0
	const alpha = 0.2 // EWMA smoothing, same shape as the teacher's latency smoothing in metrics.go
	if m.avgProcessingMs == 0 {
		m.avgProcessingMs = ms
	} else {
		m.avgProcessingMs = alpha*ms + (1-alpha)*m.avgProcessingMs
	}
	m.sampleUtilization(active, limit)
}

func (m *tierMetrics) recordRejection() {
	m.mu.Lock()
	m.rejected++
	m.mu.Unlock()
}

func (m *tierMetrics) sampleUtilization(active, limit int) {
	u := 0.0
	if limit > 0 {
		u = float64(active) / float64(limit)
	}
	m.utilization = u
	if u > m.peakUtilization {
		m.peakUtilization = u
	}
}

// Snapshot is a point-in-time read of one tier's metrics.
type Snapshot struct {
	Tier             Tier
	ConcurrencyLimit int
	QueueLimit       uint64
	ActiveCount      int
	QueueLength      int
	Completed        uint64
	Rejected         uint64
	AvgProcessingMs  float64
	Utilization      float64
	PeakUtilization  float64
}

type tierState struct {
	tier    Tier
	minConc int
	maxConc int

	limit atomic.Int64 // current concurrencyLimit
	qlim  atomic.Uint64

	sem   atomic.Pointer[semaphore.Weighted]
	queue *ring.Queue[TaskFunc]
	wake  chan struct{}
	active atomic.Int64

	metrics tierMetrics
}

func newTierState(tier Tier, cfg TierConfig) *tierState {
	ts := &tierState{tier: tier, minConc: cfg.MinConcurrency, maxConc: cfg.MaxConcurrency, wake: make(chan struct{}, 1)}
	ts.limit.Store(int64(cfg.ConcurrencyLimit))
	ts.qlim.Store(cfg.QueueLimit)
	ts.sem.Store(semaphore.NewWeighted(int64(cfg.ConcurrencyLimit)))
	ts.queue = ring.New[TaskFunc](ring.Config[TaskFunc]{Capacity: cfg.QueueLimit, AutoResize: false})
	return ts
}

func (ts *tierState) setLimit(n int) {
	if n < 1 {
		n = 1
	}
	ts.limit.Store(int64(n))
	ts.sem.Store(semaphore.NewWeighted(int64(n)))
	ts.wakeUp()
}

func (ts *tierState) wakeUp() {
	select {
	case ts.wake <- struct{}{}:
	default:
	}
}

// Scheduler is the layered scheduler (adaptive rebalancing optional).
type Scheduler struct {
	cfg   Config
	log   *zap.Logger
	tiers map[Tier]*tierState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	adaptive *adaptiveLoop
}

// New builds a Scheduler and starts its per-tier dispatch loops.
func New(cfg Config) *Scheduler {
	if cfg.Tiers == nil {
		cfg.Tiers = defaultTierConfigs()
	}
	if cfg.AdaptationInterval <= 0 {
		cfg.AdaptationInterval = 2 * time.Second
	}
	if cfg.ElasticityFactor <= 0 || cfg.ElasticityFactor > 1 {
		cfg.ElasticityFactor = 0.5
	}
	if cfg.Sampler == nil {
		cfg.Sampler = DefaultSampler{}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cfg: cfg, log: log, tiers: make(map[Tier]*tierState), ctx: ctx, cancel: cancel}
	for _, t := range AllTiers {
		tc, ok := cfg.Tiers[t]
		if !ok {
			tc = defaultTierConfigs()[t]
		}
		s.tiers[t] = newTierState(t, tc)
	}
	for _, t := range AllTiers {
		s.wg.Add(1)
		go s.runTierLoop(s.tiers[t])
	}
	if cfg.EnableAdaptive {
		s.adaptive = newAdaptiveLoop(s)
		s.adaptive.start()
	}
	return s
}

// Schedule implements mailbox.Dispatcher: tasks submitted this way always
// go to the Default tier; no classification heuristic is applied. Callers
// that need another tier use ScheduleTiered with an explicit tag.
func (s *Scheduler) Schedule(task func()) {
	s.ScheduleTiered(Default, task)
}

// ScheduleTiered submits a task explicitly tagged with a tier. Returns
// false if the tier's queue is full (admission rejection, counted in
// metrics per spec §4.5 "Admission").
func (s *Scheduler) ScheduleTiered(tier Tier, task TaskFunc) bool {
	ts, ok := s.tiers[tier]
	if !ok {
		ts = s.tiers[Default]
	}
	if uint64(ts.queue.Size()) >= ts.qlim.Load() {
		ts.metrics.recordRejection()
		return false
	}
	if !ts.queue.Enqueue(task) {
		ts.metrics.recordRejection()
		return false
	}
	ts.wakeUp()
	return true
}

// runTierLoop is the tier's independent execution loop: whenever
// active < concurrencyLimit and a task is waiting, it dequeues one,
// acquires a concurrency ticket, and runs the task in its own goroutine.
// LowLatency tasks are never queued behind other tiers because each tier
// has its own queue and budget — the spec's "strict priority" requirement
// falls out of that separation rather than needing a shared worker pool.
func (s *Scheduler) runTierLoop(ts *tierState) {
	defer s.wg.Done()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ts.wake:
		case <-ticker.C:
		}
		s.drainAvailable(ts)
	}
}

func (s *Scheduler) drainAvailable(ts *tierState) {
	for {
		sem := ts.sem.Load()
		if !sem.TryAcquire(1) {
			return
		}
		task, ok := ts.queue.Dequeue()
		if !ok {
			sem.Release(1)
			return
		}
		ts.active.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			start := time.Now()
			func() {
				defer func() {
					if r := recover(); r != nil {
						s.log.Error("dispatcher task panicked", zap.Any("recover", r), zap.String("tier", ts.tier.String()))
					}
				}()
				task()
			}()
			ts.metrics.recordCompletion(time.Since(start), int(ts.active.Load()), int(ts.limit.Load()))
			ts.active.Add(-1)
			sem.Release(1)
			ts.wakeUp()
		}()
	}
}

// Shutdown refuses new tasks, awaits in-flight completion, and drops
// waiting queues, reporting drop counts as the spec requires.
func (s *Scheduler) Shutdown(ctx context.Context) map[Tier]int {
	if s.adaptive != nil {
		s.adaptive.stop()
	}
	s.cancel()
	dropped := make(map[Tier]int)
	for t, ts := range s.tiers {
		ts.queue.Close()
		n := 0
		for {
			if _, ok := ts.queue.Dequeue(); !ok {
				break
			}
			n++
		}
		dropped[t] = n
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return dropped
}

// Snapshot returns metrics for every tier.
func (s *Scheduler) Snapshot() []Snapshot {
	out := make([]Snapshot, 0, len(s.tiers))
	for _, t := range AllTiers {
		ts := s.tiers[t]
		ts.metrics.mu.Lock()
		out = append(out, Snapshot{
			Tier:             t,
			ConcurrencyLimit: int(ts.limit.Load()),
			QueueLimit:       ts.qlim.Load(),
			ActiveCount:      int(ts.active.Load()),
			QueueLength:      ts.queue.Size(),
			Completed:        ts.metrics.completed,
			Rejected:         ts.metrics.rejected,
			AvgProcessingMs:  ts.metrics.avgProcessingMs,
			Utilization:      ts.metrics.utilization,
			PeakUtilization:  ts.metrics.peakUtilization,
		})
		ts.metrics.mu.Unlock()
	}
	return out
}
