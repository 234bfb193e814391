// Package lifecycle is the LifecycleManager: a periodic, idempotent sweep
// that moves memory records through their state machine, evicts expired
// slice cache entries and optionally purges expired records.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/papercomputeco/memlayer/pkg/governance"
	"github.com/papercomputeco/memlayer/pkg/logger"
	"github.com/papercomputeco/memlayer/pkg/memcube"
	"github.com/papercomputeco/memlayer/pkg/metrics"
	"github.com/papercomputeco/memlayer/pkg/slicecache"
	"github.com/papercomputeco/memlayer/pkg/storage"
)

const (
	defaultInterval = time.Hour
	callerID        = "lifecycle"
)

// Records applies transitions under the record store's per-record lock.
type Records interface {
	Advance(ctx context.Context, id string, p memcube.Policy, now time.Time) (from, to memcube.Lifecycle, changed bool, err error)
	Purge(ctx context.Context, id string) error
}

// Config configures a Manager.
type Config struct {
	// Driver enumerates records. The sweep reads it directly so governance
	// filters never hide a record from it.
	Driver  storage.RecordDriver
	Records Records

	// Cache, when set, has its expired entries swept on every run.
	Cache slicecache.Cache

	Policy       memcube.Policy
	Interval     time.Duration
	PurgeExpired bool

	// OnSweep, when set, receives the report of every finished sweep.
	OnSweep func(Report)

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Report summarizes one sweep.
type Report struct {
	StartedAt     time.Time                 `json:"started_at"`
	Scanned       int                       `json:"scanned"`
	Transitions   map[memcube.Lifecycle]int `json:"transitions"`
	Purged        int                       `json:"purged"`
	SlicesEvicted int                       `json:"slices_evicted"`
	Errors        int                       `json:"errors"`
	Took          time.Duration             `json:"took"`
}

// Changed reports whether the sweep moved any record.
func (r Report) Changed() int {
	n := 0
	for _, c := range r.Transitions {
		n += c
	}
	return n
}

// Manager runs lifecycle sweeps.
type Manager struct {
	driver   storage.RecordDriver
	records  Records
	cache    slicecache.Cache
	interval time.Duration
	purge    bool
	onSweep  func(Report)
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	policy memcube.Policy

	// sweeping serializes manual and scheduled runs.
	sweeping sync.Mutex

	sched gocron.Scheduler
}

// New creates a Manager. Call Start to begin the periodic schedule.
func New(c Config) (*Manager, error) {
	if c.Driver == nil || c.Records == nil {
		return nil, fmt.Errorf("lifecycle manager requires a driver and a record store")
	}
	m := &Manager{
		driver:   c.Driver,
		records:  c.Records,
		cache:    c.Cache,
		interval: c.Interval,
		purge:    c.PurgeExpired,
		onSweep:  c.OnSweep,
		metrics:  c.Metrics,
		logger:   logger.OrNop(c.Logger).With("component", "lifecycle"),
		now:      c.Now,
		policy:   c.Policy,
	}
	if m.interval <= 0 {
		m.interval = defaultInterval
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.policy == (memcube.Policy{}) {
		m.policy = memcube.DefaultPolicy()
	}
	return m, nil
}

// Policy returns the policy the next sweep will use.
func (m *Manager) Policy() memcube.Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// SetPolicy swaps the transition windows, effective from the next sweep.
func (m *Manager) SetPolicy(p memcube.Policy) {
	m.mu.Lock()
	m.policy = p
	m.mu.Unlock()
}

// Start schedules SweepOnce every interval, beginning immediately.
func (m *Manager) Start() error {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("creating lifecycle scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(func() {
			if _, err := m.SweepOnce(context.Background()); err != nil {
				m.logger.Error("lifecycle sweep failed", "error", err)
			}
		}),
		gocron.WithName("lifecycle_sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("scheduling lifecycle sweep: %w", err)
	}

	m.sched = sched
	sched.Start()
	m.logger.Info("lifecycle sweep scheduled", "interval", m.interval, "purge_expired", m.purge)
	return nil
}

// Stop shuts the schedule down, waiting for a running sweep to finish.
func (m *Manager) Stop() error {
	if m.sched == nil {
		return nil
	}
	return m.sched.Shutdown()
}

// SweepOnce runs one sweep. A failure on one record is logged and counted
// and the sweep moves on; only failing to enumerate records is an error.
func (m *Manager) SweepOnce(ctx context.Context) (Report, error) {
	m.sweeping.Lock()
	defer m.sweeping.Unlock()

	start := m.now()
	policy := m.Policy()
	ctx = governance.System(ctx, callerID)
	report := Report{StartedAt: start, Transitions: map[memcube.Lifecycle]int{}}

	recs, err := m.driver.ListRecords(ctx, storage.RecordQuery{})
	if err != nil {
		return report, fmt.Errorf("listing records: %w", err)
	}

	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		_, to, changed, err := m.records.Advance(ctx, r.ID, policy, start)
		if err != nil {
			report.Errors++
			m.metrics.SweepError()
			m.logger.Warn("lifecycle transition failed", "id", r.ID, "error", err)
			continue
		}
		if changed {
			report.Transitions[to]++
		}

		if m.purge && to == memcube.LifecycleExpired {
			if err := m.records.Purge(ctx, r.ID); err != nil {
				report.Errors++
				m.metrics.SweepError()
				m.logger.Warn("purging expired record failed", "id", r.ID, "error", err)
				continue
			}
			report.Purged++
		}
	}

	if m.cache != nil {
		n, err := m.cache.Sweep(ctx)
		if err != nil {
			report.Errors++
			m.metrics.SweepError()
			m.logger.Warn("slice cache sweep failed", "error", err)
		}
		report.SlicesEvicted = n
	}

	report.Took = m.now().Sub(start)
	m.metrics.Swept(report.Took)
	m.logger.Info("lifecycle sweep finished",
		"scanned", report.Scanned,
		"changed", report.Changed(),
		"purged", report.Purged,
		"slices_evicted", report.SlicesEvicted,
		"errors", report.Errors,
	)
	if m.onSweep != nil {
		m.onSweep(report)
	}
	return report, nil
}
