package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tajmer/internal/storage"
	"tajmer/internal/timer"
	logx "tajmer/pkg/logx"
)

var ErrStopped = errors.New("scheduler stopped")

// Config controls the durable scheduler service.
type Config struct {
	// ReconcileEvery is the interval of the sweep that re-arms persisted
	// jobs missing a runtime timer. Zero disables the sweep.
	ReconcileEvery time.Duration
}

// FireFunc is invoked on a background goroutine when a job's deadline is
// reached. It must be safe to call more than once for the same payload.
type FireFunc func(ctx context.Context, p timer.Payload)

// Service is the durable implementation of timer.Scheduler.
//
// Runtime timers are armed with versioned upsert semantics: re-scheduling a
// key bumps its version, and a stale time.AfterFunc callback that observes
// a newer version returns without firing. This is what makes key
// replacement race-free against an in-flight expiry.
type Service struct {
	log   logx.Logger
	cfg   Config
	store storage.Store // nil means in-memory only (no restart survival)
	fire  FireFunc

	mu      sync.Mutex
	stopped bool
	timers  map[string]*time.Timer
	vers    map[string]uint64
	jobs    map[string]storage.Job

	c *cron.Cron

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, store storage.Store, fire FireFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		log:       log,
		cfg:       cfg,
		store:     store,
		fire:      fire,
		timers:    map[string]*time.Timer{},
		vers:      map[string]uint64{},
		jobs:      map[string]storage.Job{},
		runCtx:    ctx,
		runCancel: cancel,
	}
}

// Schedule persists a job under key and arms its runtime timer. A negative
// delay is clamped to zero (immediate fire). If persistence fails the job
// is not armed and the error is returned: the caller must not assume the
// timer is live.
func (s *Service) Schedule(ctx context.Context, key string, delay time.Duration, p timer.Payload) error {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.mu.Unlock()

	now := time.Now()
	job := storage.Job{
		Key:         key,
		TimerID:     p.TimerID,
		Description: p.Description,
		FireAt:      now.Add(delay),
		CreatedAt:   now,
	}

	// Persist first: a job that is armed but not stored would silently die
	// with the process.
	if s.store != nil {
		if err := s.store.PutJob(ctx, job); err != nil {
			return fmt.Errorf("persist job %s: %w", key, err)
		}
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		// Stop raced in after the job was persisted. Remove it again so the
		// next Start does not resurrect a timer the caller rolled back.
		if s.store != nil {
			if err := s.store.DeleteJob(ctx, key); err != nil {
				s.log.Warn("orphaned job cleanup failed", logx.String("key", key), logx.Err(err))
			}
		}
		return ErrStopped
	}
	s.armLocked(job)
	s.log.Debug("job scheduled",
		logx.String("key", key), logx.Duration("delay", delay), logx.Time("fire_at", job.FireAt))
	s.mu.Unlock()
	return nil
}

// Cancel stops the runtime timer and removes the persisted job. It is a
// no-op for keys that already fired or never existed.
func (s *Service) Cancel(ctx context.Context, key string) error {
	s.mu.Lock()
	s.disarmLocked(key)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.DeleteJob(ctx, key); err != nil {
			return fmt.Errorf("delete job %s: %w", key, err)
		}
	}
	return nil
}

// Pending returns the keys of jobs with an armed runtime timer.
func (s *Service) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.timers))
	for k := range s.timers {
		out = append(out, k)
	}
	return out
}

// Start reloads persisted jobs, re-arms them (overdue jobs fire
// immediately) and starts the reconcile sweep.
func (s *Service) Start(ctx context.Context) error {
	if err := s.recover(ctx); err != nil {
		return err
	}

	if s.cfg.ReconcileEvery > 0 && s.store != nil {
		s.mu.Lock()
		if s.c == nil && !s.stopped {
			s.c = cron.New()
			spec := fmt.Sprintf("@every %s", s.cfg.ReconcileEvery.String())
			if _, err := s.c.AddFunc(spec, s.reconcile); err != nil {
				s.mu.Unlock()
				return fmt.Errorf("register reconcile sweep: %w", err)
			}
			s.c.Start()
		}
		s.mu.Unlock()
	}
	return nil
}

// Stop disarms all runtime timers and halts the sweep. Persisted jobs are
// left in the store so the next Start can re-arm them.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	c := s.c
	s.c = nil
	for key, t := range s.timers {
		_ = t.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	s.runCancel()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
}

func (s *Service) recover(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list persisted jobs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	for _, j := range jobs {
		s.armLocked(j)
	}
	if len(jobs) > 0 {
		s.log.Info("re-armed persisted jobs", logx.Int("count", len(jobs)))
	}
	return nil
}

// reconcile re-arms persisted jobs that have no runtime timer. That state
// is unexpected (a lost AfterFunc), so it is logged at warn.
func (s *Service) reconcile() {
	ctx, cancel := context.WithTimeout(s.runCtx, 5*time.Second)
	defer cancel()

	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		s.log.Warn("reconcile list failed", logx.Err(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	for _, j := range jobs {
		if _, armed := s.timers[j.Key]; armed {
			continue
		}
		s.log.Warn("persisted job had no runtime timer; re-arming", logx.String("key", j.Key))
		s.armLocked(j)
	}
}

// armLocked replaces any pending timer for the job's key. Call with s.mu held.
func (s *Service) armLocked(j storage.Job) {
	if t, ok := s.timers[j.Key]; ok {
		_ = t.Stop()
	}
	ver := s.vers[j.Key] + 1
	s.vers[j.Key] = ver
	s.jobs[j.Key] = j

	delay := time.Until(j.FireAt)
	if delay < 0 {
		delay = 0
	}

	key := j.Key
	s.timers[key] = time.AfterFunc(delay, func() { s.fireKey(key, ver) })
}

// disarmLocked removes the runtime state for key. Call with s.mu held.
func (s *Service) disarmLocked(key string) {
	if t, ok := s.timers[key]; ok {
		_ = t.Stop()
		delete(s.timers, key)
	}
	delete(s.jobs, key)
	delete(s.vers, key)
}

func (s *Service) fireKey(key string, ver uint64) {
	s.mu.Lock()
	if s.stopped || s.vers[key] != ver {
		// Replaced or cancelled since this callback was armed.
		s.mu.Unlock()
		return
	}
	job := s.jobs[key]
	delete(s.timers, key)
	delete(s.jobs, key)
	delete(s.vers, key)
	s.mu.Unlock()

	// Remove the persisted job before invoking the handler so a restart in
	// between does not replay it. The notifier's dedup covers the narrow
	// window the other way around.
	if s.store != nil {
		dctx, cancel := context.WithTimeout(s.runCtx, 2*time.Second)
		if err := s.store.DeleteJob(dctx, key); err != nil {
			s.log.Warn("fired job cleanup failed", logx.String("key", key), logx.Err(err))
		}
		cancel()
	}

	s.log.Debug("job fired", logx.String("key", key), logx.String("timer_id", job.TimerID))
	if s.fire != nil {
		s.fire(s.runCtx, timer.Payload{TimerID: job.TimerID, Description: job.Description})
	}
}
