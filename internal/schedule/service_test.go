package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tajmer/internal/storage"
	"tajmer/internal/timer"
	logx "tajmer/pkg/logx"
)

// memStore is an in-memory storage.Store for tests.
type memStore struct {
	mu    sync.Mutex
	jobs  map[string]storage.Job
	dedup map[string]time.Time
	fail  error
}

func newMemStore() *memStore {
	return &memStore{jobs: map[string]storage.Job{}, dedup: map[string]time.Time{}}
}

func (m *memStore) PutJob(ctx context.Context, j storage.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.jobs[j.Key] = j
	return nil
}

func (m *memStore) DeleteJob(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, key)
	return nil
}

func (m *memStore) ListJobs(ctx context.Context) ([]storage.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (m *memStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedup[key] = until
	return nil
}

func (m *memStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.dedup[key]
	return u, ok, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) jobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// fireRecorder collects fired payloads.
type fireRecorder struct {
	mu    sync.Mutex
	fired []timer.Payload
}

func (f *fireRecorder) fire(ctx context.Context, p timer.Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, p)
}

func (f *fireRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fired)
}

func (f *fireRecorder) payloads() []timer.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]timer.Payload(nil), f.fired...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestScheduleFiresAndCleansUp(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	rec := &fireRecorder{}
	s := New(Config{}, st, rec.fire, logx.Nop())
	defer s.Stop(context.Background())

	p := timer.Payload{TimerID: "1", Description: "upali timer 5 min"}
	if err := s.Schedule(context.Background(), "timer_1", 20*time.Millisecond, p); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if st.jobCount() != 1 {
		t.Fatalf("job not persisted before firing")
	}

	waitFor(t, "job to fire", func() bool { return rec.count() == 1 })
	if got := rec.payloads()[0]; got != p {
		t.Fatalf("fired payload = %+v, want %+v", got, p)
	}
	waitFor(t, "persisted job cleanup", func() bool { return st.jobCount() == 0 })
}

func TestScheduleSameKeyReplaces(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	rec := &fireRecorder{}
	s := New(Config{}, st, rec.fire, logx.Nop())
	defer s.Stop(context.Background())
	ctx := context.Background()

	if err := s.Schedule(ctx, "timer_9", 30*time.Millisecond, timer.Payload{TimerID: "9", Description: "old"}); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if err := s.Schedule(ctx, "timer_9", 30*time.Millisecond, timer.Payload{TimerID: "9", Description: "new"}); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	waitFor(t, "replacement job to fire", func() bool { return rec.count() >= 1 })
	// Give the stale timer a chance to (wrongly) fire too.
	time.Sleep(100 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("fired %d times, want exactly 1 (replace, not duplicate)", rec.count())
	}
	if got := rec.payloads()[0]; got.Description != "new" {
		t.Fatalf("fired payload = %+v, want the replacement", got)
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	rec := &fireRecorder{}
	s := New(Config{}, st, rec.fire, logx.Nop())
	defer s.Stop(context.Background())
	ctx := context.Background()

	if err := s.Schedule(ctx, "timer_3", 50*time.Millisecond, timer.Payload{TimerID: "3"}); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if err := s.Cancel(ctx, "timer_3"); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if st.jobCount() != 0 {
		t.Fatal("persisted job not removed by Cancel")
	}

	// Advance past the deadline: the cancelled job must not fire.
	time.Sleep(150 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("cancelled job fired %d times", rec.count())
	}
}

func TestCancelAbsentKeyIsNoop(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newMemStore(), nil, logx.Nop())
	defer s.Stop(context.Background())
	if err := s.Cancel(context.Background(), "timer_absent"); err != nil {
		t.Fatalf("Cancel of absent key should be a no-op, got: %v", err)
	}
}

func TestNegativeDelayClampsToImmediate(t *testing.T) {
	t.Parallel()
	rec := &fireRecorder{}
	s := New(Config{}, newMemStore(), rec.fire, logx.Nop())
	defer s.Stop(context.Background())

	if err := s.Schedule(context.Background(), "timer_late", -time.Minute, timer.Payload{TimerID: "late"}); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	waitFor(t, "overdue job to fire immediately", func() bool { return rec.count() == 1 })
}

func TestScheduleFailsWhenStoreFails(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.fail = errors.New("disk full")
	rec := &fireRecorder{}
	s := New(Config{}, st, rec.fire, logx.Nop())
	defer s.Stop(context.Background())

	err := s.Schedule(context.Background(), "timer_x", 10*time.Millisecond, timer.Payload{TimerID: "x"})
	if err == nil {
		t.Fatal("Schedule should fail when the job cannot be persisted")
	}
	// The unpersisted job must not have been armed.
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("unpersisted job fired %d times", rec.count())
	}
}

func TestStartRecoversPersistedJobs(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	now := time.Now()
	st.jobs["timer_a"] = storage.Job{Key: "timer_a", TimerID: "a", FireAt: now.Add(30 * time.Millisecond), CreatedAt: now}
	st.jobs["timer_b"] = storage.Job{Key: "timer_b", TimerID: "b", FireAt: now.Add(-time.Hour), CreatedAt: now} // overdue

	rec := &fireRecorder{}
	s := New(Config{}, st, rec.fire, logx.Nop())
	defer s.Stop(context.Background())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitFor(t, "recovered jobs to fire", func() bool { return rec.count() == 2 })
}

func TestStopDisarmsTimers(t *testing.T) {
	t.Parallel()
	rec := &fireRecorder{}
	s := New(Config{}, newMemStore(), rec.fire, logx.Nop())

	if err := s.Schedule(context.Background(), "timer_s", 50*time.Millisecond, timer.Payload{TimerID: "s"}); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	s.Stop(context.Background())

	time.Sleep(150 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("job fired %d times after Stop", rec.count())
	}
	if err := s.Schedule(context.Background(), "timer_s2", 0, timer.Payload{TimerID: "s2"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Schedule after Stop = %v, want ErrStopped", err)
	}
}

func TestScheduleAfterStopLeavesNoPersistedJob(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	s := New(Config{}, st, nil, logx.Nop())
	s.Stop(context.Background())

	err := s.Schedule(context.Background(), "timer_o", time.Minute, timer.Payload{TimerID: "o"})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Schedule after Stop = %v, want ErrStopped", err)
	}
	// A rejected schedule must not leave a job behind for the next Start
	// to resurrect.
	if st.jobCount() != 0 {
		t.Fatalf("persisted %d jobs after rejected schedule, want 0", st.jobCount())
	}
}
