package timer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"tajmer/internal/eventbus"
	logx "tajmer/pkg/logx"
)

var ErrInvalidDuration = errors.New("timer duration must be positive")

// Record is one active timer tracked by the registry.
type Record struct {
	ID              string
	DurationMinutes int
	EndTime         time.Time
	Description     string
}

// Remaining reports the time left until expiry, clamped to zero.
func (r Record) Remaining(now time.Time) time.Duration {
	d := r.EndTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Payload is the opaque data a durable job carries back into the process.
// It is a back-reference: the scheduler can look the timer up by id but
// does not own its lifecycle.
type Payload struct {
	TimerID     string `json:"timer_id"`
	Description string `json:"description,omitempty"`
}

// Scheduler is the durable-job boundary the registry schedules against.
//
// Schedule submits a job under key; submitting again under the same key
// replaces any still-pending job (at most one pending expiry per timer).
// Cancel is best-effort: a no-op if the job already fired or never existed.
type Scheduler interface {
	Schedule(ctx context.Context, key string, delay time.Duration, p Payload) error
	Cancel(ctx context.Context, key string) error
}

// JobKey derives the durable job key for a timer id.
// The format must remain stable for cancellation to find the correct job.
func JobKey(id string) string { return "timer_" + id }

// TimerEvent is published on the bus for every registry state transition.
// Active is the complete post-transition snapshot.
type TimerEvent struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Active      []Record `json:"active"`
}

// Registry is the process-wide collection of active timers.
//
// Readers never block: the active list is a copy-on-write snapshot behind
// an atomic pointer. Writes are serialized by a mutex and replace the whole
// snapshot; a previously published snapshot is never mutated.
type Registry struct {
	log   logx.Logger
	bus   eventbus.Bus
	sched Scheduler

	writeMu sync.Mutex
	active  atomic.Pointer[[]Record]
}

func NewRegistry(sched Scheduler, bus eventbus.Bus, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{log: log, bus: bus, sched: sched}
	empty := []Record{}
	r.active.Store(&empty)
	return r
}

// Active returns the current snapshot. The returned slice must not be
// modified by callers; it is shared with other readers.
func (r *Registry) Active() []Record {
	return *r.active.Load()
}

// Start creates a timer from cmd, appends it to the snapshot and schedules
// the durable job. If scheduling fails the appended record is rolled back
// so the list never shows a timer with no backing job, and the error is
// returned to the caller.
//
// Scheduling may involve blocking I/O (the job is persisted); interactive
// callers should invoke Start off their event loop.
func (r *Registry) Start(ctx context.Context, cmd Command) (string, error) {
	if cmd.DurationMinutes <= 0 {
		return "", ErrInvalidDuration
	}

	now := time.Now()
	rec := Record{
		ID:              nextID(),
		DurationMinutes: cmd.DurationMinutes,
		EndTime:         now.Add(time.Duration(cmd.DurationMinutes) * time.Minute),
		Description:     cmd.Description,
	}

	r.writeMu.Lock()
	cur := *r.active.Load()
	next := make([]Record, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, rec)
	r.active.Store(&next)
	snap := next
	r.writeMu.Unlock()

	delay := rec.EndTime.Sub(now)
	err := r.sched.Schedule(ctx, JobKey(rec.ID), delay, Payload{TimerID: rec.ID, Description: rec.Description})
	if err != nil {
		// Roll back: an unscheduled timer must not stay visible.
		r.remove(rec.ID)
		r.log.Warn("timer schedule failed",
			logx.String("id", rec.ID), logx.Duration("delay", delay), logx.Err(err))
		return "", fmt.Errorf("schedule timer %s: %w", rec.ID, err)
	}

	// A full cancel may have raced in while the job was being persisted;
	// its scheduler cancel ran before the job was armed, so tear the job
	// down here instead.
	if !r.contains(rec.ID) {
		if cerr := r.sched.Cancel(ctx, JobKey(rec.ID)); cerr != nil {
			r.log.Warn("durable cancel failed", logx.String("id", rec.ID), logx.Err(cerr))
		}
		return rec.ID, nil
	}

	r.log.Info("timer started",
		logx.String("id", rec.ID),
		logx.Int("minutes", rec.DurationMinutes),
		logx.Time("end", rec.EndTime))
	r.publish(eventbus.TimerStarted, rec, snap)
	return rec.ID, nil
}

// Cancel removes the timer from the snapshot and cancels its durable job
// (full cancel, for explicit user cancellation). Unknown ids are a no-op.
func (r *Registry) Cancel(ctx context.Context, id string) {
	removed, rec, snap := r.remove(id)
	// Cancel the job even if the record is already gone; the job may still
	// be pending (e.g. the registry was emptied by a restart).
	if err := r.sched.Cancel(ctx, JobKey(id)); err != nil {
		r.log.Warn("durable cancel failed", logx.String("id", id), logx.Err(err))
	}
	if removed {
		r.log.Info("timer cancelled", logx.String("id", id))
		r.publish(eventbus.TimerCancelled, rec, snap)
	}
}

// Expire removes the timer from the snapshot only (registry-only cancel,
// used by the expiry handler: the fired job is the reason for removal, so
// there is nothing durable left to cancel). Unknown ids are a no-op, which
// makes firing after a process restart harmless.
func (r *Registry) Expire(id string) {
	removed, rec, snap := r.remove(id)
	if removed {
		r.log.Info("timer expired", logx.String("id", id))
		r.publish(eventbus.TimerExpired, rec, snap)
	}
}

func (r *Registry) contains(id string) bool {
	for _, rec := range *r.active.Load() {
		if rec.ID == id {
			return true
		}
	}
	return false
}

// remove returns the post-removal snapshot so events carry the list as it
// was at their own transition, not whatever it is by publish time.
func (r *Registry) remove(id string) (bool, Record, []Record) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := *r.active.Load()
	for i, rec := range cur {
		if rec.ID != id {
			continue
		}
		next := make([]Record, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		r.active.Store(&next)
		return true, rec, next
	}
	return false, Record{}, nil
}

func (r *Registry) publish(typ string, rec Record, active []Record) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: TimerEvent{
		ID:          rec.ID,
		Description: rec.Description,
		Active:      active,
	}})
}

// lastID makes timestamp-based ids strictly monotonic even when two timers
// are created within the same nanosecond tick.
var lastID atomic.Int64

func nextID() string {
	for {
		prev := lastID.Load()
		now := time.Now().UnixNano()
		if now <= prev {
			now = prev + 1
		}
		if lastID.CompareAndSwap(prev, now) {
			return strconv.FormatInt(now, 10)
		}
	}
}
