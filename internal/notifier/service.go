package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tajmer/internal/eventbus"
	"tajmer/internal/storage"
	logx "tajmer/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const defaultFallbackBody = "Vrijeme je isteklo!"

// Service implements an async notification pipeline:
// queue + worker pool + rate limit + dedup.
//
// It implements timer.Notifier. A display failure is logged and published
// on the bus, never escalated: a missed notification is the end of the
// notification, not of the timer's lifecycle.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	sink  Sink
	bus   eventbus.Bus
	store storage.Store

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	queue     chan Notification
	sendWG    sync.WaitGroup // in-flight Notify enqueues
	workerWG  sync.WaitGroup
	runCancel context.CancelFunc

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sink Sink, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log,
		sink:  sink,
		bus:   bus,
		store: store,
		dedup: map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = time.Minute
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if cfg.FallbackBody == "" {
		cfg.FallbackBody = defaultFallbackBody
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled {
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runCancel = cancel
	q := make(chan Notification, s.cfg.QueueSize)
	s.queue = q
	s.accepting = true

	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			s.workerLoop(runCtx, q)
		}()
	}
}

// Stop blocks intake, drains the queue best-effort until ctx expires, then
// force-cancels the workers.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	cancel := s.runCancel
	s.queue = nil
	s.runCancel = nil
	s.accepting = false
	s.mu.Unlock()

	if q == nil {
		return
	}
	// Wait for in-flight enqueues before closing so Notify never sends on
	// a closed channel.
	s.sendWG.Wait()
	close(q)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return
	}
	if cancel != nil {
		cancel()
	}
}

// Notify builds and enqueues the alert for a fired timer. The dedup key is
// an FNV hash of the timer id, so duplicate expiry deliveries for one id
// coalesce within the dedup window (and across restarts when PersistDedup
// is on).
func (s *Service) Notify(ctx context.Context, id, description string) error {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	cfg := s.cfg
	st := s.store
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	body := description
	if body == "" {
		body = cfg.FallbackBody
	}
	n := Notification{Key: DedupKey(id), Title: "Timer", Body: body}

	if !s.dedupAllow(ctx, n.Key, cfg, st) {
		s.publish(eventbus.NotifyDeduped, n.Key, "")
		return nil
	}

	select {
	case q <- n:
		return nil
	default:
		// Give the dedup slot back: a rejected notification must not
		// suppress a later retry for the same timer.
		s.dedupRelease(ctx, n.Key, cfg, st)
		s.publish(eventbus.NotifyDropped, n.Key, ErrQueueFull.Error())
		return ErrQueueFull
	}
}

// DedupKey derives the stable platform dedup key for a timer id.
func DedupKey(id string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return fmt.Sprintf("timer:%08x", h.Sum32())
}

// dedupAllow reports whether a notification under key may be delivered now
// and, if so, records the suppression window.
func (s *Service) dedupAllow(ctx context.Context, key string, cfg Config, st storage.Store) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	// Bound the cache; dropping expired entries first.
	if len(s.dedup) >= cfg.DedupMaxEntries {
		for k, u := range s.dedup {
			if now.After(u) {
				delete(s.dedup, k)
			}
		}
	}
	until := now.Add(cfg.DedupWindow)
	s.dedup[key] = until
	s.dmu.Unlock()

	if cfg.PersistDedup && st != nil {
		stored, ok, err := st.GetDedup(ctx, key)
		if err == nil && ok && now.Before(stored) {
			return false
		}
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 250*time.Millisecond)
		_ = st.PutDedup(pctx, key, until)
		cancel()
	}
	return true
}

// dedupRelease voids a suppression window recorded by dedupAllow for a
// notification that was never enqueued.
func (s *Service) dedupRelease(ctx context.Context, key string, cfg Config, st storage.Store) {
	s.dmu.Lock()
	delete(s.dedup, key)
	s.dmu.Unlock()

	if cfg.PersistDedup && st != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 250*time.Millisecond)
		_ = st.PutDedup(pctx, key, time.Now())
		cancel()
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n Notification) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	if s.sink == nil {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := s.sink.Push(sctx, n)
	cancel()
	if err != nil {
		// NotificationDenied and transport failures end here: logged only.
		s.log.Warn("notification delivery failed", logx.String("key", n.Key), logx.Err(err))
		s.publish(eventbus.NotifyFailed, n.Key, err.Error())
		return
	}

	s.appendHistory(n)
	s.publish(eventbus.NotifySent, n.Key, "")
	s.log.Debug("notification sent", logx.String("key", n.Key))
}

func (s *Service) publish(typ, key, errText string) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: NotificationEvent{Key: key, At: now, Error: errText}})
}

// History returns the most recent deliveries (for operational visibility).
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(n Notification) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Key: n.Key, Body: n.Body})
	if len(s.history) > 100 {
		s.history = s.history[len(s.history)-100:]
	}
	s.hmu.Unlock()
}
