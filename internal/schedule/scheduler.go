// Package schedule manages delayed moderation actions: timed unmutes,
// scheduled unbans, federation expiries. Due times live in a min-heap keyed
// by (scheduled_for, created_at, id); a single timer loop wakes at the next
// due instant, transitions due actions to InFlight with a conditional store
// write, and hands them to the executor.
//
// The heap is a disposable cache. The durable store is the source of truth:
// Recover rebuilds the heap from it on startup, and every transition is
// written durably before it takes effect in memory. A crash loses nothing:
// past-due actions fire immediately on the next recovery pass.
package schedule

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/warden-bot/warden/internal/domain"
	"github.com/warden-bot/warden/internal/repo"
)

var (
	armedActions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_scheduler_armed",
			Help: "Delayed actions currently armed in the timer heap.",
		},
	)
	firedActions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_scheduler_fired_total",
			Help: "Delayed actions handed to the executor.",
		},
	)
	recoveredActions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_scheduler_recovered_total",
			Help: "Delayed actions re-armed from the store on startup.",
		},
	)
)

func init() {
	prometheus.MustRegister(armedActions, firedActions, recoveredActions)
}

// Executor is the downstream capable of performing a due action. Execute
// owns all terminal status writes and reports the resulting status; the
// scheduler only moves actions to InFlight and ignores the result.
type Executor interface {
	Execute(ctx context.Context, a domain.Action) domain.ActionStatus
}

// Scheduler owns the timer heap and its single wake loop.
type Scheduler struct {
	db     *gorm.DB
	exec   Executor
	logger zerolog.Logger

	mu    sync.Mutex
	heap  timerHeap
	byID  map[string]*item
	wake  chan struct{}

	wg sync.WaitGroup
}

// New constructs a Scheduler over the given store handle and executor.
func New(db *gorm.DB, exec Executor) *Scheduler {
	return &Scheduler{
		db:     db,
		exec:   exec,
		logger: log.With().Str("component", "schedule").Logger(),
		byID:   make(map[string]*item),
		wake:   make(chan struct{}, 1),
	}
}

// Recover rebuilds the heap from every Pending action in the store that
// carries a due time. Past-due actions sort first and fire on the loop's
// next pass, so work scheduled before a crash is never silently dropped.
func (s *Scheduler) Recover(ctx context.Context) error {
	pending, err := repo.ListPendingScheduled(ctx, s.db)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, a := range pending {
		if _, ok := s.byID[a.ID]; ok {
			continue
		}
		s.push(a)
		recoveredActions.Inc()
	}
	s.mu.Unlock()
	s.kick()

	s.logger.Info().Int("recovered", len(pending)).Msg("re-armed scheduled actions")
	return nil
}

// Arm registers a freshly created Pending action with a due time. Actions
// without one belong to the immediate path, not the scheduler.
func (s *Scheduler) Arm(a domain.Action) {
	if a.ScheduledFor == nil {
		return
	}
	s.mu.Lock()
	if _, ok := s.byID[a.ID]; !ok {
		s.push(a)
	}
	s.mu.Unlock()
	s.kick()
}

// Cancel durably marks a Pending action Cancelled, then removes it from the
// heap. The durable write happens first: if the timer fires concurrently,
// the executor's status re-check observes Cancelled and aborts before any
// external mutation. Returns repo.ErrStaleStatus when the action already
// left Pending.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	if err := repo.UpdateActionStatus(ctx, s.db, id, domain.StatusPending, domain.StatusCancelled, ""); err != nil {
		return err
	}
	s.mu.Lock()
	if it, ok := s.byID[id]; ok {
		heap.Remove(&s.heap, it.pos)
		delete(s.byID, id)
		armedActions.Dec()
	}
	s.mu.Unlock()
	s.kick()
	return nil
}

// Armed reports the number of actions currently in the heap.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// Run is the timer loop. It blocks until ctx is cancelled, then waits for
// in-flight hand-offs to settle.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.fireDue(ctx)

		// Re-arm the timer for the next due instant, if any.
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		s.mu.Lock()
		var next time.Duration = time.Hour
		if s.heap.Len() > 0 {
			next = time.Until(s.heap[0].due)
			if next < 0 {
				next = 0
			}
		}
		s.mu.Unlock()
		timer.Reset(next)

		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// fireDue pops every due action, claims it with a Pending→InFlight
// conditional write, and hands claimed actions to the executor. A stale
// claim means the action was cancelled or taken by another writer; the heap
// entry is simply discarded.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()
	for {
		s.mu.Lock()
		if s.heap.Len() == 0 || s.heap[0].due.After(now) {
			s.mu.Unlock()
			return
		}
		it := heap.Pop(&s.heap).(*item)
		delete(s.byID, it.action.ID)
		s.mu.Unlock()
		armedActions.Dec()

		err := repo.UpdateActionStatus(ctx, s.db, it.action.ID, domain.StatusPending, domain.StatusInFlight, "")
		if err != nil {
			if !errors.Is(err, repo.ErrStaleStatus) {
				s.logger.Error().Err(err).Str("action_id", it.action.ID).Msg("claiming due action")
			}
			continue
		}

		a := it.action
		a.Status = domain.StatusInFlight
		firedActions.Inc()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.exec.Execute(ctx, a)
		}()
	}
}

// kick nudges the loop to recompute its timer after a heap change.
func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// push adds a under the lock. Caller holds s.mu.
func (s *Scheduler) push(a domain.Action) {
	it := &item{action: a, due: *a.ScheduledFor}
	heap.Push(&s.heap, it)
	s.byID[a.ID] = it
	armedActions.Inc()
}

// item is one armed action. pos tracks the heap index for removal.
type item struct {
	action domain.Action
	due    time.Time
	pos    int
}

// timerHeap orders items by (due, created_at, id): identical due times fall
// back to creation order, then id, matching the execution-order guarantee.
type timerHeap []*item

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if !h[i].due.Equal(h[j].due) {
		return h[i].due.Before(h[j].due)
	}
	if !h[i].action.CreatedAt.Equal(h[j].action.CreatedAt) {
		return h[i].action.CreatedAt.Before(h[j].action.CreatedAt)
	}
	return h[i].action.ID < h[j].action.ID
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *timerHeap) Push(x any) {
	it := x.(*item)
	it.pos = len(*h)
	*h = append(*h, it)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
