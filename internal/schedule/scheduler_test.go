package schedule

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/warden-bot/warden/internal/domain"
	"github.com/warden-bot/warden/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:sched_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// recordingExec collects executed actions.
type recordingExec struct {
	mu   sync.Mutex
	seen []domain.Action
	ch   chan string
}

func newRecordingExec() *recordingExec {
	return &recordingExec{ch: make(chan string, 64)}
}

func (r *recordingExec) Execute(_ context.Context, a domain.Action) domain.ActionStatus {
	r.mu.Lock()
	r.seen = append(r.seen, a)
	r.mu.Unlock()
	r.ch <- a.ID
	return domain.StatusExecuted
}

func (r *recordingExec) wait(t *testing.T, n int, within time.Duration) []domain.Action {
	t.Helper()
	deadline := time.After(within)
	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-deadline:
			t.Fatalf("executor saw %d actions, want %d", i, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Action, len(r.seen))
	copy(out, r.seen)
	return out
}

func create(t *testing.T, db *gorm.DB, target int64, due time.Time) *domain.Action {
	t.Helper()
	a, err := repo.CreateAction(context.Background(), db, 1, target, domain.ActionUnmute, &due,
		domain.IdempotencyKey(1, target, domain.ActionUnmute, 1))
	if err != nil {
		t.Fatalf("create action: %v", err)
	}
	return a
}

func TestRun_FiresAtDueTime(t *testing.T) {
	db := newTestDB(t)
	exec := newRecordingExec()
	s := New(db, exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	a := create(t, db, 7, time.Now().Add(50*time.Millisecond))
	s.Arm(*a)

	got := exec.wait(t, 1, 3*time.Second)
	if got[0].ID != a.ID {
		t.Fatalf("executed %s, want %s", got[0].ID, a.ID)
	}
	if got[0].Status != domain.StatusInFlight {
		t.Fatalf("handed status = %s, want in_flight", got[0].Status)
	}

	// The claim is durable.
	stored, err := repo.GetAction(context.Background(), db, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.StatusInFlight {
		t.Fatalf("stored status = %s, want in_flight", stored.Status)
	}
}

func TestRecover_ReArmsAndFiresPastDue(t *testing.T) {
	db := newTestDB(t)

	// Simulated previous process: recorded a Pending unmute that came due
	// while the process was down, plus one still in the future.
	past := create(t, db, 7, time.Now().Add(-time.Second))
	future := create(t, db, 8, time.Now().Add(time.Hour))

	// Simulated restart: fresh scheduler over the same store.
	exec := newRecordingExec()
	s := New(db, exec)
	if err := s.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	got := exec.wait(t, 1, 3*time.Second)
	if got[0].ID != past.ID {
		t.Fatalf("recovered fire = %s, want past-due %s", got[0].ID, past.ID)
	}
	if s.Armed() != 1 {
		t.Fatalf("armed = %d, want the future action still armed", s.Armed())
	}
	_ = future
}

func TestCancel_BeforeDue(t *testing.T) {
	db := newTestDB(t)
	exec := newRecordingExec()
	s := New(db, exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	a := create(t, db, 9, time.Now().Add(time.Hour))
	s.Arm(*a)

	if err := s.Cancel(context.Background(), a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if s.Armed() != 0 {
		t.Fatalf("armed = %d after cancel", s.Armed())
	}

	stored, _ := repo.GetAction(context.Background(), db, a.ID)
	if stored.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", stored.Status)
	}

	// A cancelled action never reaches the executor.
	select {
	case id := <-exec.ch:
		t.Fatalf("executor saw cancelled action %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancel_AlreadyClaimed(t *testing.T) {
	db := newTestDB(t)
	s := New(db, newRecordingExec())

	a := create(t, db, 9, time.Now().Add(time.Hour))
	if err := repo.UpdateActionStatus(context.Background(), db, a.ID, domain.StatusPending, domain.StatusInFlight, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Cancel(context.Background(), a.ID); !errors.Is(err, repo.ErrStaleStatus) {
		t.Fatalf("expected ErrStaleStatus, got %v", err)
	}
}

func TestFireDue_SkipsConcurrentlyCancelled(t *testing.T) {
	db := newTestDB(t)
	exec := newRecordingExec()
	s := New(db, exec)

	// Armed in memory, but cancelled durably out from under the heap, as if
	// an operator raced the timer.
	a := create(t, db, 9, time.Now().Add(-time.Second))
	s.Arm(*a)
	if err := repo.UpdateActionStatus(context.Background(), db, a.ID, domain.StatusPending, domain.StatusCancelled, ""); err != nil {
		t.Fatal(err)
	}

	s.fireDue(context.Background())
	select {
	case id := <-exec.ch:
		t.Fatalf("executor saw cancelled action %s", id)
	case <-time.After(100 * time.Millisecond):
	}
	if s.Armed() != 0 {
		t.Fatalf("armed = %d, cancelled entry must be discarded", s.Armed())
	}
}

func TestTimerHeap_Ordering(t *testing.T) {
	now := time.Now()
	mk := func(id string, due time.Time, created time.Time) *item {
		return &item{action: domain.Action{ID: id, CreatedAt: created}, due: due}
	}

	var h timerHeap
	heap.Push(&h, mk("c", now.Add(2*time.Second), now))
	heap.Push(&h, mk("b", now.Add(time.Second), now.Add(time.Millisecond)))
	heap.Push(&h, mk("a", now.Add(time.Second), now)) // same due as b, created earlier
	heap.Push(&h, mk("e", now.Add(time.Second), now)) // ties with a on due+created -> id order
	heap.Push(&h, mk("d", now, now))

	want := []string{"d", "a", "e", "b", "c"}
	for i, w := range want {
		it := heap.Pop(&h).(*item)
		if it.action.ID != w {
			t.Fatalf("pop %d = %s, want %s", i, it.action.ID, w)
		}
	}
}
