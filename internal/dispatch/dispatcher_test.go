package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/warden-bot/warden/internal/domain"
)

func ev(chatID int64, seq uint64) domain.Event {
	return domain.Event{
		ID:     uuid.NewString(),
		ChatID: chatID,
		Kind:   domain.EventMessage,
		Source: domain.TransportBotAPI,
		Seq:    seq,
	}
}

func TestSubmit_SameChatOrdered(t *testing.T) {
	var mu sync.Mutex
	var got []uint64
	done := make(chan struct{})

	const n = 50
	d := New(Config{MaxWorkers: 4, MaxQueueDepth: n}, func(_ context.Context, e domain.Event) error {
		mu.Lock()
		got = append(got, e.Seq)
		if len(got) == n {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	for i := uint64(1); i <= n; i++ {
		if _, err := d.Submit(ev(7, i)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, s := range got {
		if s != uint64(i+1) {
			t.Fatalf("pos %d: seq = %d, want %d (same-chat order violated)", i, s, i+1)
		}
	}
}

func TestSubmit_CrossChatConcurrent(t *testing.T) {
	block := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)

	d := New(Config{MaxWorkers: 2, MaxQueueDepth: 4}, func(_ context.Context, e domain.Event) error {
		started.Done()
		<-block
		return nil
	})

	if _, err := d.Submit(ev(1, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Submit(ev(2, 2)); err != nil {
		t.Fatal(err)
	}

	ok := make(chan struct{})
	go func() { started.Wait(); close(ok) }()
	select {
	case <-ok:
		// both chats ran concurrently
	case <-time.After(2 * time.Second):
		t.Fatal("events for distinct chats did not run concurrently")
	}
	close(block)
}

func TestSubmit_QueueSaturated(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	// One worker slot, held by chat 1, so chat 5's drain cannot start and
	// its queue fills up.
	d := New(Config{MaxWorkers: 1, MaxQueueDepth: 2}, func(_ context.Context, e domain.Event) error {
		<-block
		return nil
	})

	if _, err := d.Submit(ev(1, 1)); err != nil {
		t.Fatal(err)
	}
	// Give the chat-1 drain a moment to claim the only slot.
	waitFor(t, func() bool { return d.QueueDepth(1) == 0 })

	for i := uint64(1); i <= 2; i++ {
		if _, err := d.Submit(ev(5, i)); err != nil {
			t.Fatalf("submit %d for chat 5: %v", i, err)
		}
	}
	_, err := d.Submit(ev(5, 3))
	if !errors.Is(err, ErrQueueSaturated) {
		t.Fatalf("third submission: expected ErrQueueSaturated, got %v", err)
	}
}

func TestHandle_PanicIsolated(t *testing.T) {
	done := make(chan struct{})
	d := New(Config{MaxWorkers: 1, MaxQueueDepth: 8}, func(_ context.Context, e domain.Event) error {
		if e.Seq == 1 {
			panic("boom")
		}
		close(done)
		return nil
	})

	if _, err := d.Submit(ev(3, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Submit(ev(3, 2)); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
		// queue advanced past the panicking event
	case <-time.After(2 * time.Second):
		t.Fatal("panic halted the chat queue")
	}
}

func TestClose_DrainsThenRejects(t *testing.T) {
	var mu sync.Mutex
	handled := 0
	d := New(Config{MaxWorkers: 2, MaxQueueDepth: 16}, func(_ context.Context, e domain.Event) error {
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	})

	for i := uint64(1); i <= 10; i++ {
		if _, err := d.Submit(ev(int64(i%3), i)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	n := handled
	mu.Unlock()
	if n != 10 {
		t.Fatalf("handled = %d, want all 10 drained before close returned", n)
	}

	if _, err := d.Submit(ev(1, 99)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after shutdown, got %v", err)
	}
}

func TestAck_ReportsQueuePosition(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	d := New(Config{MaxWorkers: 1, MaxQueueDepth: 8}, func(_ context.Context, e domain.Event) error {
		<-block
		return nil
	})

	// Occupy the worker with another chat.
	if _, err := d.Submit(ev(1, 1)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return d.QueueDepth(1) == 0 })

	a1, err := d.Submit(ev(2, 1))
	if err != nil {
		t.Fatal(err)
	}
	a2, err := d.Submit(ev(2, 2))
	if err != nil {
		t.Fatal(err)
	}
	if a1.QueuePos != 1 || a2.QueuePos != 2 {
		t.Fatalf("queue positions = %d, %d", a1.QueuePos, a2.QueuePos)
	}
	if a1.EventID == "" || a1.EventID == a2.EventID {
		t.Fatal("acks must echo distinct event ids")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(fmt.Sprintf("condition not met within %v", 2*time.Second))
}
