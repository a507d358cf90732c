package domain

import (
	"testing"
	"time"
)

func TestActionStatus_Terminal(t *testing.T) {
	term := []ActionStatus{StatusExecuted, StatusFailed, StatusCancelled}
	for _, s := range term {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []ActionStatus{StatusPending, StatusInFlight} {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestActionKind_Valid(t *testing.T) {
	if !ActionBan.Valid() || !ActionDeleteMessage.Valid() {
		t.Fatal("known kinds must be valid")
	}
	if ActionKind("promote").Valid() {
		t.Fatal("unknown kind must be invalid")
	}
}

func TestIdempotencyKey_Deterministic(t *testing.T) {
	a := IdempotencyKey(1, 42, ActionBan, 3)
	b := IdempotencyKey(1, 42, ActionBan, 3)
	if a != b {
		t.Fatalf("same intent must derive same key: %q vs %q", a, b)
	}
	if a != "a:1:42:ban:3" {
		t.Fatalf("unexpected key format: %q", a)
	}
	if IdempotencyKey(1, 42, ActionBan, 4) == a {
		t.Fatal("rule version bump must change the key")
	}
	if IdempotencyKey(2, 42, ActionBan, 3) == a {
		t.Fatal("different chat must change the key")
	}
}

func TestAction_Due(t *testing.T) {
	now := time.Now()
	immediate := &Action{}
	if !immediate.Due(now) {
		t.Fatal("immediate action is always due")
	}
	future := now.Add(time.Hour)
	a := &Action{ScheduledFor: &future}
	if a.Due(now) {
		t.Fatal("future action must not be due")
	}
	if !a.Due(future) {
		t.Fatal("action is due at its exact due time")
	}
	past := now.Add(-time.Hour)
	b := &Action{ScheduledFor: &past}
	if !b.Due(now) {
		t.Fatal("past-due action must be due")
	}
}
