// Package repo implements the data persistence layer for the durable action
// store. This file provides repository functions for the Action model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only persistence
// and query composition.
//
// Error semantics:
//   - ErrNotFound when a requested action does not exist.
//   - ErrConflictingAction when a live row already holds the idempotency key.
//   - ErrStaleStatus when a conditional status update matched no row, i.e.
//     another writer transitioned the action first.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/warden-bot/warden/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrConflictingAction indicates a non-terminal action already exists for
// the same idempotency key. Callers treat it as a no-op success: the logical
// intent is already scheduled or running.
var ErrConflictingAction = errors.New("conflicting live action for idempotency key")

// ErrStaleStatus indicates a conditional status update found the row in a
// different state than expected. The losing writer must re-read and back off.
var ErrStaleStatus = errors.New("action status changed concurrently")

// CreateAction inserts a Pending action row holding the idempotency key.
// scheduledFor may be nil for immediate actions. The live-key unique index
// is what enforces "at most one non-terminal action per key": a violation
// is mapped to ErrConflictingAction.
func CreateAction(ctx context.Context, db *gorm.DB, chatID, targetID int64, kind domain.ActionKind, scheduledFor *time.Time, idemKey string) (*domain.Action, error) {
	now := time.Now().UTC()
	key := idemKey
	a := &domain.Action{
		ID:             uuid.NewString(),
		ChatID:         chatID,
		TargetID:       targetID,
		Kind:           kind,
		Status:         domain.StatusPending,
		ScheduledFor:   scheduledFor,
		CreatedAt:      now,
		IdempotencyKey: idemKey,
		LiveKey:        &key,
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") ||
			strings.Contains(low, "duplicate key value") {
			return nil, ErrConflictingAction
		}
		return nil, err
	}
	return a, nil
}

// GetAction fetches a single action by ID, or ErrNotFound.
func GetAction(ctx context.Context, db *gorm.DB, id string) (*domain.Action, error) {
	var a domain.Action
	err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateActionStatus transitions an action from an expected prior status to
// a new one, recording lastErr when non-empty. The WHERE clause on the prior
// status is the single-writer discipline: if the row is not in `from`, zero
// rows match and ErrStaleStatus is returned. Terminal transitions also
// retire the live key, freeing it for the next occurrence of the intent.
func UpdateActionStatus(ctx context.Context, db *gorm.DB, id string, from, to domain.ActionStatus, lastErr string) error {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if lastErr != "" {
		updates["last_error"] = lastErr
	}
	if to.Terminal() {
		updates["live_key"] = nil
	}
	res := db.WithContext(ctx).Model(&domain.Action{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// IncrementAttempt durably bumps attempt_count before an execution attempt,
// so the retry budget survives a process restart mid-backoff.
func IncrementAttempt(ctx context.Context, db *gorm.DB, id string) (int, error) {
	res := db.WithContext(ctx).Model(&domain.Action{}).
		Where("id = ?", id).
		UpdateColumn("attempt_count", gorm.Expr("attempt_count + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}
	a, err := GetAction(ctx, db, id)
	if err != nil {
		return 0, err
	}
	return a.AttemptCount, nil
}

// ListPendingScheduled returns every Pending action that carries a due time,
// ordered by (scheduled_for, created_at, id). The scheduler replays this on
// startup; past-due rows come first and fire immediately.
func ListPendingScheduled(ctx context.Context, db *gorm.DB) ([]domain.Action, error) {
	var out []domain.Action
	err := db.WithContext(ctx).
		Where("status = ? AND scheduled_for IS NOT NULL", domain.StatusPending).
		Order("scheduled_for ASC, created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CountRecentWarns returns the number of warn actions recorded against a
// target in a chat since the given time, regardless of outcome. Escalation
// logic uses this to decide when a warn should become a mute or ban.
func CountRecentWarns(ctx context.Context, db *gorm.DB, chatID, targetID int64, since time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Action{}).
		Where("chat_id = ? AND target_id = ? AND kind = ? AND created_at >= ?",
			chatID, targetID, domain.ActionWarn, since).
		Count(&n).Error
	return n, err
}

// CountActions returns the number of actions matching the optional filters,
// for audit pagination.
func CountActions(ctx context.Context, db *gorm.DB, chatID int64, status domain.ActionStatus) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.Action{})
	if chatID != 0 {
		q = q.Where("chat_id = ?", chatID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// ListActionsPage returns a page of the audit log, newest first.
func ListActionsPage(ctx context.Context, db *gorm.DB, chatID int64, status domain.ActionStatus, offset, limit int) ([]domain.Action, error) {
	q := db.WithContext(ctx).Model(&domain.Action{})
	if chatID != 0 {
		q = q.Where("chat_id = ?", chatID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.Action
	err := q.Order("created_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}
