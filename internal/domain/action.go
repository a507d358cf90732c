// Package domain defines the persistence models and value types shared by the
// moderation engine: durable Actions, normalized Events, and the idempotency
// key discipline that keeps re-submitted intents from producing duplicate
// effects. Action is mapped with GORM and forms the audit trail of the bot.
package domain

import (
	"time"
)

// ActionKind enumerates the moderation operations the engine can perform.
type ActionKind string

const (
	ActionMute          ActionKind = "mute"
	ActionBan           ActionKind = "ban"
	ActionUnban         ActionKind = "unban"
	ActionUnmute        ActionKind = "unmute"
	ActionWarn          ActionKind = "warn"
	ActionKick          ActionKind = "kick"
	ActionDeleteMessage ActionKind = "delete_message"
)

// Valid reports whether k is a recognized action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionMute, ActionBan, ActionUnban, ActionUnmute,
		ActionWarn, ActionKick, ActionDeleteMessage:
		return true
	}
	return false
}

// ActionStatus is the lifecycle state of an Action.
//
// Transitions: Pending → InFlight → {Executed, Failed, Cancelled}, plus
// Pending → Cancelled when an action is superseded before execution. All
// transitions go through the store with an expected-prior-status guard, so
// two executors racing on the same row cannot both win.
type ActionStatus string

const (
	StatusPending   ActionStatus = "pending"
	StatusInFlight  ActionStatus = "in_flight"
	StatusExecuted  ActionStatus = "executed"
	StatusFailed    ActionStatus = "failed"
	StatusCancelled ActionStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal rows are retained
// for audit and are never updated again.
func (s ActionStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Action is a durably recorded moderation operation against a chat member.
//
// Rows are never physically deleted; terminal rows form the audit log. The
// IdempotencyKey is unique among live (non-terminal) rows, which is what
// makes re-submitting the same logical intent a no-op at the store layer:
// the key is blanked when a row reaches a terminal state, freeing it for the
// next logical occurrence of the same intent.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ChatID / TargetID: the chat and the member the action applies to.
//   - Kind: moderation operation (see ActionKind).
//   - Status: lifecycle state, updated only via conditional writes.
//   - ScheduledFor: optional future due time; nil means immediate.
//   - AttemptCount: number of execution attempts so far, durable across
//     restarts so retry budgets survive a crash.
//   - IdempotencyKey: deterministic key, see domain.IdempotencyKey.
//   - LiveKey: equals IdempotencyKey while the row is non-terminal, NULL
//     afterwards; carries the store's uniqueness constraint. A pointer so
//     retired keys become NULL rather than colliding empty strings.
//   - LastError: most recent failure detail, for operator reporting.
type Action struct {
	ID             string       `json:"id"              gorm:"type:char(36);primaryKey"`
	ChatID         int64        `json:"chat_id"         gorm:"not null;index:idx_chat_actions,priority:1"`
	TargetID       int64        `json:"target_id"       gorm:"not null;index"`
	Kind           ActionKind   `json:"kind"            gorm:"type:varchar(32);not null"`
	Status         ActionStatus `json:"status"          gorm:"type:varchar(16);not null;index"`
	ScheduledFor   *time.Time   `json:"scheduled_for,omitempty" gorm:"index"`
	CreatedAt      time.Time    `json:"created_at"      gorm:"index:idx_chat_actions,priority:2"`
	UpdatedAt      time.Time    `json:"updated_at"`
	AttemptCount   int          `json:"attempt_count"   gorm:"not null;default:0"`
	IdempotencyKey string       `json:"idempotency_key" gorm:"type:varchar(128);not null;index"`
	LiveKey        *string      `json:"-"               gorm:"type:varchar(128);uniqueIndex:ux_live_key"`
	LastError      string       `json:"last_error,omitempty" gorm:"type:text"`
}

// TableName returns the database table name for Action.
func (Action) TableName() string { return "actions" }

// Scheduled reports whether the action carries a future-or-past due time
// rather than running immediately on creation.
func (a *Action) Scheduled() bool { return a.ScheduledFor != nil }

// Due reports whether a scheduled action is due at the given instant.
// Immediate actions are always due.
func (a *Action) Due(now time.Time) bool {
	return a.ScheduledFor == nil || !a.ScheduledFor.After(now)
}
