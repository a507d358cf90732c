// Package transport defines the collaborator boundary to the two Telegram
// client libraries: the high-level Bot API client and the raw MTProto client.
// The engine consumes raw updates from both and issues moderation calls
// through whichever client owns the capability; neither wire protocol is
// implemented here.
package transport

import (
	"context"
	"time"

	"github.com/warden-bot/warden/internal/domain"
)

// RawUpdate is an untyped update object as delivered by a transport receive
// loop, before normalization.
type RawUpdate struct {
	// Source identifies the delivering client.
	Source domain.Transport

	// ChatID is zero when the transport could not attribute a chat; the
	// normalizer rejects such updates.
	ChatID int64

	// SenderID is the originating user, zero for service updates.
	SenderID int64

	// Type is the transport's own update discriminator (e.g. "message",
	// "chat_member", "edited_message", "updateChannelParticipant").
	Type string

	// SentAt is the transport-reported timestamp; zero when absent.
	SentAt time.Time

	// Body is the transport-specific payload, passed through opaquely.
	Body any
}

// ModerationCall is a request to mutate chat state: the subset of an Action
// a client needs to perform the external call.
type ModerationCall struct {
	Kind     domain.ActionKind
	ChatID   int64
	TargetID int64
}

// BotAPI is the high-level client boundary. It delivers ordinary updates and
// accepts all punitive calls. Implementations must honor ctx deadlines and
// classify failures via *Error.
type BotAPI interface {
	// Updates exposes the receive stream. The channel closes when ctx ends.
	Updates(ctx context.Context) <-chan RawUpdate

	// Moderate performs a punitive call (ban, mute, kick, …). Performing an
	// already-applied mutation (banning a banned user) must succeed as a
	// no-op wherever Telegram allows, keeping the call idempotent.
	Moderate(ctx context.Context, call ModerationCall) error
}

// MTProto is the raw protocol client boundary for operations outside the
// Bot API's reach.
type MTProto interface {
	// Updates exposes the raw update stream. The channel closes when ctx ends.
	Updates(ctx context.Context) <-chan RawUpdate

	// Members enumerates chat member ids (the Bot API cannot).
	Members(ctx context.Context, chatID int64) ([]int64, error)

	// ChatTitle reads full channel metadata not exposed to bots.
	ChatTitle(ctx context.Context, chatID int64) (string, error)
}
