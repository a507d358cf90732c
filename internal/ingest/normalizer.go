// Package ingest converts transport-specific raw updates into the single
// tagged Event type consumed by the dispatcher. Normalization is a pure,
// stateless mapping aside from the logical-clock counter; ordering is the
// dispatcher's job.
package ingest

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/warden-bot/warden/internal/domain"
	"github.com/warden-bot/warden/internal/transport"
)

// ErrMalformedUpdate is returned when a raw update lacks fields required to
// process it (most importantly a chat identifier). Such updates are dropped
// with a log and never retried.
var ErrMalformedUpdate = errors.New("malformed transport update")

// Normalizer maps raw updates from either transport into Events, stamping
// each with a process-local logical clock so the two streams interleave
// into one total order.
type Normalizer struct {
	seq uint64
	now func() time.Time // test seam
}

// New constructs a Normalizer.
func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// Normalize converts a raw update into an Event or fails with
// ErrMalformedUpdate. The mapping keys off the transport's own update
// discriminator; anything unrecognized from the raw client is preserved as
// a raw-update event rather than dropped, since MTProto delivers update
// types the Bot API has no name for.
func (n *Normalizer) Normalize(u transport.RawUpdate) (domain.Event, error) {
	if u.ChatID == 0 {
		return domain.Event{}, ErrMalformedUpdate
	}
	if u.Source != domain.TransportBotAPI && u.Source != domain.TransportMTProto {
		return domain.Event{}, ErrMalformedUpdate
	}

	kind, err := kindOf(u)
	if err != nil {
		return domain.Event{}, err
	}

	occurred := u.SentAt
	if occurred.IsZero() {
		occurred = n.now()
	}

	return domain.Event{
		ID:         uuid.NewString(),
		ChatID:     u.ChatID,
		ActorID:    u.SenderID,
		Kind:       kind,
		Source:     u.Source,
		Seq:        atomic.AddUint64(&n.seq, 1),
		OccurredAt: occurred,
		Payload:    u.Body,
	}, nil
}

// kindOf maps transport update discriminators onto the event taxonomy.
func kindOf(u transport.RawUpdate) (domain.EventKind, error) {
	switch strings.ToLower(u.Type) {
	case "message":
		return domain.EventMessage, nil
	case "edited_message", "edit":
		return domain.EventEdit, nil
	case "chat_member_join", "member_join", "new_chat_members":
		return domain.EventMemberJoin, nil
	case "chat_member_leave", "member_leave", "left_chat_member":
		return domain.EventMemberLeave, nil
	case "admin_command", "command":
		return domain.EventAdminCommand, nil
	case "":
		return "", ErrMalformedUpdate
	default:
		// Unknown discriminators only make sense from the raw client.
		if u.Source == domain.TransportMTProto {
			return domain.EventRawUpdate, nil
		}
		return "", ErrMalformedUpdate
	}
}
