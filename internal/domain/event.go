package domain

import "time"

// EventKind classifies a normalized inbound update.
type EventKind string

const (
	EventMessage      EventKind = "message"
	EventMemberJoin   EventKind = "member_join"
	EventMemberLeave  EventKind = "member_leave"
	EventEdit         EventKind = "edit"
	EventAdminCommand EventKind = "admin_command"
	EventRawUpdate    EventKind = "raw_update"
)

// Transport tags which client library delivered an update.
type Transport string

const (
	// TransportBotAPI is the high-level Bot API client: ordinary messages,
	// membership changes, commands, and all punitive calls.
	TransportBotAPI Transport = "botapi"

	// TransportMTProto is the raw protocol client used for operations the
	// Bot API cannot perform (member enumeration, full channel metadata).
	TransportMTProto Transport = "mtproto"
)

// Event is the single normalized representation of an inbound update from
// either transport. Downstream of the normalizer nothing distinguishes the
// two sources except the Source tag.
//
// An Event is immutable once built and is owned exclusively by the pipeline
// stage currently processing it; stages hand it off by value.
type Event struct {
	// ID is an opaque correlation identifier (UUID).
	ID string

	// ChatID is the chat the update belongs to. Always non-zero; updates
	// without a chat are rejected by the normalizer.
	ChatID int64

	// ActorID is the user that caused the update, zero when unattributable
	// (e.g. service messages).
	ActorID int64

	Kind   EventKind
	Source Transport

	// Seq is a process-local logical clock assigned at normalization time.
	// It orders events from the two transports into one stream; it is not
	// a wall-clock value.
	Seq uint64

	// OccurredAt is the transport-reported time of the update, falling back
	// to receipt time when the transport supplies none.
	OccurredAt time.Time

	// Payload carries the transport-specific body (message text, member
	// diff, raw update blob) opaque to the dispatcher.
	Payload any
}
