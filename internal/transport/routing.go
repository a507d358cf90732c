package transport

import "github.com/warden-bot/warden/internal/domain"

// routing is the static capability table deciding which client performs each
// action kind. Every punitive call goes through the Bot API; the raw client
// only backfills membership and metadata reads, so nothing routes to it
// here. The table stays explicit so adding an MTProto-only action kind is a
// one-line change.
var routing = map[domain.ActionKind]domain.Transport{
	domain.ActionMute:          domain.TransportBotAPI,
	domain.ActionBan:           domain.TransportBotAPI,
	domain.ActionUnban:         domain.TransportBotAPI,
	domain.ActionUnmute:        domain.TransportBotAPI,
	domain.ActionWarn:          domain.TransportBotAPI,
	domain.ActionKick:          domain.TransportBotAPI,
	domain.ActionDeleteMessage: domain.TransportBotAPI,
}

// RouteFor returns the transport that owns the capability for kind.
// The second return is false for unknown kinds.
func RouteFor(kind domain.ActionKind) (domain.Transport, bool) {
	t, ok := routing[kind]
	return t, ok
}
