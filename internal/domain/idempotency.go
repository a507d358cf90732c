package domain

import "fmt"

// IdempotencyKey derives the deterministic key that identifies a logical
// moderation intent. Two submissions of the same intent (same chat, same
// target, same kind, same rule version) always produce the same key, so the
// store's live-key uniqueness constraint collapses them into one Action.
//
// ruleVersion distinguishes re-issues of an intent after the governing rule
// changed (e.g. a ban re-applied under a new federation list); bumping it
// yields a fresh key and therefore a fresh Action.
//
// The chat/target scoping mirrors the cache key discipline used for all
// per-chat-member state ("a:{chat}:{target}:…").
func IdempotencyKey(chatID, targetID int64, kind ActionKind, ruleVersion int) string {
	return fmt.Sprintf("a:%d:%d:%s:%d", chatID, targetID, kind, ruleVersion)
}
