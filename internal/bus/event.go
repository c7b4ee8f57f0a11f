package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published outside the outbox package. Subscribers filter by
// namespace prefix ("sync.", "session.", "outbox.").
const (
	KindStatusChanged      = "session.status_changed"
	KindConversationSynced = "sync.conversation"
	KindMessagesSynced     = "sync.messages"
	KindEphemeralSynced    = "sync.ephemeral"
	KindPresenceSynced     = "sync.presence"
	KindActiveChanged      = "sync.active_changed"
)
