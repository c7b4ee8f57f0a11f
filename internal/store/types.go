package store

// User is a locally mirrored account, updated by the presence heartbeat and
// remote presence pushes.
type User struct {
	ID           string
	RemoteID     string
	DisplayName  string
	LastActiveAt int64
	IsOnline     bool
}

// Conversation is a local conversation row. Ref tells whether the remote
// document has been linked yet.
type Conversation struct {
	Ref       ConversationRef
	CreatedAt int64
	UpdatedAt int64
}

// ID returns the stable local id.
func (c *Conversation) ID() string {
	return c.Ref.LocalID()
}

// Participant is a membership edge.
type Participant struct {
	ConversationID string
	UserID         string
	Role           string
}

// ConversationPreview is one row of the conversation list.
type ConversationPreview struct {
	ID              string
	RemoteID        string
	LastMessageText string
	LastMessageTime int64
	UnreadCount     int
	UpdatedAt       int64
}

// Message is a local message row. ServerCreatedAt is zero until the
// authoritative clock has assigned it.
type Message struct {
	ID              string
	RemoteID        string
	ConversationID  string
	SenderID        string
	Text            string
	CreatedAt       int64
	ServerCreatedAt int64
	Status          MessageStatus
}

// Pending reports whether the message has not been acknowledged by the server.
func (m *Message) Pending() bool {
	return m.ServerCreatedAt == 0
}

// Receipt is a per-user read marker.
type Receipt struct {
	ConversationID string
	UserID         string
	LastReadAt     int64
}

// TypingState is an ephemeral typing marker.
type TypingState struct {
	ConversationID string
	UserID         string
	IsTyping       bool
	UpdatedAt      int64
}

// Op types stored in sync_ops.
const (
	OpCreateConversation = "createConversation"
	OpSendMessage        = "sendMessage"
	OpMarkRead           = "markRead"
	OpSetTyping          = "setTyping"
)

// OutboxOp is a pending mutation waiting to be applied remotely.
type OutboxOp struct {
	ID           int64
	Type         string
	Payload      []byte
	CreatedAt    int64
	AttemptCount int
	LastError    string
}
