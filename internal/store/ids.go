package store

import "database/sql"

// ConversationRef identifies a conversation before and after its remote
// document exists. It is either LocalOnly or Linked.
type ConversationRef interface {
	LocalID() string
	isConversationRef()
}

// LocalOnly is a conversation whose create op has not been acknowledged.
type LocalOnly struct {
	Local string
}

// Linked is a conversation bound to its remote document. The binding never changes.
type Linked struct {
	Local  string
	Remote string
}

func (r LocalOnly) LocalID() string { return r.Local }
func (r Linked) LocalID() string    { return r.Local }

func (LocalOnly) isConversationRef() {}
func (Linked) isConversationRef()    {}

// RemoteID returns the remote id of ref, if linked.
func RemoteID(ref ConversationRef) (string, bool) {
	if l, ok := ref.(Linked); ok {
		return l.Remote, true
	}
	return "", false
}

func refFrom(local string, remote sql.NullString) ConversationRef {
	if remote.Valid && remote.String != "" {
		return Linked{Local: local, Remote: remote.String}
	}
	return LocalOnly{Local: local}
}

// MessageStatus is the delivery state of an outgoing message. The zero
// value means no status has been observed yet.
type MessageStatus string

const (
	StatusNone      MessageStatus = ""
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses; a transition is only valid to a higher rank.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

func statusFrom(s sql.NullString) MessageStatus {
	if !s.Valid {
		return StatusNone
	}
	return MessageStatus(s.String)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
