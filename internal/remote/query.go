package remote

import "slices"

// Filter operators.
const (
	OpEqual         = "=="
	OpArrayContains = "array-contains"
	OpIn            = "in"
)

// Query describes a live query. Path is either a collection (all or
// filtered documents) or a single document.
type Query struct {
	Path    string `json:"path"`
	Field   string `json:"field,omitempty"`
	Op      string `json:"op,omitempty"`
	Value   any    `json:"value,omitempty"`
	OrderBy string `json:"orderBy,omitempty"`
}

// Collections and well-known documents.
const (
	ConversationsCollection = "conversations"
	MessagesCollection      = "messages"
	UsersCollection         = "users"
	EphemeralCollection     = "ephemeral"
	EphemeralDocID          = "state"
)

// ConversationsFor matches the conversations userID participates in.
func ConversationsFor(userID string) Query {
	return Query{
		Path:  ConversationsCollection,
		Field: "participantIds",
		Op:    OpArrayContains,
		Value: userID,
	}
}

// MessagesPath is the message collection of a conversation.
func MessagesPath(convRemoteID string) string {
	return Join(ConversationsCollection, convRemoteID, MessagesCollection)
}

// MessagesIn matches every message of a conversation, oldest first.
func MessagesIn(convRemoteID string) Query {
	return Query{Path: MessagesPath(convRemoteID), OrderBy: "serverCreatedAt"}
}

// EphemeralPath is the shared typing/delivery/read document of a conversation.
func EphemeralPath(convRemoteID string) string {
	return Join(ConversationsCollection, convRemoteID, EphemeralCollection, EphemeralDocID)
}

// EphemeralOf watches the ephemeral document of a conversation.
func EphemeralOf(convRemoteID string) Query {
	return Query{Path: EphemeralPath(convRemoteID)}
}

// UserPath is the presence document of a user.
func UserPath(userID string) string {
	return Join(UsersCollection, userID)
}

// UsersIn watches the presence documents of the given users.
func UsersIn(userIDs []string) Query {
	ids := make([]any, 0, len(userIDs))
	for _, id := range userIDs {
		ids = append(ids, id)
	}
	return Query{Path: UsersCollection, Field: "id", Op: OpIn, Value: ids}
}

// Matches reports whether doc satisfies q.
func (q Query) Matches(doc Document) bool {
	if IsCollection(q.Path) {
		if Parent(doc.Path) != Join(Segments(q.Path)...) {
			return false
		}
	} else if Join(Segments(doc.Path)...) != Join(Segments(q.Path)...) {
		return false
	}
	if q.Field == "" {
		return true
	}

	v, ok := doc.Fields[q.Field]
	if !ok {
		return false
	}
	switch q.Op {
	case OpEqual, "":
		return equalValues(v, q.Value)
	case OpArrayContains:
		return slices.ContainsFunc(anySlice(v), func(e any) bool { return equalValues(e, q.Value) })
	case OpIn:
		return slices.ContainsFunc(anySlice(q.Value), func(e any) bool { return equalValues(e, v) })
	default:
		return false
	}
}

func anySlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	default:
		return nil
	}
}

func equalValues(a, b any) bool {
	if ai, ok := Int64(a); ok {
		bi, ok := Int64(b)
		return ok && ai == bi
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}
