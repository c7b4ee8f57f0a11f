package sync

import (
	"slices"
	"time"

	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/store"
)

// Projection is what an ephemeral state document means for the local store.
type Projection struct {
	Typing   []store.TypingState
	Receipts []store.Receipt
	// MinDelivered and MinRead are the oldest delivered/read markers among
	// the other participants. A participant without a marker holds them at 0.
	MinDelivered int64
	MinRead      int64
}

// Project derives typing rows, read receipts and status watermarks from the
// fields of an ephemeral state document. Typing entries older than ttl
// project as not typing.
func Project(convID, me string, participants []string, fields map[string]any, now time.Time, ttl time.Duration) Projection {
	var p Projection

	typing, _ := remote.Map(fields["typing"])
	for _, uid := range sortedKeys(typing) {
		entry, ok := remote.Map(typing[uid])
		if !ok {
			continue
		}
		updatedAt, _ := remote.Int64(entry["updatedAt"])
		isTyping, _ := remote.Bool(entry["isTyping"])
		p.Typing = append(p.Typing, store.TypingState{
			ConversationID: convID,
			UserID:         uid,
			IsTyping:       isTyping && !expired(updatedAt, now, ttl),
			UpdatedAt:      updatedAt,
		})
	}

	read, _ := remote.Map(fields["read"])
	for _, uid := range sortedKeys(read) {
		at, ok := remote.Int64(read[uid])
		if !ok || at <= 0 {
			continue
		}
		p.Receipts = append(p.Receipts, store.Receipt{ConversationID: convID, UserID: uid, LastReadAt: at})
	}

	delivered, _ := remote.Map(fields["delivered"])
	p.MinDelivered = watermark(delivered, me, participants)
	p.MinRead = watermark(read, me, participants)
	return p
}

func expired(updatedAt int64, now time.Time, ttl time.Duration) bool {
	return now.UnixMilli()-updatedAt > ttl.Milliseconds()
}

// watermark is the minimum marker over every participant except me.
func watermark(marks map[string]any, me string, participants []string) int64 {
	var (
		low  int64
		seen bool
	)
	for _, uid := range participants {
		if uid == me {
			continue
		}
		at, _ := remote.Int64(marks[uid])
		if !seen || at < low {
			low = at
			seen = true
		}
	}
	return low
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
