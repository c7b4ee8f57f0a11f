// Package memory is an in-process remote.Store. It backs tests and the
// development relay.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/errs"
	"github.com/matheus3301/chatsync/internal/remote"
)

// Store keeps documents in memory and fans out changes to live queries.
type Store struct {
	mu      sync.Mutex
	docs    map[string]*remote.Document
	subs    map[int]*subscription
	next    int
	offline bool
	last    int64
	now     func() int64
	writes  int
}

type subscription struct {
	q    remote.Query
	feed *remote.Feed
}

// New creates an empty store using the wall clock.
func New() *Store {
	return &Store{
		docs: make(map[string]*remote.Document),
		subs: make(map[int]*subscription),
		now:  func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock replaces the server clock.
func (s *Store) SetClock(now func() int64) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetOffline makes every Subscribe and Write fail with errs.ErrOffline.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

// SubscriberCount returns the number of open subscriptions whose path has
// the given prefix ("" counts all).
func (s *Store) SubscriberCount(pathPrefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sub := range s.subs {
		if pathPrefix == "" || hasPrefix(sub.q.Path, pathPrefix) {
			n++
		}
	}
	return n
}

// WriteCount returns the number of successful writes.
func (s *Store) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Get returns a copy of the document at path.
func (s *Store) Get(path string) (remote.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[normalize(path)]
	if !ok {
		return remote.Document{}, false
	}
	return copyDoc(d), true
}

// List returns copies of the documents directly under a collection, in
// creation order.
func (s *Store) List(collection string) []remote.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matchLocked(remote.Query{Path: collection})
}

// Subscribe implements remote.Store. The first batch holds every matching
// document as added.
func (s *Store) Subscribe(ctx context.Context, q remote.Query) (remote.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, errs.ErrOffline
	}

	id := s.next
	s.next++
	feed := remote.NewFeed(func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	})
	s.subs[id] = &subscription{q: q, feed: feed}

	snapshot := s.matchLocked(q)
	changes := make([]remote.Change, 0, len(snapshot))
	for _, d := range snapshot {
		changes = append(changes, remote.Change{Kind: remote.Added, Doc: d})
	}
	feed.Push(remote.Batch{Changes: changes})

	go func() {
		select {
		case <-ctx.Done():
			feed.Close()
		case <-feed.Done():
		}
	}()
	return feed, nil
}

// Write implements remote.Store. Writing to a collection creates a document
// with a generated id. ServerTimestamp values are replaced by the server clock.
func (s *Store) Write(ctx context.Context, path string, fields map[string]any, mode remote.Mode) (remote.Ack, error) {
	if err := ctx.Err(); err != nil {
		return remote.Ack{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return remote.Ack{}, errs.ErrOffline
	}

	now := s.tickLocked()
	docPath := normalize(path)
	if remote.IsCollection(docPath) {
		docPath = remote.Join(docPath, uuid.NewString())
	}
	segs := remote.Segments(docPath)
	incoming := stampServerTime(remote.CloneFields(fields), now)

	prev, exists := s.docs[docPath]
	var before *remote.Document
	doc := &remote.Document{ID: segs[len(segs)-1], Path: docPath, CreateTime: now}
	if exists {
		cp := copyDoc(prev)
		before = &cp
		doc.CreateTime = prev.CreateTime
		if mode == remote.Merge {
			doc.Fields = remote.MergeFields(remote.CloneFields(prev.Fields), incoming)
		} else {
			doc.Fields = incoming
		}
	} else {
		doc.Fields = incoming
	}
	s.docs[docPath] = doc
	s.writes++

	s.fanoutLocked(before, doc)
	return remote.Ack{DocID: doc.ID, Path: docPath, ServerTime: now}, nil
}

func (s *Store) fanoutLocked(before, after *remote.Document) {
	for _, sub := range s.subs {
		matchedBefore := before != nil && sub.q.Matches(*before)
		matchesNow := sub.q.Matches(*after)
		var kind remote.ChangeKind
		switch {
		case matchesNow && matchedBefore:
			kind = remote.Modified
		case matchesNow:
			kind = remote.Added
		case matchedBefore:
			kind = remote.Removed
		default:
			continue
		}
		sub.feed.Push(remote.Batch{Changes: []remote.Change{{Kind: kind, Doc: copyDoc(after)}}})
	}
}

func (s *Store) matchLocked(q remote.Query) []remote.Document {
	var out []remote.Document
	for _, d := range s.docs {
		if q.Matches(*d) {
			out = append(out, copyDoc(d))
		}
	}
	slices.SortFunc(out, func(a, b remote.Document) int {
		if q.OrderBy != "" {
			if c := cmp.Compare(a.GetInt64(q.OrderBy), b.GetInt64(q.OrderBy)); c != 0 {
				return c
			}
		}
		if c := cmp.Compare(a.CreateTime, b.CreateTime); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
	return out
}

// tickLocked returns a strictly increasing server time.
func (s *Store) tickLocked() int64 {
	now := s.now()
	if now <= s.last {
		now = s.last + 1
	}
	s.last = now
	return now
}

func stampServerTime(fields map[string]any, now int64) map[string]any {
	for k, v := range fields {
		switch t := v.(type) {
		case string:
			if t == remote.ServerTimestamp {
				fields[k] = now
			}
		case map[string]any:
			fields[k] = stampServerTime(t, now)
		}
	}
	return fields
}

func copyDoc(d *remote.Document) remote.Document {
	return remote.Document{
		ID:         d.ID,
		Path:       d.Path,
		Fields:     remote.CloneFields(d.Fields),
		CreateTime: d.CreateTime,
	}
}

func normalize(path string) string {
	return remote.Join(remote.Segments(path)...)
}

func hasPrefix(path, prefix string) bool {
	p, pre := normalize(path), normalize(prefix)
	return len(p) >= len(pre) && p[:len(pre)] == pre
}
