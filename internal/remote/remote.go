// Package remote describes the authoritative document store the local cache
// synchronizes with: push subscriptions delivering change batches, and
// document writes acknowledged by the server.
package remote

import (
	"context"
	"strings"
)

// Mode selects how Write combines fields with an existing document.
type Mode string

const (
	// Merge deep-merges nested maps into the existing document.
	Merge Mode = "merge"
	// Overwrite replaces the document.
	Overwrite Mode = "overwrite"
)

// ChangeKind is the kind of a document change.
type ChangeKind string

const (
	Added    ChangeKind = "added"
	Modified ChangeKind = "modified"
	Removed  ChangeKind = "removed"
)

// Document is a remote document. CreateTime is assigned by the server clock
// when the document is first written and never changes.
type Document struct {
	ID         string         `json:"id"`
	Path       string         `json:"path"`
	Fields     map[string]any `json:"fields"`
	CreateTime int64          `json:"createTime"`
}

// Change is one entry of a change batch.
type Change struct {
	Kind ChangeKind `json:"kind"`
	Doc  Document   `json:"doc"`
}

// Batch is a set of changes delivered together.
type Batch struct {
	Changes []Change `json:"changes"`
}

// Ack confirms a write. DocID is the id of the written document, assigned by
// the server when the write targeted a collection.
type Ack struct {
	DocID      string `json:"docId"`
	Path       string `json:"path"`
	ServerTime int64  `json:"serverTime"`
}

// Subscription is a live query. The channel is closed after Close or when
// the store can no longer deliver.
type Subscription interface {
	C() <-chan Batch
	Close()
}

// Store is the remote document store.
type Store interface {
	Subscribe(ctx context.Context, q Query) (Subscription, error)
	Write(ctx context.Context, path string, fields map[string]any, mode Mode) (Ack, error)
}

// IsCollection reports whether path names a collection (odd segment count).
func IsCollection(path string) bool {
	return len(Segments(path))%2 == 1
}

// Segments splits a slash separated path, ignoring empty segments.
func Segments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Parent returns the collection path of a document path.
func Parent(path string) string {
	segs := Segments(path)
	if len(segs) == 0 {
		return ""
	}
	return Join(segs[:len(segs)-1]...)
}
