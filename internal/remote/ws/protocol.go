// Package ws carries the remote.Store contract over a single WebSocket:
// Client is the store seen by the sync engine, Handler serves any
// remote.Store to such clients.
package ws

import "github.com/matheus3301/chatsync/internal/remote"

// Frame types.
const (
	frameSubscribe   = "subscribe"
	frameSubscribed  = "subscribed"
	frameUnsubscribe = "unsubscribe"
	frameWrite       = "write"
	frameAck         = "ack"
	frameBatch       = "batch"
	frameError       = "error"
)

// frame is the JSON envelope exchanged in both directions. ID correlates a
// request with its reply; Sub names the subscription a batch belongs to.
type frame struct {
	Type   string         `json:"type"`
	ID     int64          `json:"id,omitempty"`
	Sub    int64          `json:"sub,omitempty"`
	Query  *remote.Query  `json:"query,omitempty"`
	Path   string         `json:"path,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	Mode   remote.Mode    `json:"mode,omitempty"`
	Ack    *remote.Ack    `json:"ack,omitempty"`
	Batch  *remote.Batch  `json:"batch,omitempty"`
	Error  string         `json:"error,omitempty"`

	// err is set on frames the client synthesizes for a lost connection.
	err error
}

// Path the relay serves on.
const Path = "/v1/sync"

const readLimit = 4 << 20
