// Package types defines the entities and event shapes shared by every
// overlook component: sessions, messages, parts, instances, projects,
// cursors, and the normalized source event.
package types

import (
	"encoding/json"
	"time"
)

// Timestamps holds creation/update times in Unix milliseconds.
type Timestamps struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated,omitempty"`
}

// Session is one conversation on a session server.
type Session struct {
	ID        string     `json:"id"`
	Directory string     `json:"directory"`
	Title     string     `json:"title"`
	Version   string     `json:"version,omitempty"`
	Time      Timestamps `json:"time"`
}

// CacheUsage holds prompt cache token counts.
type CacheUsage struct {
	Read  int64 `json:"read"`
	Write int64 `json:"write"`
}

// TokenUsage holds per-message token accounting as reported by the server.
type TokenUsage struct {
	Input     int64      `json:"input"`
	Output    int64      `json:"output"`
	Reasoning int64      `json:"reasoning"`
	Cache     CacheUsage `json:"cache"`
}

// MessageTime holds message lifecycle times in Unix milliseconds.
// Completed is zero while the message is still being produced.
type MessageTime struct {
	Created   int64 `json:"created"`
	Completed int64 `json:"completed,omitempty"`
}

// Message belongs to a Session by reference. The reference may dangle
// briefly because event arrival order is not guaranteed.
type Message struct {
	ID                string      `json:"id"`
	SessionID         string      `json:"sessionID"`
	Role              string      `json:"role"`
	Time              MessageTime `json:"time"`
	Tokens            *TokenUsage `json:"tokens,omitempty"`
	ModelContextLimit int64       `json:"modelContextLimit,omitempty"`
}

// PartState carries the execution state of a tool part. Status is the
// field activity detection looks at.
type PartState struct {
	Status string `json:"status"`
}

// Part belongs to a Message by reference.
type Part struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageID"`
	Type      string    `json:"type"`
	Tool      string    `json:"tool,omitempty"`
	State     PartState `json:"state"`
}

// InstanceStatus is the liveness of one discovered server.
type InstanceStatus string

const (
	InstanceConnecting   InstanceStatus = "connecting"
	InstanceConnected    InstanceStatus = "connected"
	InstanceDisconnected InstanceStatus = "disconnected"
	InstanceStopped      InstanceStatus = "stopped"
)

// Instance is a discovered session server, keyed by port.
type Instance struct {
	Port      int            `json:"port"`
	Directory string         `json:"directory"`
	Status    InstanceStatus `json:"status"`
	LastSeen  time.Time      `json:"lastSeen"`
}

// Project groups instances and sessions sharing a working directory.
type Project struct {
	Worktree string `json:"worktree"`
}

// Cursor is a durable per-project resume marker. Offset is an opaque
// numeric string; it is stored and compared as text, not parsed.
type Cursor struct {
	ProjectKey string `json:"projectKey"`
	Offset     string `json:"offset"`
	Timestamp  int64  `json:"timestamp"`
}

// EventEnvelope is the wire shape emitted by a server's live event
// connection before normalization.
type EventEnvelope struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// SourceEvent is the normalized unit of ingested data. Sequence numbers
// are per-source; they carry no meaning across sources.
type SourceEvent struct {
	EventID   string          `json:"eventID"`
	Source    string          `json:"source"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  *int64          `json:"sequence,omitempty"`
}

// Session status values used by derivation. SessionRunning is the only
// value that marks a session active.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
)
