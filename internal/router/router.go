// Package router applies incoming source events to the entity store.
// Routing never fails: unknown event types are skipped and malformed
// payloads are dropped, because one bad frame must not poison the
// stream.
package router

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/overlook-dev/overlook/internal/store"
	"github.com/overlook-dev/overlook/internal/types"
)

// Router is the sole mutation path into the store.
type Router struct {
	store *store.Store
	log   *slog.Logger
}

// New creates a router over the given store.
func New(st *store.Store, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{store: st, log: log.With("component", "router")}
}

// Apply routes one event. It reports whether the store was mutated so
// the caller knows when to re-derive and fan out.
func (r *Router) Apply(ev types.SourceEvent) bool {
	switch ev.Type {
	case "session.created", "session.updated":
		return r.applySession(ev)
	case "message.created", "message.updated":
		return r.applyMessage(ev)
	case "part.created", "part.updated":
		return r.applyPart(ev, false)
	case "message.part.updated":
		// Aliased form: the part rides under a nested field.
		return r.applyPart(ev, true)
	case "session.status":
		return r.applyStatus(ev)
	case "session.idle":
		return r.applyIdle(ev)
	case "instance.updated":
		return r.applyInstance(ev)
	case "instance.pruned":
		return r.applyPrune(ev)
	default:
		return false
	}
}

// unwrap decodes a payload that may arrive either directly or wrapped
// under an "info" field, depending on the emitting server version.
func unwrap(data json.RawMessage, v any) bool {
	if len(data) == 0 || string(data) == "null" {
		return false
	}
	var wrapper struct {
		Info json.RawMessage `json:"info"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Info) > 0 {
		data = wrapper.Info
	}
	return json.Unmarshal(data, v) == nil
}

func (r *Router) applySession(ev types.SourceEvent) bool {
	var sess types.Session
	if !unwrap(ev.Data, &sess) || sess.ID == "" {
		r.log.Debug("dropped malformed session payload", "type", ev.Type, "source", ev.Source)
		return false
	}
	r.store.UpsertSession(sess)
	r.recordOrigin(sess.ID, ev.Source)
	return true
}

func (r *Router) applyMessage(ev types.SourceEvent) bool {
	var msg types.Message
	if !unwrap(ev.Data, &msg) || msg.ID == "" {
		r.log.Debug("dropped malformed message payload", "type", ev.Type, "source", ev.Source)
		return false
	}
	r.store.UpsertMessage(msg)
	if msg.SessionID != "" {
		// Message traffic is evidence the session is live.
		r.store.SetSessionStatus(msg.SessionID, types.StatusRunning)
		r.recordOrigin(msg.SessionID, ev.Source)
	}
	return true
}

func (r *Router) applyPart(ev types.SourceEvent, aliased bool) bool {
	data := ev.Data
	if aliased {
		var wrapper struct {
			Part json.RawMessage `json:"part"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil || len(wrapper.Part) == 0 {
			r.log.Debug("dropped aliased part payload without part field", "source", ev.Source)
			return false
		}
		data = wrapper.Part
	}

	var part types.Part
	if !unwrap(data, &part) || part.ID == "" {
		r.log.Debug("dropped malformed part payload", "type", ev.Type, "source", ev.Source)
		return false
	}
	r.store.UpsertPart(part)

	// The owning message may not have arrived yet; a dangling reference
	// is tolerated and simply skips the activity side effect.
	if sessionID, ok := r.store.SessionForMessage(part.MessageID); ok {
		r.store.SetSessionStatus(sessionID, types.StatusRunning)
		r.recordOrigin(sessionID, ev.Source)
	}
	return true
}

func (r *Router) applyStatus(ev types.SourceEvent) bool {
	var payload struct {
		SessionID string `json:"sessionID"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.SessionID == "" {
		r.log.Debug("dropped malformed status payload", "source", ev.Source)
		return false
	}
	r.store.SetSessionStatus(payload.SessionID, payload.Status)
	r.recordOrigin(payload.SessionID, ev.Source)
	return true
}

func (r *Router) applyIdle(ev types.SourceEvent) bool {
	var payload struct {
		SessionID string `json:"sessionID"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.SessionID == "" {
		r.log.Debug("dropped malformed idle payload", "source", ev.Source)
		return false
	}
	r.store.ClearSessionStatus(payload.SessionID)
	return true
}

// applyInstance handles the supervisor's synthetic instance events:
// discovery results and connection state transitions.
func (r *Router) applyInstance(ev types.SourceEvent) bool {
	var inst types.Instance
	if err := json.Unmarshal(ev.Data, &inst); err != nil || inst.Port == 0 {
		r.log.Debug("dropped malformed instance payload", "source", ev.Source)
		return false
	}
	r.store.UpsertInstance(inst)
	return true
}

// applyPrune drops instances absent from the latest discovery scan.
func (r *Router) applyPrune(ev types.SourceEvent) bool {
	var payload struct {
		LivePorts []int `json:"livePorts"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		r.log.Debug("dropped malformed prune payload", "source", ev.Source)
		return false
	}
	live := make(map[int]bool, len(payload.LivePorts))
	for _, p := range payload.LivePorts {
		live[p] = true
	}
	return r.store.PruneInstances(live) > 0
}

// recordOrigin remembers which server emitted for the session, so
// commands can be routed back to it. Non-server sources carry no port.
func (r *Router) recordOrigin(sessionID, source string) {
	port, ok := originPort(source)
	if !ok {
		return
	}
	r.store.SetSessionOrigin(sessionID, port)
}

// originPort parses the "server:<port>" source identifier.
func originPort(source string) (int, bool) {
	rest, ok := strings.CutPrefix(source, "server:")
	if !ok {
		return 0, false
	}
	port, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return port, true
}
