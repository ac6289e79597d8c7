// Package derive turns raw store contents into the immutable enriched
// snapshot handed to consumers. Everything here is pure: inputs are
// never mutated and recomputation is full on every call, which is fine
// at the low-thousands session scale this targets.
package derive

import (
	"sort"

	"github.com/overlook-dev/overlook/internal/store"
	"github.com/overlook-dev/overlook/internal/types"
)

// ConnectionStatus is the aggregate health of the server fleet.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)

// EnrichedMessage is a message with its parts attached.
type EnrichedMessage struct {
	types.Message
	Parts       []types.Part `json:"parts"`
	IsStreaming bool         `json:"isStreaming"`
}

// EnrichedSession is a session with derived activity fields.
type EnrichedSession struct {
	types.Session
	Status              string            `json:"status"`
	IsActive            bool              `json:"isActive"`
	LastActivityAt      int64             `json:"lastActivityAt"`
	ContextUsagePercent float64           `json:"contextUsagePercent"`
	Messages            []EnrichedMessage `json:"messages"`
}

// EnrichedProject aggregates instances and sessions sharing a worktree.
type EnrichedProject struct {
	types.Project
	Instances          []types.Instance `json:"instances"`
	ConnectedInstances int              `json:"connectedInstances"`
	SessionCount       int              `json:"sessionCount"`
	ActiveSessionCount int              `json:"activeSessionCount"`
	LastActivityAt     int64            `json:"lastActivityAt"`
}

// Snapshot is the fully-derived world view. It is immutable by
// convention: consumers receive it shared and must not write to it.
type Snapshot struct {
	Sessions           []EnrichedSession `json:"sessions"`
	ActiveSession      *EnrichedSession  `json:"activeSession,omitempty"`
	ActiveSessionCount int               `json:"activeSessionCount"`
	Projects           []EnrichedProject `json:"projects"`

	InstanceByPort         map[int]types.Instance      `json:"instanceByPort"`
	InstancesByDirectory   map[string][]types.Instance `json:"instancesByDirectory"`
	SessionInstance        map[string]types.Instance   `json:"sessionInstance"`
	ConnectedInstanceCount int                         `json:"connectedInstanceCount"`

	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
}

// Derive computes one snapshot from store contents and the aggregate
// connection status reported by the supervisor.
func Derive(c store.Contents, conn ConnectionStatus) *Snapshot {
	opts := StatusOptions{IncludeSubAgents: true, IncludeLastMessage: true}

	// 1. Group parts by owning message.
	partsByMessage := make(map[string][]types.Part, len(c.Messages))
	for _, p := range c.Parts {
		partsByMessage[p.MessageID] = append(partsByMessage[p.MessageID], p)
	}

	// 2-3. Enrich messages and group them by session, oldest first.
	messagesBySession := make(map[string][]EnrichedMessage)
	for _, m := range c.Messages {
		em := EnrichedMessage{
			Message:     m,
			Parts:       partsByMessage[m.ID],
			IsStreaming: m.Role == "assistant" && m.Time.Completed == 0,
		}
		messagesBySession[m.SessionID] = append(messagesBySession[m.SessionID], em)
	}
	for _, msgs := range messagesBySession {
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].Time.Created < msgs[j].Time.Created
		})
	}

	// 4. Enrich sessions.
	sessions := make([]EnrichedSession, 0, len(c.Sessions))
	for _, s := range c.Sessions {
		msgs := messagesBySession[s.ID]
		status := SessionStatus(c.SessionStatus[s.ID], msgs, opts)

		last := s.Time.Updated
		if n := len(msgs); n > 0 && msgs[n-1].Time.Created > last {
			last = msgs[n-1].Time.Created
		}

		sessions = append(sessions, EnrichedSession{
			Session:             s,
			Status:              status,
			IsActive:            status == types.StatusRunning,
			LastActivityAt:      last,
			ContextUsagePercent: contextUsage(msgs),
			Messages:            msgs,
		})
	}

	// 5. Most recent activity first; ties keep input order.
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastActivityAt > sessions[j].LastActivityAt
	})

	// 6. Active session and count.
	var active *EnrichedSession
	activeCount := 0
	for i := range sessions {
		if sessions[i].IsActive {
			activeCount++
			if active == nil {
				active = &sessions[i]
			}
		}
	}
	if active == nil && len(sessions) > 0 {
		active = &sessions[0]
	}

	// 7-8. Projects and routing maps.
	snap := &Snapshot{
		Sessions:           sessions,
		ActiveSession:      active,
		ActiveSessionCount: activeCount,
		ConnectionStatus:   conn,
	}
	deriveInstances(snap, c)
	deriveProjects(snap, c)
	return snap
}

// deriveInstances builds the routing maps used to address commands back
// to the server that owns a session.
func deriveInstances(snap *Snapshot, c store.Contents) {
	snap.InstanceByPort = make(map[int]types.Instance, len(c.Instances))
	snap.InstancesByDirectory = make(map[string][]types.Instance)
	snap.SessionInstance = make(map[string]types.Instance)

	for _, inst := range c.Instances {
		snap.InstanceByPort[inst.Port] = inst
		snap.InstancesByDirectory[inst.Directory] = append(snap.InstancesByDirectory[inst.Directory], inst)
		if inst.Status == types.InstanceConnected {
			snap.ConnectedInstanceCount++
		}
	}

	for sessionID, port := range c.SessionOrigins {
		if inst, ok := snap.InstanceByPort[port]; ok {
			snap.SessionInstance[sessionID] = inst
		}
	}
}

// deriveProjects groups sessions and instances by worktree directory.
func deriveProjects(snap *Snapshot, c store.Contents) {
	snap.Projects = make([]EnrichedProject, 0, len(c.Projects))
	for _, p := range c.Projects {
		ep := EnrichedProject{Project: p}

		for _, inst := range snap.InstancesByDirectory[p.Worktree] {
			ep.Instances = append(ep.Instances, inst)
			if inst.Status == types.InstanceConnected {
				ep.ConnectedInstances++
			}
		}

		for i := range snap.Sessions {
			s := &snap.Sessions[i]
			if s.Directory != p.Worktree {
				continue
			}
			ep.SessionCount++
			if s.IsActive {
				ep.ActiveSessionCount++
			}
			if s.LastActivityAt > ep.LastActivityAt {
				ep.LastActivityAt = s.LastActivityAt
			}
		}

		snap.Projects = append(snap.Projects, ep)
	}
}

// contextUsage scans a session's messages newest first for the first
// assistant message that carries both token usage and a context limit.
func contextUsage(msgs []EnrichedMessage) float64 {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != "assistant" || m.Tokens == nil || m.ModelContextLimit <= 0 {
			continue
		}
		used := m.Tokens.Input + m.Tokens.Output + m.Tokens.Reasoning +
			m.Tokens.Cache.Read + m.Tokens.Cache.Write
		return float64(used) / float64(m.ModelContextLimit) * 100
	}
	return 0
}
