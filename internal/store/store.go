// Package store implements the canonical order-preserving entity store.
// Every keyed collection stays sorted ascending by its key after any
// mutation, which keeps lookup at O(log n) with replacement as the
// common case. Mutations happen only through the router's entry points.
package store

import (
	"cmp"
	"sort"
	"sync"

	"github.com/overlook-dev/overlook/internal/types"
)

// Store holds all tracked entities plus the auxiliary indexes needed to
// resolve part ownership and command routing without full scans.
type Store struct {
	mu sync.RWMutex

	sessions  []types.Session
	messages  []types.Message
	parts     []types.Part
	instances []types.Instance
	projects  []types.Project

	// messageID -> sessionID, so a part can find its owning session.
	messageSessions map[string]string

	// sessionID -> explicit status set via session.status events or
	// message traffic. Absence means derived status falls back.
	sessionStatus map[string]string

	// sessionID -> port of the server that last emitted an event for
	// the session. Used to route commands back to the right origin.
	sessionOrigins map[string]int
}

// New creates an empty store. Each engine owns its own instance; there
// is no process-wide state.
func New() *Store {
	return &Store{
		messageSessions: make(map[string]string),
		sessionStatus:   make(map[string]string),
		sessionOrigins:  make(map[string]int),
	}
}

// upsertSorted replaces the element with the same key in place, or
// inserts at the binary-search insertion point, preserving sort order.
func upsertSorted[T any, K cmp.Ordered](items []T, item T, key func(T) K) []T {
	k := key(item)
	i := sort.Search(len(items), func(j int) bool { return key(items[j]) >= k })
	if i < len(items) && key(items[i]) == k {
		items[i] = item
		return items
	}
	items = append(items, item)
	copy(items[i+1:], items[i:])
	items[i] = item
	return items
}

// findSorted returns the element with the given key, if present.
func findSorted[T any, K cmp.Ordered](items []T, k K, key func(T) K) (T, bool) {
	i := sort.Search(len(items), func(j int) bool { return key(items[j]) >= k })
	if i < len(items) && key(items[i]) == k {
		return items[i], true
	}
	var zero T
	return zero, false
}

// UpsertSession inserts or replaces a session by id.
func (s *Store) UpsertSession(sess types.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = upsertSorted(s.sessions, sess, func(x types.Session) string { return x.ID })
	if sess.Directory != "" {
		s.projects = upsertSorted(s.projects, types.Project{Worktree: sess.Directory},
			func(p types.Project) string { return p.Worktree })
	}
}

// UpsertMessage inserts or replaces a message by id and maintains the
// message -> session index.
func (s *Store) UpsertMessage(msg types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = upsertSorted(s.messages, msg, func(x types.Message) string { return x.ID })
	if msg.SessionID != "" {
		s.messageSessions[msg.ID] = msg.SessionID
	}
}

// UpsertPart inserts or replaces a part by id.
func (s *Store) UpsertPart(part types.Part) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts = upsertSorted(s.parts, part, func(x types.Part) string { return x.ID })
}

// UpsertInstance inserts or replaces an instance by port.
func (s *Store) UpsertInstance(inst types.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = upsertSorted(s.instances, inst, func(x types.Instance) int { return x.Port })
	if inst.Directory != "" {
		s.projects = upsertSorted(s.projects, types.Project{Worktree: inst.Directory},
			func(p types.Project) string { return p.Worktree })
	}
}

// PruneInstances removes instances whose port is absent from the latest
// discovery scan and reports how many were dropped.
func (s *Store) PruneInstances(livePorts map[int]bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.instances[:0]
	dropped := 0
	for _, inst := range s.instances {
		if livePorts[inst.Port] {
			kept = append(kept, inst)
		} else {
			dropped++
		}
	}
	s.instances = kept
	return dropped
}

// SetSessionStatus records the explicit status for a session.
func (s *Store) SetSessionStatus(sessionID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionStatus[sessionID] = status
}

// ClearSessionStatus drops the explicit status so derivation falls back
// to the default.
func (s *Store) ClearSessionStatus(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessionStatus, sessionID)
}

// SetSessionOrigin records which server port last produced an event for
// the session.
func (s *Store) SetSessionOrigin(sessionID string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionOrigins[sessionID] = port
}

// SessionForMessage resolves a part's owning session via the message
// index. A dangling reference returns ok=false rather than failing.
func (s *Store) SessionForMessage(messageID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.messageSessions[messageID]
	return id, ok
}

// Session returns the session with the given id, if tracked.
func (s *Store) Session(id string) (types.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findSorted(s.sessions, id, func(x types.Session) string { return x.ID })
}

// Instance returns the instance on the given port, if tracked.
func (s *Store) Instance(port int) (types.Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findSorted(s.instances, port, func(x types.Instance) int { return x.Port })
}

// Contents is a point-in-time copy of everything derivation needs.
// Slices and maps are fresh copies; the deriver never sees live state.
type Contents struct {
	Sessions       []types.Session
	Messages       []types.Message
	Parts          []types.Part
	Instances      []types.Instance
	Projects       []types.Project
	SessionStatus  map[string]string
	SessionOrigins map[string]int
}

// Snapshot copies the current contents for derivation.
func (s *Store) Snapshot() Contents {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := Contents{
		Sessions:       make([]types.Session, len(s.sessions)),
		Messages:       make([]types.Message, len(s.messages)),
		Parts:          make([]types.Part, len(s.parts)),
		Instances:      make([]types.Instance, len(s.instances)),
		Projects:       make([]types.Project, len(s.projects)),
		SessionStatus:  make(map[string]string, len(s.sessionStatus)),
		SessionOrigins: make(map[string]int, len(s.sessionOrigins)),
	}
	copy(c.Sessions, s.sessions)
	copy(c.Messages, s.messages)
	copy(c.Parts, s.parts)
	copy(c.Instances, s.instances)
	copy(c.Projects, s.projects)
	for k, v := range s.sessionStatus {
		c.SessionStatus[k] = v
	}
	for k, v := range s.sessionOrigins {
		c.SessionOrigins[k] = v
	}
	return c
}

// Counts reports collection sizes, mainly for logging and tests.
func (s *Store) Counts() (sessions, messages, parts, instances int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), len(s.messages), len(s.parts), len(s.instances)
}
