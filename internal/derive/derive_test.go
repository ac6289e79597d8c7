package derive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overlook-dev/overlook/internal/store"
	"github.com/overlook-dev/overlook/internal/types"
)

func TestSessionStatus_ExplicitRunningWins(t *testing.T) {
	// A completed message history must not override the explicit map.
	msgs := []EnrichedMessage{{
		Message: types.Message{ID: "msg_1", Role: "assistant", Time: types.MessageTime{Created: 1, Completed: 2}},
	}}
	got := SessionStatus(types.StatusRunning, msgs, StatusOptions{IncludeSubAgents: true, IncludeLastMessage: true})
	assert.Equal(t, types.StatusRunning, got)
}

func TestSessionStatus_SubAgentFallback(t *testing.T) {
	msgs := []EnrichedMessage{{
		Message: types.Message{ID: "msg_1", Role: "assistant", Time: types.MessageTime{Created: 1, Completed: 2}},
		Parts: []types.Part{{
			ID: "prt_1", MessageID: "msg_1", Type: "tool", Tool: "task",
			State: types.PartState{Status: "running"},
		}},
	}}

	got := SessionStatus("", msgs, StatusOptions{IncludeSubAgents: true})
	assert.Equal(t, types.StatusRunning, got)

	// Disabled option ignores the sub-agent part.
	got = SessionStatus("", msgs, StatusOptions{})
	assert.Equal(t, types.StatusCompleted, got)
}

func TestSessionStatus_LastMessageFallback(t *testing.T) {
	streaming := []EnrichedMessage{{
		Message: types.Message{ID: "msg_1", Role: "assistant", Time: types.MessageTime{Created: 1}},
	}}
	got := SessionStatus("", streaming, StatusOptions{IncludeLastMessage: true})
	assert.Equal(t, types.StatusRunning, got)

	// Completed assistant message falls through to the main status.
	done := []EnrichedMessage{{
		Message: types.Message{ID: "msg_1", Role: "assistant", Time: types.MessageTime{Created: 1, Completed: 2}},
	}}
	got = SessionStatus("", done, StatusOptions{IncludeLastMessage: true})
	assert.Equal(t, types.StatusCompleted, got)

	got = SessionStatus("waiting", done, StatusOptions{IncludeLastMessage: true})
	assert.Equal(t, "waiting", got)
}

func TestSessionStatus_EmptyEverythingIsCompleted(t *testing.T) {
	got := SessionStatus("", nil, StatusOptions{IncludeSubAgents: true, IncludeLastMessage: true})
	assert.Equal(t, types.StatusCompleted, got)
}

func contents() store.Contents {
	return store.Contents{
		SessionStatus:  map[string]string{},
		SessionOrigins: map[string]int{},
	}
}

func TestDerive_SortsByLastActivityDescending(t *testing.T) {
	c := contents()
	c.Sessions = []types.Session{
		{ID: "ses_a", Time: types.Timestamps{Updated: 100}},
		{ID: "ses_b", Time: types.Timestamps{Updated: 300}},
		{ID: "ses_c", Time: types.Timestamps{Updated: 200}},
	}

	snap := Derive(c, StatusConnected)
	require.Len(t, snap.Sessions, 3)
	assert.Equal(t, int64(300), snap.Sessions[0].LastActivityAt)
	assert.Equal(t, int64(200), snap.Sessions[1].LastActivityAt)
	assert.Equal(t, int64(100), snap.Sessions[2].LastActivityAt)
}

func TestDerive_TiesKeepInputOrder(t *testing.T) {
	c := contents()
	c.Sessions = []types.Session{
		{ID: "ses_a", Time: types.Timestamps{Updated: 100}},
		{ID: "ses_b", Time: types.Timestamps{Updated: 100}},
		{ID: "ses_c", Time: types.Timestamps{Updated: 100}},
	}

	snap := Derive(c, StatusConnected)
	require.Len(t, snap.Sessions, 3)
	assert.Equal(t, "ses_a", snap.Sessions[0].ID)
	assert.Equal(t, "ses_b", snap.Sessions[1].ID)
	assert.Equal(t, "ses_c", snap.Sessions[2].ID)
}

func TestDerive_LastActivityUsesNewestMessage(t *testing.T) {
	c := contents()
	c.Sessions = []types.Session{{ID: "ses_1", Time: types.Timestamps{Updated: 50}}}
	c.Messages = []types.Message{
		{ID: "msg_1", SessionID: "ses_1", Role: "user", Time: types.MessageTime{Created: 40}},
		{ID: "msg_2", SessionID: "ses_1", Role: "assistant", Time: types.MessageTime{Created: 90, Completed: 95}},
	}

	snap := Derive(c, StatusConnected)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, int64(90), snap.Sessions[0].LastActivityAt)
}

func TestDerive_ContextUsagePercent(t *testing.T) {
	c := contents()
	c.Sessions = []types.Session{{ID: "ses_1"}}
	c.Messages = []types.Message{{
		ID: "msg_1", SessionID: "ses_1", Role: "assistant",
		Time:   types.MessageTime{Created: 1, Completed: 2},
		Tokens: &types.TokenUsage{Input: 100, Output: 50},

		ModelContextLimit: 1000,
	}}

	snap := Derive(c, StatusConnected)
	require.Len(t, snap.Sessions, 1)
	assert.InDelta(t, 15.0, snap.Sessions[0].ContextUsagePercent, 1e-9)
}

func TestDerive_ContextUsageprefersNewestQualifyingMessage(t *testing.T) {
	c := contents()
	c.Sessions = []types.Session{{ID: "ses_1"}}
	c.Messages = []types.Message{
		{ID: "msg_1", SessionID: "ses_1", Role: "assistant",
			Time:              types.MessageTime{Created: 1, Completed: 2},
			Tokens:            &types.TokenUsage{Input: 900},
			ModelContextLimit: 1000},
		// Newest assistant message lacks a limit: skipped, not zeroing.
		{ID: "msg_2", SessionID: "ses_1", Role: "assistant",
			Time:   types.MessageTime{Created: 5, Completed: 6},
			Tokens: &types.TokenUsage{Input: 10}},
	}

	snap := Derive(c, StatusConnected)
	assert.InDelta(t, 90.0, snap.Sessions[0].ContextUsagePercent, 1e-9)
}

func TestDerive_ContextUsageZeroWhenNothingQualifies(t *testing.T) {
	c := contents()
	c.Sessions = []types.Session{{ID: "ses_1"}}
	c.Messages = []types.Message{
		{ID: "msg_1", SessionID: "ses_1", Role: "user", Time: types.MessageTime{Created: 1}},
	}

	snap := Derive(c, StatusConnected)
	assert.Zero(t, snap.Sessions[0].ContextUsagePercent)
}

func TestDerive_ActiveSessionSelection(t *testing.T) {
	c := contents()
	c.Sessions = []types.Session{
		{ID: "ses_idle", Time: types.Timestamps{Updated: 900}},
		{ID: "ses_busy", Time: types.Timestamps{Updated: 100}},
	}
	c.SessionStatus["ses_busy"] = types.StatusRunning

	snap := Derive(c, StatusConnected)
	require.NotNil(t, snap.ActiveSession)
	assert.Equal(t, "ses_busy", snap.ActiveSession.ID,
		"an active session wins over a more recently updated idle one")
	assert.Equal(t, 1, snap.ActiveSessionCount)

	// Without any active session, fall back to the most recent one.
	delete(c.SessionStatus, "ses_busy")
	snap = Derive(c, StatusConnected)
	require.NotNil(t, snap.ActiveSession)
	assert.Equal(t, "ses_idle", snap.ActiveSession.ID)
	assert.Zero(t, snap.ActiveSessionCount)

	// No sessions at all: no active session.
	snap = Derive(contents(), StatusConnected)
	assert.Nil(t, snap.ActiveSession)
}

func TestDerive_IsStreaming(t *testing.T) {
	c := contents()
	c.Sessions = []types.Session{{ID: "ses_1"}}
	c.Messages = []types.Message{
		{ID: "msg_1", SessionID: "ses_1", Role: "assistant", Time: types.MessageTime{Created: 1}},
		{ID: "msg_2", SessionID: "ses_1", Role: "user", Time: types.MessageTime{Created: 2}},
	}

	snap := Derive(c, StatusConnected)
	msgs := snap.Sessions[0].Messages
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsStreaming, "assistant message without completion time is streaming")
	assert.False(t, msgs[1].IsStreaming, "user messages never stream")
}

func TestDerive_ProjectsAndRouting(t *testing.T) {
	c := contents()
	c.Sessions = []types.Session{
		{ID: "ses_1", Directory: "/work/app", Time: types.Timestamps{Updated: 100}},
		{ID: "ses_2", Directory: "/work/app", Time: types.Timestamps{Updated: 300}},
		{ID: "ses_3", Directory: "/work/lib", Time: types.Timestamps{Updated: 200}},
	}
	c.Projects = []types.Project{{Worktree: "/work/app"}, {Worktree: "/work/lib"}}
	c.Instances = []types.Instance{
		{Port: 4096, Directory: "/work/app", Status: types.InstanceConnected},
		{Port: 4105, Directory: "/work/app", Status: types.InstanceDisconnected},
		{Port: 4110, Directory: "/work/lib", Status: types.InstanceConnected},
	}
	c.SessionStatus["ses_1"] = types.StatusRunning
	c.SessionOrigins["ses_1"] = 4096
	c.SessionOrigins["ses_3"] = 4110
	c.SessionOrigins["ses_gone"] = 9999 // origin without a live instance

	snap := Derive(c, StatusConnected)

	require.Len(t, snap.Projects, 2)
	app := snap.Projects[0]
	assert.Equal(t, "/work/app", app.Worktree)
	assert.Len(t, app.Instances, 2)
	assert.Equal(t, 1, app.ConnectedInstances)
	assert.Equal(t, 2, app.SessionCount)
	assert.Equal(t, 1, app.ActiveSessionCount)
	assert.Equal(t, int64(300), app.LastActivityAt)

	assert.Equal(t, 2, snap.ConnectedInstanceCount)
	assert.Equal(t, 4096, snap.InstanceByPort[4096].Port)
	assert.Len(t, snap.InstancesByDirectory["/work/app"], 2)
	assert.Equal(t, 4096, snap.SessionInstance["ses_1"].Port)
	assert.Equal(t, 4110, snap.SessionInstance["ses_3"].Port)
	_, ok := snap.SessionInstance["ses_gone"]
	assert.False(t, ok, "origins pointing at pruned instances resolve to nothing")
}

func TestDerive_DoesNotMutateInput(t *testing.T) {
	c := contents()
	c.Sessions = []types.Session{
		{ID: "ses_b", Time: types.Timestamps{Updated: 1}},
		{ID: "ses_a", Time: types.Timestamps{Updated: 2}},
	}

	_ = Derive(c, StatusConnected)
	assert.Equal(t, "ses_b", c.Sessions[0].ID, "derivation must not reorder its input")
}
