package derive

import (
	"github.com/overlook-dev/overlook/internal/types"
)

// StatusOptions selects the fallback signals session status derivation
// may consult when no explicit "running" status is present.
type StatusOptions struct {
	// IncludeSubAgents treats a running task tool part as activity.
	IncludeSubAgents bool
	// IncludeLastMessage treats a still-streaming assistant message as
	// activity.
	IncludeLastMessage bool
}

// SessionStatus computes a session's status with an explicit priority
// chain:
//
//  1. an explicit "running" status always wins;
//  2. a running sub-agent part (tool "task") when IncludeSubAgents;
//  3. a streaming last assistant message when IncludeLastMessage;
//  4. the explicit status, defaulting to "completed".
//
// msgs must be ordered oldest first.
func SessionStatus(main string, msgs []EnrichedMessage, opts StatusOptions) string {
	if main == types.StatusRunning {
		return types.StatusRunning
	}

	if opts.IncludeSubAgents && hasRunningSubAgent(msgs) {
		return types.StatusRunning
	}

	if opts.IncludeLastMessage && len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		if last.Role == "assistant" && last.Time.Completed == 0 {
			return types.StatusRunning
		}
	}

	if main != "" {
		return main
	}
	return types.StatusCompleted
}

// hasRunningSubAgent reports whether any part in the session is a task
// tool still in a running state.
func hasRunningSubAgent(msgs []EnrichedMessage) bool {
	for _, m := range msgs {
		for _, p := range m.Parts {
			if p.Type == "tool" && p.Tool == "task" && p.State.Status == types.StatusRunning {
				return true
			}
		}
	}
	return false
}
