package domain

import "time"

// AgentStatus is the lifecycle state of a delegated sub-agent node.
type AgentStatus string

const (
	// AgentWorking means the sub-agent is presumed active.
	AgentWorking AgentStatus = "working"
	// AgentDone means the sub-agent finished without error.
	AgentDone AgentStatus = "done"
	// AgentError means the last observed event for the node carried an error.
	AgentError AgentStatus = "error"
	// AgentStopped means the turn was cancelled while the node was working.
	AgentStopped AgentStatus = "stopped"
)

// Terminal reports whether the status is final. A node transitions
// working -> terminal exactly once and never re-enters working.
func (s AgentStatus) Terminal() bool {
	return s == AgentDone || s == AgentError || s == AgentStopped
}

// AgentNode tracks one delegated sub-agent. ID equals the ToolID of the
// delegation event that started it.
type AgentNode struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Status      AgentStatus `json:"status"`
	// LastResult and LastIsError record the most recent result-phase event,
	// used to pick the terminal status once the node goes quiet.
	LastResult  string    `json:"last_result,omitempty"`
	LastIsError bool      `json:"-"`
	StartedAt   time.Time `json:"started_at"`
}
