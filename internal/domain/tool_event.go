package domain

// ToolPhase tags the stage a tool invocation has reached in the event stream.
type ToolPhase string

const (
	// PhaseAsk is a request for freeform user input (clarifying questions).
	PhaseAsk ToolPhase = "ask"
	// PhaseApproval asks permission to run a tool.
	PhaseApproval ToolPhase = "approval"
	// PhaseStart marks the tool beginning to execute.
	PhaseStart ToolPhase = "start"
	// PhaseResult carries the tool's output. A delegated sub-agent may emit
	// several result events under one ToolID.
	PhaseResult ToolPhase = "result"
)

// ToolEvent is the unit the transport delivers for tool activity. The engine
// never mutates one.
type ToolEvent struct {
	Phase ToolPhase `json:"phase"`
	// ToolID is opaque and stable within a turn for a given invocation.
	ToolID   string         `json:"tool_id"`
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"input,omitempty"`
	// Result and IsError are set only for PhaseResult.
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// FilePath returns the target path of a write-class invocation, or "".
func (e *ToolEvent) FilePath() string {
	if e.Input == nil {
		return ""
	}
	p, _ := e.Input["file_path"].(string)
	return p
}

// Decision is the user's answer to a pending approval.
type Decision int

const (
	// DecisionPending means no answer yet; the turn is suspended.
	DecisionPending Decision = iota
	// DecisionApproved lets the tool run.
	DecisionApproved
	// DecisionDenied refuses the tool.
	DecisionDenied
)

// PendingApproval is the single outstanding approval request for a session.
type PendingApproval struct {
	Event    ToolEvent
	Decision Decision
}

// Verdict is the sandbox policy outcome for a requested tool. It is never
// persisted; the policy recomputes it per request.
type Verdict int

const (
	// VerdictAllow lets the invocation proceed without asking.
	VerdictAllow Verdict = iota
	// VerdictNeedsApproval suspends the turn for a user decision.
	VerdictNeedsApproval
	// VerdictReject refuses the invocation without prompting.
	VerdictReject
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictNeedsApproval:
		return "needs-approval"
	case VerdictReject:
		return "reject"
	default:
		return "unknown"
	}
}

// ToolClass partitions tools for approval/denial handling. The switch over
// classes is closed: adding a class without handling it is a compile-time
// oversight surfaced by tests, not a silent fallthrough.
type ToolClass int

const (
	// ClassGeneric covers tools with no special handling.
	ClassGeneric ToolClass = iota
	// ClassWrite covers file-mutating tools (Write, Edit).
	ClassWrite
	// ClassShell covers command execution (Bash).
	ClassShell
	// ClassConnector covers externally discovered service tools (mcp__ prefix).
	ClassConnector
)

func (c ToolClass) String() string {
	switch c {
	case ClassWrite:
		return "write"
	case ClassShell:
		return "shell"
	case ClassConnector:
		return "connector"
	default:
		return "generic"
	}
}
