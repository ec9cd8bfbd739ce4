// Package engine implements the agent tool-orchestration engine: the turn
// controller, conversation state, sandbox-verdict routing, the approval
// workflow, the retry governor, and the sub-agent lifecycle tracker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pmarquez/vaultmind/internal/domain"
	"github.com/pmarquez/vaultmind/internal/policy"
	"github.com/pmarquez/vaultmind/internal/store"
	"github.com/pmarquez/vaultmind/internal/transport"
)

// TurnState is the controller's position in the per-turn state machine.
type TurnState int

const (
	// StateIdle means no turn in flight; user input starts one.
	StateIdle TurnState = iota
	// StateAwaitingResponse means the transport stream is being consumed.
	StateAwaitingResponse
	// StateAwaitingApproval means the turn is suspended on a user decision.
	StateAwaitingApproval
)

func (s TurnState) String() string {
	switch s {
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateAwaitingApproval:
		return "awaiting-approval"
	default:
		return "idle"
	}
}

var (
	// ErrTurnInFlight is returned when a turn is already being processed.
	ErrTurnInFlight = errors.New("a turn is already in flight")
	// ErrApprovalPending is returned when a decision is still outstanding.
	ErrApprovalPending = errors.New("an approval decision is pending")
	// ErrNoPendingApproval is returned by Approve/Deny with nothing pending.
	ErrNoPendingApproval = errors.New("no approval is pending")
	// ErrNoSession is returned when no conversation session is active.
	ErrNoSession = errors.New("no active session")
)

// NoteKind tags engine notifications to the presentation layer.
type NoteKind string

const (
	// NoteDelta carries an assistant text fragment.
	NoteDelta NoteKind = "delta"
	// NoteTool reports tool activity (start/result) for display.
	NoteTool NoteKind = "tool"
	// NoteApprovalRequest surfaces a pending tool approval.
	NoteApprovalRequest NoteKind = "approval_request"
	// NoteAsk surfaces agent questions awaiting a user reply.
	NoteAsk NoteKind = "ask"
	// NoteAgentNode reports a sub-agent node update.
	NoteAgentNode NoteKind = "agent_node"
	// NoteAutoReject marks a policy rejection (transient, not a failure).
	NoteAutoReject NoteKind = "auto_reject"
	// NoteTurnDone marks normal completion of a turn.
	NoteTurnDone NoteKind = "turn_done"
	// NoteCancelled marks a locally cancelled turn.
	NoteCancelled NoteKind = "cancelled"
	// NoteTurnError marks a terminal turn failure.
	NoteTurnError NoteKind = "turn_error"
)

// Note is one engine notification. SessionID is the session's local id.
type Note struct {
	Kind      NoteKind          `json:"kind"`
	SessionID string            `json:"session_id"`
	Content   string            `json:"content,omitempty"`
	Tool      *domain.ToolEvent `json:"tool,omitempty"`
	Node      *domain.AgentNode `json:"node,omitempty"`
	Err       string            `json:"error,omitempty"`
}

// Config holds the engine's fixed inputs.
type Config struct {
	VaultPath           string
	ProjectPath         string
	DefaultModel        string
	RetryCeiling        int
	QuietTimeout        time.Duration
	ConnectorConfigPath string
}

// Engine drives one conversation session at a time: it owns the session
// value, consumes the transport's ordered event stream, and routes tool
// events through the sandbox policy, approval workflow, retry governor, and
// sub-agent tracker.
type Engine struct {
	cfg       Config
	transport transport.Transport
	repo      store.Repository
	notes     chan<- Note
	logger    *slog.Logger
	sandbox   policy.Sandbox
	governor  retryGovernor
	tracker   *subagentTracker
	agents    []AgentDef

	mu         sync.Mutex
	session    *domain.ConversationSession
	state      TurnState
	pending    *domain.PendingApproval
	streamBuf  strings.Builder
	cancelTurn context.CancelFunc

	// turnToken guards against late events: each dispatched request gets a
	// fresh token, and events are applied only while their token is current.
	// Cancellation bumps the token synchronously.
	turnToken atomic.Int64
}

// New creates an engine. The notes channel receives presentation updates and
// should be buffered; notifications that cannot be delivered are dropped.
func New(cfg Config, tr transport.Transport, repo store.Repository, notes chan<- Note, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = DefaultRetryCeiling
	}
	e := &Engine{
		cfg:       cfg,
		transport: tr,
		repo:      repo,
		notes:     notes,
		logger:    logger,
		sandbox:   policy.Sandbox{VaultRoot: cfg.VaultPath},
		governor:  retryGovernor{ceiling: cfg.RetryCeiling},
	}
	e.tracker = newSubagentTracker(cfg.QuietTimeout, e.notifyNode, logger)

	if defs, err := LoadAgentDefs(cfg.ProjectPath); err == nil && len(defs) > 0 {
		e.agents = defs
	} else if defs, err := LoadAgentDefs(cfg.VaultPath); err == nil {
		e.agents = defs
	}
	return e
}

// Session returns a copy of the active session, or nil. The live session is
// only ever touched while holding the engine lock.
func (e *Engine) Session() *domain.ConversationSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	return e.session.Clone()
}

// State returns the current turn state.
func (e *Engine) State() TurnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Pending returns the outstanding approval request, or nil.
func (e *Engine) Pending() *domain.PendingApproval {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// AgentNodes returns the sub-agent nodes of the current turn.
func (e *Engine) AgentNodes() []domain.AgentNode {
	return e.tracker.snapshotNodes()
}

// NewChat saves the active session to history and starts a fresh one. A turn
// in flight is cancelled first.
func (e *Engine) NewChat(ctx context.Context, mode domain.Mode, model string) (*domain.ConversationSession, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid mode %q", mode)
	}
	e.Cancel()

	e.mu.Lock()
	var old *domain.StoredSession
	if e.session != nil && len(e.session.Messages) > 0 {
		old = e.session.Snapshot()
	}
	if model == "" {
		model = e.cfg.DefaultModel
	}
	e.session = domain.NewConversationSession(uuid.NewString(), mode, model)
	e.state = StateIdle
	e.pending = nil
	e.streamBuf.Reset()
	sess := e.session
	e.mu.Unlock()

	e.tracker.reset()
	e.saveSnapshot(ctx, old)
	return sess, nil
}

// LoadSession replaces the active session with one from history. The restored
// session starts with an empty allow-list: approvals never survive a load.
func (e *Engine) LoadSession(ctx context.Context, localID string) (*domain.ConversationSession, error) {
	stored, err := e.repo.GetSession(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if stored == nil {
		return nil, fmt.Errorf("load session: %q not found", localID)
	}

	e.Cancel()

	e.mu.Lock()
	var old *domain.StoredSession
	if e.session != nil && len(e.session.Messages) > 0 && e.session.LocalID != localID {
		old = e.session.Snapshot()
	}
	e.session = stored.Restore()
	e.state = StateIdle
	e.pending = nil
	e.streamBuf.Reset()
	sess := e.session
	e.mu.Unlock()

	e.tracker.reset()
	e.saveSnapshot(ctx, old)
	return sess, nil
}

// StartTurn begins a turn from a user-authored message. It resets the retry
// count, appends the message, and dispatches the request. Only one turn may
// be in flight.
func (e *Engine) StartTurn(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty message")
	}

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	if e.state == StateAwaitingApproval {
		e.mu.Unlock()
		return ErrApprovalPending
	}
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrTurnInFlight
	}

	e.session.RetryCount = 0
	e.session.Append(domain.RoleUser, text)
	e.tracker.reset()
	e.dispatchLocked(e.outboundMessage(text))
	e.mu.Unlock()
	return nil
}

// Approve resolves the pending approval in the tool's favor and resumes the
// turn. Non-connector tools join the session allow-list unless the session is
// in vault mode and the tool is write-class: vault writes are approved one at
// a time, always. Connector tools invalidate the backend session, since
// connector connections do not survive resumption, so the original user
// request is resubmitted on a fresh session with an approval note.
func (e *Engine) Approve() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending == nil || e.state != StateAwaitingApproval {
		return ErrNoPendingApproval
	}
	ev := e.pending.Event
	e.pending.Decision = domain.DecisionApproved
	e.pending = nil
	e.state = StateIdle

	class := policy.Classify(ev.ToolName)
	switch class {
	case domain.ClassConnector:
		e.session.ResetBackend()
		if e.session.Mode == domain.ModeProject {
			// Project mode has no containment guarantee to protect, so the
			// per-use gate is relaxed and the approval is remembered.
			e.session.ApproveTool(ev.ToolName)
		}
		original := e.session.LastUserMessage()
		text := original + "\n\n" + approvalInstruction(&ev)
		e.session.Append(domain.RoleUser, approvalInstruction(&ev))
		e.dispatchLocked(e.outboundMessage(text))
		return nil
	case domain.ClassWrite:
		if e.session.Mode != domain.ModeVault {
			e.session.ApproveTool(ev.ToolName)
		}
	case domain.ClassShell, domain.ClassGeneric:
		e.session.ApproveTool(ev.ToolName)
	}

	text := approvalInstruction(&ev)
	e.session.Append(domain.RoleUser, text)
	e.dispatchLocked(e.outboundMessage(text))
	return nil
}

// Deny resolves the pending approval against the tool and resumes the turn
// with a rejection instruction.
func (e *Engine) Deny() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending == nil || e.state != StateAwaitingApproval {
		return ErrNoPendingApproval
	}
	ev := e.pending.Event
	e.pending.Decision = domain.DecisionDenied
	e.pending = nil
	e.state = StateIdle

	text := denialInstruction(e.session.Mode, &ev)
	e.session.Append(domain.RoleUser, text)
	e.dispatchLocked(e.outboundMessage(text))
	return nil
}

// Cancel stops the turn locally without waiting for the backend. The turn
// token is invalidated first so any events still in flight are discarded, all
// sub-agent nodes are forced to stopped, and buffered partial text is
// dropped.
func (e *Engine) Cancel() {
	e.mu.Lock()
	if e.state == StateIdle && e.pending == nil {
		e.mu.Unlock()
		return
	}
	e.turnToken.Add(1)
	if e.cancelTurn != nil {
		e.cancelTurn()
		e.cancelTurn = nil
	}
	e.pending = nil
	e.state = StateIdle
	e.streamBuf.Reset()
	var localID string
	if e.session != nil {
		localID = e.session.LocalID
	}
	e.mu.Unlock()

	e.tracker.finishAll(true)
	e.notify(Note{Kind: NoteCancelled, SessionID: localID})
	e.logger.Info("turn cancelled", "session_id", localID)
}

// Sessions lists the stored history, newest first.
func (e *Engine) Sessions(ctx context.Context) ([]*domain.StoredSession, error) {
	return e.repo.ListSessions(ctx)
}

// DeleteSession removes one stored session.
func (e *Engine) DeleteSession(ctx context.Context, localID string) error {
	return e.repo.DeleteSession(ctx, localID)
}

// -- Turn internals ----------------------------------------------------------

// dispatchLocked issues a request for the active session. Callers hold mu.
func (e *Engine) dispatchLocked(message string) {
	token := e.turnToken.Add(1)
	e.state = StateAwaitingResponse
	e.streamBuf.Reset()

	req := transport.Request{
		Message:             message,
		BackendSessionID:    e.session.BackendSessionID,
		Model:               e.session.Model,
		WorkingDir:          e.workingDir(),
		AllowedTools:        policy.AllowedTools(e.session.Mode, e.session),
		ConnectorConfigPath: e.cfg.ConnectorConfigPath,
	}
	if e.session.Mode == domain.ModeVault {
		req.SystemPrompt = vaultSystemPrompt(e.agents)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelTurn = cancel

	e.logger.Info("dispatching turn request",
		"session_id", e.session.LocalID,
		"mode", e.session.Mode,
		"resume", req.BackendSessionID != "",
		"allowed_tools", len(req.AllowedTools),
	)

	go e.runTurn(ctx, token, req)
}

// runTurn consumes one transport stream, strictly in arrival order.
func (e *Engine) runTurn(ctx context.Context, token int64, req transport.Request) {
	for ev, err := range e.transport.Send(ctx, req) {
		if !e.current(token) {
			return
		}
		if err != nil {
			e.transportFailure(token, err)
			return
		}
		if !e.applyEvent(ctx, token, ev) {
			return
		}
	}
}

// current reports whether token still identifies the active request.
func (e *Engine) current(token int64) bool {
	return e.turnToken.Load() == token
}

// applyEvent routes one event; it returns false when the stream should stop
// being consumed (suspension, completion, abort).
func (e *Engine) applyEvent(ctx context.Context, token int64, ev *transport.Event) bool {
	switch {
	case ev.SessionID != "":
		e.mu.Lock()
		if e.current(token) && e.session != nil {
			e.session.BackendSessionID = ev.SessionID
		}
		e.mu.Unlock()
		return true

	case ev.Content != "":
		e.mu.Lock()
		if !e.current(token) {
			e.mu.Unlock()
			return false
		}
		e.streamBuf.WriteString(ev.Content)
		localID := e.session.LocalID
		e.mu.Unlock()
		e.notify(Note{Kind: NoteDelta, SessionID: localID, Content: ev.Content})
		return true

	case ev.Tool != nil:
		return e.applyToolEvent(ctx, token, ev.Tool)

	case ev.Done:
		e.completeTurn(ctx, token)
		return false
	}
	return true
}

func (e *Engine) applyToolEvent(ctx context.Context, token int64, tool *domain.ToolEvent) bool {
	// Any event referencing a tracked sub-agent node feeds its quiescence
	// timer; repeated result events are progress, not completion.
	if e.tracker.tracks(tool.ToolID) {
		e.tracker.onActivity(tool)
		if node := e.nodeSnapshot(tool.ToolID); node != nil {
			e.notify(Note{Kind: NoteAgentNode, SessionID: e.localID(), Node: node})
		}
		return true
	}

	switch tool.Phase {
	case domain.PhaseApproval:
		return e.handleApprovalRequest(ctx, token, tool)
	case domain.PhaseAsk:
		return e.handleAsk(ctx, token, tool)
	case domain.PhaseStart:
		if policy.IsDelegation(tool.ToolName) {
			e.tracker.onStart(tool)
			return true
		}
		e.notify(Note{Kind: NoteTool, SessionID: e.localID(), Tool: tool})
		return true
	case domain.PhaseResult:
		e.notify(Note{Kind: NoteTool, SessionID: e.localID(), Tool: tool})
		return true
	}
	// Unknown phase: nothing actionable.
	return true
}

// handleApprovalRequest routes an approval-phase event through the sandbox
// policy.
func (e *Engine) handleApprovalRequest(_ context.Context, token int64, tool *domain.ToolEvent) bool {
	if tool.ToolName == "" {
		// Malformed request; no actionable decision exists.
		e.logger.Warn("ignoring approval event without tool name", "tool_id", tool.ToolID)
		return true
	}

	e.mu.Lock()
	if !e.current(token) {
		e.mu.Unlock()
		return false
	}
	verdict := e.sandbox.Decide(e.session.Mode, e.session, tool)
	localID := e.session.LocalID
	e.logger.Info("sandbox verdict",
		"session_id", localID,
		"tool", tool.ToolName,
		"verdict", verdict.String(),
	)

	switch verdict {
	case domain.VerdictAllow:
		// The backend only asks for tools outside the allowed list, so an
		// auto-allowed approval request is unexpected; surface it as plain
		// tool activity and keep consuming the stream.
		e.mu.Unlock()
		e.notify(Note{Kind: NoteTool, SessionID: localID, Tool: tool})
		return true

	case domain.VerdictNeedsApproval:
		e.pending = &domain.PendingApproval{Event: *tool, Decision: domain.DecisionPending}
		e.state = StateAwaitingApproval
		// The resumption is a new logical request; stop this stream.
		if e.cancelTurn != nil {
			e.cancelTurn()
			e.cancelTurn = nil
		}
		e.mu.Unlock()
		e.notify(Note{Kind: NoteApprovalRequest, SessionID: localID, Tool: tool})
		return false

	case domain.VerdictReject:
		outcome := e.governor.onAutoReject(e.session, tool.ToolName, policy.AllowedTools(e.session.Mode, e.session))
		if e.cancelTurn != nil {
			e.cancelTurn()
			e.cancelTurn = nil
		}
		if outcome.abort {
			e.state = StateIdle
			e.streamBuf.Reset()
			e.turnToken.Add(1)
			e.mu.Unlock()
			e.tracker.finishAll(false)
			e.notify(Note{Kind: NoteTurnError, SessionID: localID, Err: ErrRetryExhausted.Error()})
			e.logger.Warn("retry ceiling exhausted, aborting turn",
				"session_id", localID,
				"tool", tool.ToolName,
			)
			return false
		}
		// Resubmit on a fresh backend session so the agent re-plans instead
		// of resuming the rejected step.
		e.session.ResetBackend()
		retries := e.session.RetryCount
		e.dispatchLocked(e.outboundMessage(outcome.resubmit))
		e.mu.Unlock()
		e.notify(Note{Kind: NoteAutoReject, SessionID: localID, Tool: tool})
		e.logger.Info("tool auto-rejected, resubmitting",
			"session_id", localID,
			"tool", tool.ToolName,
			"retry", retries,
		)
		return false
	}
	e.mu.Unlock()
	return true
}

// handleAsk finalizes the turn so the user can answer the agent's questions
// with a regular message on the same backend session.
func (e *Engine) handleAsk(ctx context.Context, token int64, tool *domain.ToolEvent) bool {
	if tool.Input == nil {
		return true
	}
	if _, ok := tool.Input["questions"]; !ok {
		return true
	}
	localID := e.localID()
	e.notify(Note{Kind: NoteAsk, SessionID: localID, Tool: tool})
	e.completeTurn(ctx, token)
	return false
}

// completeTurn finalizes a normally-terminated turn: the assembled assistant
// text is appended only when non-empty, sub-agent nodes are settled, and the
// session is saved to history.
func (e *Engine) completeTurn(ctx context.Context, token int64) {
	e.mu.Lock()
	if !e.current(token) {
		e.mu.Unlock()
		return
	}
	full := e.streamBuf.String()
	e.streamBuf.Reset()
	if full != "" {
		e.session.Append(domain.RoleAssistant, full)
	}
	e.state = StateIdle
	// Release the turn context; after an ask event the stream is still open
	// and the agent process must be reaped.
	if e.cancelTurn != nil {
		e.cancelTurn()
		e.cancelTurn = nil
	}
	// Snapshot under the lock: the next turn may start appending the moment
	// the state flips back to idle.
	snap := e.session.Snapshot()
	e.mu.Unlock()

	e.tracker.finishAll(false)
	e.saveSnapshot(ctx, snap)
	e.notify(Note{Kind: NoteTurnDone, SessionID: snap.LocalID})
	e.logger.Info("turn completed", "session_id", snap.LocalID, "messages", len(snap.Messages))
}

// transportFailure aborts the turn on a dropped or failed stream. Partial
// assistant text already streamed is preserved, not discarded, and neither
// the allow-list nor the retry count is touched.
func (e *Engine) transportFailure(token int64, err error) {
	e.mu.Lock()
	if !e.current(token) {
		e.mu.Unlock()
		return
	}
	partial := e.streamBuf.String()
	e.streamBuf.Reset()
	if partial != "" {
		e.session.Append(domain.RoleAssistant, partial)
	}
	e.state = StateIdle
	if e.cancelTurn != nil {
		e.cancelTurn()
		e.cancelTurn = nil
	}
	localID := e.session.LocalID
	e.mu.Unlock()

	e.tracker.finishAll(false)
	e.notify(Note{Kind: NoteTurnError, SessionID: localID, Err: err.Error()})
	e.logger.Error("turn transport failure", "session_id", localID, "error", err)
}

// -- Helpers -----------------------------------------------------------------

func (e *Engine) localID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return ""
	}
	return e.session.LocalID
}

func (e *Engine) nodeSnapshot(id string) *domain.AgentNode {
	for _, n := range e.tracker.snapshotNodes() {
		if n.ID == id {
			return &n
		}
	}
	return nil
}

// notifyNode adapts tracker callbacks onto the notes channel.
func (e *Engine) notifyNode(node domain.AgentNode) {
	e.notify(Note{Kind: NoteAgentNode, SessionID: e.localID(), Node: &node})
}

// notify delivers a note without blocking the turn on a slow consumer.
func (e *Engine) notify(n Note) {
	if e.notes == nil {
		return
	}
	select {
	case e.notes <- n:
	default:
		e.logger.Warn("dropping engine note", "kind", n.Kind, "session_id", n.SessionID)
	}
}

// outboundMessage prefixes the text with the mode's context block.
func (e *Engine) outboundMessage(text string) string {
	if e.session.Mode == domain.ModeProject && e.cfg.ProjectPath != "" {
		return fmt.Sprintf(
			"[PROJECT MODE - Directory: %s]\n[Your working directory is %s. You can inspect source code, modules, and create documentation here.]\n\n%s",
			e.cfg.ProjectPath, e.cfg.ProjectPath, text,
		)
	}
	if e.cfg.VaultPath != "" {
		return fmt.Sprintf("[Vault: %s]\n\n%s", e.cfg.VaultPath, text)
	}
	return text
}

func (e *Engine) workingDir() string {
	if e.session.Mode == domain.ModeProject && e.cfg.ProjectPath != "" {
		return e.cfg.ProjectPath
	}
	return e.cfg.VaultPath
}

// saveSnapshot persists an already-taken session snapshot to the bounded
// history store. Callers snapshot while holding the engine lock.
func (e *Engine) saveSnapshot(ctx context.Context, snap *domain.StoredSession) {
	if snap == nil || len(snap.Messages) == 0 {
		return
	}
	saveCtx, cancel := context.WithTimeout(withoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.repo.SaveSession(saveCtx, snap); err != nil {
		e.logger.Warn("failed to save session history", "session_id", snap.LocalID, "error", err)
	}
}

// withoutCancel detaches persistence from request contexts so a client
// disconnect cannot lose a completed turn.
func withoutCancel(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
