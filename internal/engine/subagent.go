package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pmarquez/vaultmind/internal/domain"
)

// DefaultQuietTimeout is how long a delegated sub-agent must stay silent
// before it is inferred complete. The event stream does not distinguish an
// intermediate progress report from the final result for a node, so
// completion is inferred from silence.
const DefaultQuietTimeout = 5 * time.Second

// subagentTracker maintains delegated-task nodes and infers their completion
// via per-node quiescence timers. Safe for concurrent use: timer callbacks
// fire on their own goroutines.
type subagentTracker struct {
	mu       sync.Mutex
	nodes    map[string]*domain.AgentNode
	timers   map[string]*time.Timer
	quiet    time.Duration
	onUpdate func(node domain.AgentNode)
	logger   *slog.Logger
}

func newSubagentTracker(quiet time.Duration, onUpdate func(domain.AgentNode), logger *slog.Logger) *subagentTracker {
	if quiet <= 0 {
		quiet = DefaultQuietTimeout
	}
	if onUpdate == nil {
		onUpdate = func(domain.AgentNode) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &subagentTracker{
		nodes:    make(map[string]*domain.AgentNode),
		timers:   make(map[string]*time.Timer),
		quiet:    quiet,
		onUpdate: onUpdate,
		logger:   logger,
	}
}

// onStart registers a node for a delegation start event and arms its timer.
func (t *subagentTracker) onStart(ev *domain.ToolEvent) {
	name, _ := ev.Input["subagent_type"].(string)
	desc, _ := ev.Input["description"].(string)
	if name == "" {
		name = desc
	}
	if name == "" {
		name = "agent"
	}

	t.mu.Lock()
	if _, exists := t.nodes[ev.ToolID]; exists {
		// Duplicate start for a known id; treat as activity.
		t.mu.Unlock()
		t.onActivity(ev)
		return
	}
	node := &domain.AgentNode{
		ID:          ev.ToolID,
		Name:        name,
		Description: desc,
		Status:      domain.AgentWorking,
		StartedAt:   time.Now(),
	}
	t.nodes[ev.ToolID] = node
	t.armTimerLocked(ev.ToolID)
	snapshot := *node
	t.mu.Unlock()

	t.logger.Debug("subagent started", "node_id", ev.ToolID, "name", name)
	t.onUpdate(snapshot)
}

// tracks reports whether id belongs to a known node.
func (t *subagentTracker) tracks(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.nodes[id]
	return ok
}

// onActivity records any further event bearing a tracked node's id. It resets
// the node's quiescence timer instead of marking the node terminal: repeated
// result events under one id are progress reports until the node goes quiet.
func (t *subagentTracker) onActivity(ev *domain.ToolEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[ev.ToolID]
	if !ok || node.Status.Terminal() {
		return
	}
	if ev.Phase == domain.PhaseResult {
		node.LastResult = ev.Result
		node.LastIsError = ev.IsError
	}
	t.armTimerLocked(ev.ToolID)
}

// armTimerLocked (re)starts the quiescence timer for a node. Callers hold mu.
func (t *subagentTracker) armTimerLocked(id string) {
	if timer, ok := t.timers[id]; ok {
		timer.Stop()
	}
	t.timers[id] = time.AfterFunc(t.quiet, func() {
		t.expire(id)
	})
}

// expire fires when a node has been silent for the full quiet window.
func (t *subagentTracker) expire(id string) {
	t.mu.Lock()
	node, ok := t.nodes[id]
	if !ok || node.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	if node.LastIsError {
		node.Status = domain.AgentError
	} else {
		node.Status = domain.AgentDone
	}
	delete(t.timers, id)
	snapshot := *node
	t.mu.Unlock()

	t.logger.Debug("subagent quiesced", "node_id", id, "status", snapshot.Status)
	t.onUpdate(snapshot)
}

// finishAll forces every working node to a terminal status and clears all
// timers. Cancelled turns stop their nodes; completed turns settle them from
// the last observed error flag. No node outlives its turn.
func (t *subagentTracker) finishAll(cancelled bool) {
	t.mu.Lock()
	var snapshots []domain.AgentNode
	for id, node := range t.nodes {
		if timer, ok := t.timers[id]; ok {
			timer.Stop()
			delete(t.timers, id)
		}
		if node.Status.Terminal() {
			continue
		}
		switch {
		case cancelled:
			node.Status = domain.AgentStopped
		case node.LastIsError:
			node.Status = domain.AgentError
		default:
			node.Status = domain.AgentDone
		}
		snapshots = append(snapshots, *node)
	}
	t.mu.Unlock()

	for _, s := range snapshots {
		t.onUpdate(s)
	}
}

// reset drops all nodes and timers; called when a new turn begins.
func (t *subagentTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.nodes = make(map[string]*domain.AgentNode)
}

// snapshotNodes returns a copy of all tracked nodes for presentation.
func (t *subagentTracker) snapshotNodes() []domain.AgentNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.AgentNode, 0, len(t.nodes))
	for _, node := range t.nodes {
		out = append(out, *node)
	}
	return out
}
