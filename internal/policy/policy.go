// Package policy implements the capability sandbox for agent tool requests.
//
// Decide is a pure function: given the session's capability mode, the
// requested tool, and the current session approvals, it returns a verdict.
// Nothing here mutates state or performs I/O.
package policy

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmarquez/vaultmind/internal/domain"
)

// ConnectorPrefix namespaces externally discovered service-connector tools.
// Connector tools are never blanket-trusted: they may be destructive and the
// engine cannot inspect what they do.
const ConnectorPrefix = "mcp__"

// vaultAutoAllow are the tools vault mode runs without asking: search, read,
// web lookup, and delegation.
var vaultAutoAllow = map[string]struct{}{
	"Read":      {},
	"Glob":      {},
	"Grep":      {},
	"WebSearch": {},
	"WebFetch":  {},
	"Task":      {},
}

// projectBase is the always-allowed set in project mode; everything else
// needs a first-use approval.
var projectBase = map[string]struct{}{
	"Read":      {},
	"Glob":      {},
	"Grep":      {},
	"WebSearch": {},
	"WebFetch":  {},
}

var writeClass = map[string]struct{}{
	"Write": {},
	"Edit":  {},
}

// Classify maps a tool name to its handling class.
func Classify(toolName string) domain.ToolClass {
	if strings.HasPrefix(toolName, ConnectorPrefix) {
		return domain.ClassConnector
	}
	if _, ok := writeClass[toolName]; ok {
		return domain.ClassWrite
	}
	if toolName == "Bash" {
		return domain.ClassShell
	}
	return domain.ClassGeneric
}

// IsDelegation reports whether the tool spawns a delegated sub-agent.
func IsDelegation(toolName string) bool {
	return toolName == "Task"
}

// Sandbox evaluates tool requests for one session. VaultRoot is the absolute
// path of the active vault; write targets outside it are rejected outright in
// vault mode.
type Sandbox struct {
	VaultRoot string
}

// Decide returns the verdict for a requested tool.
//
// Vault mode: the fixed allow-list is auto-allowed; write-class tools need
// approval only when the target lies inside the vault, otherwise they are
// rejected without prompting; connector tools always need approval; anything
// else is rejected.
//
// Project mode: the base set plus session approvals is auto-allowed; anything
// else needs approval on first use. Connector approvals land in the session
// allow-list here, unlike vault mode where they stay per-use.
func (sb Sandbox) Decide(mode domain.Mode, session *domain.ConversationSession, ev *domain.ToolEvent) domain.Verdict {
	switch mode {
	case domain.ModeVault:
		return sb.decideVault(ev)
	case domain.ModeProject:
		return sb.decideProject(session, ev)
	default:
		return domain.VerdictReject
	}
}

func (sb Sandbox) decideVault(ev *domain.ToolEvent) domain.Verdict {
	switch Classify(ev.ToolName) {
	case domain.ClassConnector:
		return domain.VerdictNeedsApproval
	case domain.ClassWrite:
		if sb.insideVault(ev.FilePath()) {
			return domain.VerdictNeedsApproval
		}
		return domain.VerdictReject
	case domain.ClassShell:
		return domain.VerdictReject
	case domain.ClassGeneric:
		if _, ok := vaultAutoAllow[ev.ToolName]; ok {
			return domain.VerdictAllow
		}
		return domain.VerdictReject
	}
	return domain.VerdictReject
}

func (sb Sandbox) decideProject(session *domain.ConversationSession, ev *domain.ToolEvent) domain.Verdict {
	if _, ok := projectBase[ev.ToolName]; ok {
		return domain.VerdictAllow
	}
	if session != nil && session.IsApproved(ev.ToolName) {
		return domain.VerdictAllow
	}
	return domain.VerdictNeedsApproval
}

// insideVault reports whether path is contained in the vault root. An empty
// path is never inside: a write event without a target is not actionable.
func (sb Sandbox) insideVault(path string) bool {
	if sb.VaultRoot == "" || path == "" {
		return false
	}
	root := filepath.Clean(sb.VaultRoot)
	p := filepath.Clean(path)
	if p == root {
		return true
	}
	return strings.HasPrefix(p, root+string(filepath.Separator))
}

// AllowedTools computes the tool list to send with a request: the mode's base
// set plus the session's approvals, deduplicated, in stable order.
func AllowedTools(mode domain.Mode, session *domain.ConversationSession) []string {
	base := baseTools(mode)
	out := make([]string, 0, len(base)+4)
	seen := make(map[string]struct{}, len(base)+4)
	for _, t := range base {
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	if session != nil {
		approved := make([]string, 0, len(session.ApprovedTools))
		for t := range session.ApprovedTools {
			approved = append(approved, t)
		}
		sort.Strings(approved)
		for _, t := range approved {
			if _, dup := seen[t]; !dup {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	return out
}

func baseTools(mode domain.Mode) []string {
	if mode == domain.ModeVault {
		return []string{"Read", "Glob", "Grep", "WebSearch", "WebFetch", "Task"}
	}
	return []string{"Read", "Glob", "Grep", "WebSearch", "WebFetch"}
}
