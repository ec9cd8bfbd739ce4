package engine

import (
	"errors"

	"github.com/pmarquez/vaultmind/internal/domain"
)

// DefaultRetryCeiling is how many automatic reject-and-resubmit cycles a turn
// gets before it aborts.
const DefaultRetryCeiling = 2

// ErrRetryExhausted marks a turn aborted by the retry governor.
var ErrRetryExhausted = errors.New("tool rejected too many times, turn aborted")

// retryGovernor bounds reject-and-resubmit cycles within a turn. It counts
// all auto-rejects in the turn against one shared ceiling regardless of which
// tool was rejected; the simpler per-turn count was kept over a per-tool one
// because mixed-tool rejection storms should abort just the same.
type retryGovernor struct {
	ceiling int
}

// rejectOutcome is the governor's answer to an auto-rejected tool.
type rejectOutcome struct {
	// resubmit is the instruction to retry with; empty means abort.
	resubmit string
	abort    bool
}

// onAutoReject increments the session's retry count and decides whether to
// resubmit or abort. The count lives on the session so a user-authored
// message resets it with the rest of the turn state.
func (g retryGovernor) onAutoReject(s *domain.ConversationSession, toolName string, allowed []string) rejectOutcome {
	s.RetryCount++
	if s.RetryCount > g.ceiling {
		return rejectOutcome{abort: true}
	}
	return rejectOutcome{
		resubmit: rejectInstruction(toolName, allowed, s.LastUserMessage()),
	}
}
