package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/pmarquez/vaultmind/internal/domain"
)

var (
	errAgentExit   = errors.New("agent process exited with error")
	errStreamEvent = errors.New("agent stream reported error")
)

// maxEventLine bounds a single NDJSON event line (1MB). Tool results larger
// than this indicate a misbehaving backend.
const maxEventLine = 1 << 20

// CLIClient runs the agent backend as a subprocess per turn and decodes the
// NDJSON event stream it writes to stdout.
type CLIClient struct {
	// Bin is the agent executable, e.g. "agent" on PATH.
	Bin    string
	logger *slog.Logger
}

// NewCLIClient creates a transport that spawns bin for each turn.
func NewCLIClient(bin string, logger *slog.Logger) *CLIClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIClient{Bin: bin, logger: logger}
}

// wireEvent is the raw NDJSON line shape emitted by the agent process.
type wireEvent struct {
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Error     string `json:"error,omitempty"`
	Tool      *struct {
		Phase    string         `json:"phase"`
		ToolID   string         `json:"tool_id"`
		ToolName string         `json:"tool_name"`
		Input    map[string]any `json:"input,omitempty"`
		Result   string         `json:"result,omitempty"`
		IsError  bool           `json:"is_error,omitempty"`
	} `json:"tool,omitempty"`
}

// Send spawns the agent process and yields its events in arrival order. The
// iterator ends on the done marker, stream error, or ctx cancellation; the
// subprocess is killed when ctx is cancelled.
func (c *CLIClient) Send(ctx context.Context, req Request) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		cmd := exec.CommandContext(ctx, c.Bin, c.args(req)...)
		cmd.Dir = req.WorkingDir
		cmd.Stdin = strings.NewReader(req.Message)

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(nil, fmt.Errorf("agent stdout pipe: %w", err))
			return
		}
		var stderr strings.Builder
		cmd.Stderr = &stderr

		if err := cmd.Start(); err != nil {
			yield(nil, fmt.Errorf("start agent process: %w", err))
			return
		}

		c.logger.Debug("agent process started",
			"bin", c.Bin,
			"working_dir", req.WorkingDir,
			"resume", req.BackendSessionID != "",
			"allowed_tools", len(req.AllowedTools),
		)

		done := c.streamEvents(stdout, yield)

		waitErr := cmd.Wait()
		if done {
			// Stream ended normally; a nonzero exit after the done marker is
			// logged but not surfaced as a turn failure.
			if waitErr != nil {
				c.logger.Warn("agent process exited nonzero after done marker", "error", waitErr)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if waitErr != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				yield(nil, fmt.Errorf("%w: %v", errAgentExit, waitErr))
				return
			}
			yield(nil, fmt.Errorf("%w: %s", errAgentExit, msg))
			return
		}
		yield(nil, fmt.Errorf("%w: stream ended without done marker", errAgentExit))
	}
}

// streamEvents decodes stdout lines until the done marker. It returns true
// when the done marker was seen and yielded.
func (c *CLIClient) streamEvents(stdout io.Reader, yield func(*Event, error) bool) bool {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var we wireEvent
		if err := json.Unmarshal([]byte(line), &we); err != nil {
			c.logger.Warn("skipping malformed agent event", "error", err)
			continue
		}

		if we.Error != "" {
			yield(nil, fmt.Errorf("%w: %s", errStreamEvent, we.Error))
			return false
		}

		ev := decodeEvent(&we)
		if !yield(ev, nil) {
			return false
		}
		if ev.Done {
			return true
		}
	}
	if err := scanner.Err(); err != nil {
		yield(nil, fmt.Errorf("read agent stream: %w", err))
	}
	return false
}

func decodeEvent(we *wireEvent) *Event {
	ev := &Event{
		SessionID: we.SessionID,
		Content:   we.Content,
		Done:      we.Done,
	}
	if we.Tool != nil {
		ev.Tool = &domain.ToolEvent{
			Phase:    domain.ToolPhase(we.Tool.Phase),
			ToolID:   we.Tool.ToolID,
			ToolName: we.Tool.ToolName,
			Input:    we.Tool.Input,
			Result:   we.Tool.Result,
			IsError:  we.Tool.IsError,
		}
	}
	return ev
}

// args builds the subprocess command line. The message itself travels on
// stdin so tool results and note content never hit the argv limit.
func (c *CLIClient) args(req Request) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--model", req.Model,
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(req.AllowedTools, ","))
	}
	if req.BackendSessionID != "" {
		args = append(args, "--resume", req.BackendSessionID)
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	if req.ConnectorConfigPath != "" {
		args = append(args, "--mcp-config", req.ConnectorConfigPath)
	}
	return args
}
