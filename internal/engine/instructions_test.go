package engine

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/pmarquez/vaultmind/internal/domain"
)

func TestApprovalInstruction(t *testing.T) {
	tests := []struct {
		name string
		ev   domain.ToolEvent
		want []string
	}{
		{
			name: "write",
			ev: domain.ToolEvent{
				ToolName: "Write",
				Input:    map[string]any{"file_path": "/vault/a.md", "content": "x"},
			},
			want: []string{`APPROVED. Create the file "/vault/a.md"`, "Do it now."},
		},
		{
			name: "edit with strings",
			ev: domain.ToolEvent{
				ToolName: "Edit",
				Input: map[string]any{
					"file_path":  "/vault/a.md",
					"old_string": "before",
					"new_string": "after",
				},
			},
			want: []string{`APPROVED. Edit the file "/vault/a.md"`, "Replace:\nbefore", "With:\nafter"},
		},
		{
			name: "edit without strings",
			ev: domain.ToolEvent{
				ToolName: "Edit",
				Input:    map[string]any{"file_path": "/vault/a.md"},
			},
			want: []string{"Apply the change you proposed."},
		},
		{
			name: "shell",
			ev: domain.ToolEvent{
				ToolName: "Bash",
				Input:    map[string]any{"command": "git status"},
			},
			want: []string{"APPROVED. Run this command:\ngit status"},
		},
		{
			name: "connector",
			ev:   domain.ToolEvent{ToolName: "mcp__linear__create_issue"},
			want: []string{"(The user approved using mcp__linear__create_issue for this request.)"},
		},
		{
			name: "generic with params",
			ev: domain.ToolEvent{
				ToolName: "NotebookEdit",
				Input:    map[string]any{"cell": float64(3)},
			},
			want: []string{"APPROVED. Use NotebookEdit", `Parameters: {"cell":3}`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := approvalInstruction(&tt.ev)
			for _, frag := range tt.want {
				if !strings.Contains(got, frag) {
					t.Errorf("instruction %q missing %q", got, frag)
				}
			}
		})
	}
}

func TestApprovalInstructionTruncatesParams(t *testing.T) {
	for _, blob := range []string{strings.Repeat("x", 2000), strings.Repeat("日本語", 700)} {
		ev := domain.ToolEvent{
			ToolName: "SomeTool",
			Input:    map[string]any{"blob": blob},
		}
		got := approvalInstruction(&ev)
		idx := strings.Index(got, "Parameters: ")
		if idx < 0 {
			t.Fatalf("no parameter echo in %q", got)
		}
		params := got[idx+len("Parameters: "):]
		if utf8.RuneCountInString(params) > maxParamEcho {
			t.Errorf("parameter echo length = %d runes, want <= %d", utf8.RuneCountInString(params), maxParamEcho)
		}
		if !utf8.ValidString(params) {
			t.Errorf("parameter echo is not valid UTF-8: %q", params)
		}
	}
}

func TestDenialInstruction(t *testing.T) {
	tests := []struct {
		name string
		mode domain.Mode
		ev   domain.ToolEvent
		want string
	}{
		{
			name: "vault write redirects to content",
			mode: domain.ModeVault,
			ev:   domain.ToolEvent{ToolName: "Write"},
			want: "Show the content in your reply instead",
		},
		{
			name: "vault other restates tools",
			mode: domain.ModeVault,
			ev:   domain.ToolEvent{ToolName: "Bash"},
			want: "Bash is NOT available in vault mode",
		},
		{
			name: "project generic",
			mode: domain.ModeProject,
			ev:   domain.ToolEvent{ToolName: "WebFetch"},
			want: "do NOT use WebFetch",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := denialInstruction(tt.mode, &tt.ev)
			if !strings.Contains(got, tt.want) {
				t.Errorf("denial %q missing %q", got, tt.want)
			}
		})
	}
}

func TestRejectInstruction(t *testing.T) {
	got := rejectInstruction("Bash", []string{"Read", "Grep"}, "summarize my notes")
	for _, frag := range []string{"Bash", "Read, Grep", "Original request: summarize my notes"} {
		if !strings.Contains(got, frag) {
			t.Errorf("instruction %q missing %q", got, frag)
		}
	}
}

func TestVaultSystemPrompt(t *testing.T) {
	prompt := vaultSystemPrompt([]AgentDef{
		{Name: "locator", Description: "finds notes"},
		{Name: "researcher", Description: "does web research"},
	})
	for _, frag := range []string{"- @locator: finds notes", "- @researcher: does web research", "NEVER use Bash"} {
		if !strings.Contains(prompt, frag) {
			t.Errorf("prompt missing %q", frag)
		}
	}

	bare := vaultSystemPrompt(nil)
	if strings.Contains(bare, "SPECIALIZED AGENTS") {
		t.Error("agent section present with no agents defined")
	}
	if !strings.Contains(bare, "DIRECT TOOLS") {
		t.Error("direct tools section missing")
	}
}
