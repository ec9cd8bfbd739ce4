package policy

import (
	"reflect"
	"testing"

	"github.com/pmarquez/vaultmind/internal/domain"
)

func approvalEvent(name string, input map[string]any) *domain.ToolEvent {
	return &domain.ToolEvent{
		Phase:    domain.PhaseApproval,
		ToolID:   "t-1",
		ToolName: name,
		Input:    input,
	}
}

func TestDecide_VaultMode(t *testing.T) {
	sb := Sandbox{VaultRoot: "/vault"}
	session := domain.NewConversationSession("s1", domain.ModeVault, "m")

	tests := []struct {
		name  string
		tool  string
		input map[string]any
		want  domain.Verdict
	}{
		{"read auto-allowed", "Read", nil, domain.VerdictAllow},
		{"glob auto-allowed", "Glob", nil, domain.VerdictAllow},
		{"grep auto-allowed", "Grep", nil, domain.VerdictAllow},
		{"web search auto-allowed", "WebSearch", nil, domain.VerdictAllow},
		{"web fetch auto-allowed", "WebFetch", nil, domain.VerdictAllow},
		{"delegation auto-allowed", "Task", nil, domain.VerdictAllow},
		{"shell rejected", "Bash", map[string]any{"command": "ls"}, domain.VerdictReject},
		{"unknown tool rejected", "NotebookEdit", nil, domain.VerdictReject},
		{
			"write inside vault needs approval",
			"Write",
			map[string]any{"file_path": "/vault/notes/a.md"},
			domain.VerdictNeedsApproval,
		},
		{
			"edit inside vault needs approval",
			"Edit",
			map[string]any{"file_path": "/vault/daily/2026-01-01.md"},
			domain.VerdictNeedsApproval,
		},
		{
			"write outside vault rejected",
			"Write",
			map[string]any{"file_path": "/etc/passwd"},
			domain.VerdictReject,
		},
		{
			"write with sibling prefix rejected",
			"Write",
			map[string]any{"file_path": "/vault-backup/a.md"},
			domain.VerdictReject,
		},
		{"write without path rejected", "Write", nil, domain.VerdictReject},
		{"connector needs approval", "mcp__notion__create_page", nil, domain.VerdictNeedsApproval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sb.Decide(domain.ModeVault, session, approvalEvent(tt.tool, tt.input))
			if got != tt.want {
				t.Errorf("Decide(%s) = %v, want %v", tt.tool, got, tt.want)
			}
		})
	}
}

func TestDecide_VaultConnectorNeverCached(t *testing.T) {
	sb := Sandbox{VaultRoot: "/vault"}
	session := domain.NewConversationSession("s1", domain.ModeVault, "m")

	// Even a previously approved connector tool must be re-approved.
	session.ApproveTool("mcp__notion__create_page")

	got := sb.Decide(domain.ModeVault, session, approvalEvent("mcp__notion__create_page", nil))
	if got != domain.VerdictNeedsApproval {
		t.Errorf("connector after approval = %v, want needs-approval", got)
	}
}

func TestDecide_ProjectMode(t *testing.T) {
	sb := Sandbox{VaultRoot: "/vault"}
	session := domain.NewConversationSession("s1", domain.ModeProject, "m")

	if got := sb.Decide(domain.ModeProject, session, approvalEvent("Read", nil)); got != domain.VerdictAllow {
		t.Errorf("base tool = %v, want allow", got)
	}
	if got := sb.Decide(domain.ModeProject, session, approvalEvent("Bash", nil)); got != domain.VerdictNeedsApproval {
		t.Errorf("first-use shell = %v, want needs-approval", got)
	}

	session.ApproveTool("Bash")
	if got := sb.Decide(domain.ModeProject, session, approvalEvent("Bash", nil)); got != domain.VerdictAllow {
		t.Errorf("approved shell = %v, want allow", got)
	}

	// Connector tools in project mode follow the session allow-list; the
	// vault containment guarantee does not apply here.
	if got := sb.Decide(domain.ModeProject, session, approvalEvent("mcp__jira__create_issue", nil)); got != domain.VerdictNeedsApproval {
		t.Errorf("first-use connector = %v, want needs-approval", got)
	}
	session.ApproveTool("mcp__jira__create_issue")
	if got := sb.Decide(domain.ModeProject, session, approvalEvent("mcp__jira__create_issue", nil)); got != domain.VerdictAllow {
		t.Errorf("approved connector = %v, want allow", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		tool string
		want domain.ToolClass
	}{
		{"Write", domain.ClassWrite},
		{"Edit", domain.ClassWrite},
		{"Bash", domain.ClassShell},
		{"mcp__github__create_pr", domain.ClassConnector},
		{"Read", domain.ClassGeneric},
		{"Task", domain.ClassGeneric},
	}
	for _, tt := range tests {
		if got := Classify(tt.tool); got != tt.want {
			t.Errorf("Classify(%s) = %v, want %v", tt.tool, got, tt.want)
		}
	}
}

func TestAllowedTools(t *testing.T) {
	session := domain.NewConversationSession("s1", domain.ModeProject, "m")
	session.ApproveTool("Bash")
	session.ApproveTool("Write")

	got := AllowedTools(domain.ModeProject, session)
	want := []string{"Read", "Glob", "Grep", "WebSearch", "WebFetch", "Bash", "Write"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AllowedTools = %v, want %v", got, want)
	}

	// Vault mode ignores nothing but still includes Task; empty approvals
	// return exactly the base set.
	vaultGot := AllowedTools(domain.ModeVault, domain.NewConversationSession("s2", domain.ModeVault, "m"))
	vaultWant := []string{"Read", "Glob", "Grep", "WebSearch", "WebFetch", "Task"}
	if !reflect.DeepEqual(vaultGot, vaultWant) {
		t.Errorf("AllowedTools(vault) = %v, want %v", vaultGot, vaultWant)
	}
}

func TestInsideVault(t *testing.T) {
	sb := Sandbox{VaultRoot: "/vault"}
	tests := []struct {
		path string
		want bool
	}{
		{"/vault/a.md", true},
		{"/vault/sub/deep/b.md", true},
		{"/vault", true},
		{"/vault/../etc/passwd", false},
		{"/vaultx/a.md", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := sb.insideVault(tt.path); got != tt.want {
			t.Errorf("insideVault(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
