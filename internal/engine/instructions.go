package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pmarquez/vaultmind/internal/domain"
	"github.com/pmarquez/vaultmind/internal/policy"
)

// AgentDef describes a specialized sub-agent available for delegation,
// loaded from the working directory's agent definitions.
type AgentDef struct {
	Name        string
	Description string
}

// vaultSystemPrompt builds the vault-mode system instructions, enumerating
// the available sub-agents so the backend can delegate by name.
func vaultSystemPrompt(agents []AgentDef) string {
	var b strings.Builder
	b.WriteString("You are an assistant working inside a vault of markdown notes.\n")
	b.WriteString("Your role is to understand what the user needs and use the right tools or agents.\n")

	if len(agents) > 0 {
		b.WriteString("\nSPECIALIZED AGENTS AVAILABLE (invoke them with the Task tool):\n")
		for _, a := range agents {
			fmt.Fprintf(&b, "- @%s: %s\n", a.Name, a.Description)
		}
		b.WriteString("\nHOW TO CHOOSE:\n")
		b.WriteString("- Questions about notes or documentation: search directly with Glob/Grep/Read, or delegate to a locator/analyzer agent.\n")
		b.WriteString("- Research on the internet: use WebSearch/WebFetch or delegate to a research agent.\n")
		b.WriteString("- Simple tasks (find a file, read a note): do it yourself without delegating.\n")
		b.WriteString("- Complex or specialized tasks: delegate to the most suitable agent.\n")
	}

	b.WriteString("\nDIRECT TOOLS:\n")
	b.WriteString("- Glob, Grep, Read: search and read files in the vault.\n")
	b.WriteString("- WebSearch, WebFetch: research on the internet.\n")
	b.WriteString("- Task: delegate to specialized agents.\n")
	b.WriteString("\nRULES:\n")
	b.WriteString("1. NEVER use Bash, Write, Edit, connector tools, or anything not listed.\n")
	b.WriteString("2. ALWAYS include the FULL ABSOLUTE PATH when you mention a file.\n")
	b.WriteString("3. Be concise and useful.\n")
	return b.String()
}

// maxParamEcho bounds the JSON parameter echo in generic approval text.
const maxParamEcho = 500

// approvalInstruction crafts the resumption text after the user approves a
// tool, telling the agent to carry out the exact action it declared. The
// switch over tool classes is exhaustive on purpose.
func approvalInstruction(ev *domain.ToolEvent) string {
	switch policy.Classify(ev.ToolName) {
	case domain.ClassWrite:
		if ev.ToolName == "Edit" {
			oldText, _ := ev.Input["old_string"].(string)
			newText, _ := ev.Input["new_string"].(string)
			if oldText != "" {
				return fmt.Sprintf("APPROVED. Edit the file %q. Replace:\n%s\nWith:\n%s", ev.FilePath(), oldText, newText)
			}
			return fmt.Sprintf("APPROVED. Edit the file %q. Apply the change you proposed.", ev.FilePath())
		}
		return fmt.Sprintf("APPROVED. Create the file %q with exactly the content you proposed. Do it now.", ev.FilePath())
	case domain.ClassShell:
		cmd, _ := ev.Input["command"].(string)
		return fmt.Sprintf("APPROVED. Run this command:\n%s", cmd)
	case domain.ClassConnector:
		// Connector approvals restart the backend session; the caller sends
		// the original request text with this note appended.
		return fmt.Sprintf("(The user approved using %s for this request.)", ev.ToolName)
	case domain.ClassGeneric:
		text := fmt.Sprintf("APPROVED. Use %s with the parameters you had planned.", ev.ToolName)
		if len(ev.Input) > 0 {
			if raw, err := json.Marshal(ev.Input); err == nil {
				params := string(raw)
				if r := []rune(params); len(r) > maxParamEcho {
					params = string(r[:maxParamEcho])
				}
				text += "\nParameters: " + params
			}
		}
		return text
	}
	return fmt.Sprintf("APPROVED. Use %s with the parameters you had planned.", ev.ToolName)
}

// denialInstruction crafts the resumption text after the user denies a tool.
// Vault-mode write denials redirect the agent to show the content instead;
// other vault denials restate the only tools available there.
func denialInstruction(mode domain.Mode, ev *domain.ToolEvent) string {
	class := policy.Classify(ev.ToolName)
	if mode == domain.ModeVault && class == domain.ClassWrite {
		return "DENIED: the user did not approve writing that file. Show the content in your reply instead, so the user can apply it manually if they want."
	}
	if mode == domain.ModeVault {
		return fmt.Sprintf("DENIED: %s is NOT available in vault mode. You can ONLY use Glob (pattern **/*.md), Grep and Read to search the vault's markdown files. Find the information in the vault's .md notes.", ev.ToolName)
	}
	return fmt.Sprintf("DENIED: do NOT use %s. Find another way to solve the task without that tool.", ev.ToolName)
}

// rejectInstruction is the governor's resubmission text after an automatic
// policy rejection, naming the rejected tool and restating the allowed set.
func rejectInstruction(toolName string, allowed []string, original string) string {
	return fmt.Sprintf(
		"The tool %s is not available here. Only these tools are allowed: %s. Solve the original request using only those tools.\n\nOriginal request: %s",
		toolName, strings.Join(allowed, ", "), original,
	)
}
