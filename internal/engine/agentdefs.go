package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// agentDefsDir is the subdirectory of the working directory that holds
// sub-agent definition files.
const agentDefsDir = ".agents"

type agentFrontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// LoadAgentDefs reads sub-agent definitions from <dir>/.agents/*.md. Each
// file carries a YAML frontmatter block with name and description. Files
// without valid frontmatter are skipped. A missing directory is not an error:
// most vaults define no agents.
func LoadAgentDefs(dir string) ([]AgentDef, error) {
	if dir == "" {
		return nil, nil
	}
	pattern := filepath.Join(dir, agentDefsDir, "*.md")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob agent definitions: %w", err)
	}

	var defs []AgentDef
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		def, ok := parseAgentDef(string(data))
		if !ok {
			continue
		}
		if def.Name == "" {
			def.Name = strings.TrimSuffix(filepath.Base(path), ".md")
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

func parseAgentDef(content string) (AgentDef, bool) {
	content = strings.TrimPrefix(content, "\ufeff")
	if !strings.HasPrefix(content, "---\n") {
		return AgentDef{}, false
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return AgentDef{}, false
	}

	var fm agentFrontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return AgentDef{}, false
	}
	return AgentDef{Name: fm.Name, Description: fm.Description}, true
}
