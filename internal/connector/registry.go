// Package connector discovers tools exposed by configured MCP servers so the
// engine can present them by their canonical names.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pmarquez/vaultmind/internal/policy"
)

// ServerConfig describes how to launch one MCP server over stdio.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// File is the on-disk config shape, shared with the agent backend.
type File struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

// Tool is one discovered connector tool. Name is the canonical form the
// sandbox policy classifies by, e.g. "mcp__linear__create_issue".
type Tool struct {
	Name        string `json:"name"`
	Server      string `json:"server"`
	Description string `json:"description,omitempty"`
}

// Registry holds live clients for the configured MCP servers and the tools
// they advertise.
type Registry struct {
	clients map[string]*client.Client
	tools   []Tool
	logger  *slog.Logger
}

// LoadFile parses an MCP server config file. A missing path yields an empty
// config, not an error.
func LoadFile(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("read connector config: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse connector config: %w", err)
	}
	return &f, nil
}

// NewRegistry launches the configured servers and lists their tools. Servers
// that fail to start or initialize are skipped with a warning so one broken
// connector does not take the rest down.
func NewRegistry(ctx context.Context, f *File, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{clients: make(map[string]*client.Client), logger: logger}

	names := make([]string, 0, len(f.Servers))
	for name := range f.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := f.Servers[name]
		tools, c, err := connect(ctx, name, cfg)
		if err != nil {
			logger.Warn("skipping connector server", "server", name, "error", err)
			continue
		}
		r.clients[name] = c
		r.tools = append(r.tools, tools...)
		logger.Info("connector server ready", "server", name, "tools", len(tools))
	}

	sort.Slice(r.tools, func(i, j int) bool { return r.tools[i].Name < r.tools[j].Name })
	return r
}

func connect(ctx context.Context, name string, cfg ServerConfig) ([]Tool, *client.Client, error) {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, nil, fmt.Errorf("start server: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "vaultmind", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("list tools: %w", err)
	}

	tools := make([]Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		tools = append(tools, Tool{
			Name:        fmt.Sprintf("%s%s__%s", policy.ConnectorPrefix, name, t.Name),
			Server:      name,
			Description: t.Description,
		})
	}
	return tools, c, nil
}

// Tools returns the discovered connector tools, sorted by name.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Close shuts down every connected server.
func (r *Registry) Close() error {
	var firstErr error
	for name, c := range r.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close connector %s: %w", name, err)
		}
	}
	return firstErr
}
