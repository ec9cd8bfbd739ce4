// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pmarquez/vaultmind/internal/engine"
	"github.com/pmarquez/vaultmind/internal/store"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// AgentBin is the agent backend executable spawned per turn.
	AgentBin   string
	AgentModel string

	// VaultPath is the note vault root; write approvals are only offered for
	// paths inside it. ProjectPath is the broader project-mode directory.
	VaultPath   string
	ProjectPath string

	// SubagentQuietTimeout is the silence window after which a delegated
	// sub-agent is inferred complete.
	SubagentQuietTimeout time.Duration
	// RetryCeiling bounds automatic reject-and-resubmit cycles per turn.
	RetryCeiling int
	// HistoryCapacity bounds the stored session history.
	HistoryCapacity int

	// ConnectorConfigPath points at the MCP server config file; empty
	// disables connectors.
	ConnectorConfigPath string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		FrontendURL:          getEnv("FRONTEND_URL", ""),
		DBPath:               getEnv("DB_PATH", "./data/history.db"),
		AgentBin:             getEnv("AGENT_BIN", "agent"),
		AgentModel:           getEnv("AGENT_MODEL", "default"),
		VaultPath:            getEnv("VAULT_PATH", ""),
		ProjectPath:          getEnv("PROJECT_PATH", ""),
		SubagentQuietTimeout: getEnvDuration("SUBAGENT_QUIET_TIMEOUT", engine.DefaultQuietTimeout),
		RetryCeiling:         getEnvInt("RETRY_CEILING", engine.DefaultRetryCeiling),
		HistoryCapacity:      getEnvInt("HISTORY_CAPACITY", store.DefaultHistoryCapacity),
		ConnectorConfigPath:  getEnv("CONNECTOR_CONFIG_PATH", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AgentBin == "" {
		return fmt.Errorf("AGENT_BIN cannot be empty")
	}
	if c.VaultPath == "" {
		return fmt.Errorf("VAULT_PATH cannot be empty")
	}
	if c.SubagentQuietTimeout <= 0 {
		return fmt.Errorf("SUBAGENT_QUIET_TIMEOUT must be > 0")
	}
	if c.RetryCeiling <= 0 {
		return fmt.Errorf("RETRY_CEILING must be > 0")
	}
	if c.HistoryCapacity <= 0 {
		return fmt.Errorf("HISTORY_CAPACITY must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
