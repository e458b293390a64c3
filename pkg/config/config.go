package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Providers ProvidersConfig `json:"providers"`
	Bridge    BridgeConfig    `json:"bridge"`
	Voice     VoiceConfig     `json:"voice"`
	Tools     ToolsConfig     `json:"tools"`
	Logging   LoggingConfig   `json:"logging"`
}

// AgentConfig is the persisted agent configuration. The orchestration core
// treats it as read-only; nothing here is mutated after load.
type AgentConfig struct {
	Provider                string   `json:"provider" env:"HIBIKI_AGENT_PROVIDER"`
	Model                   string   `json:"model" env:"HIBIKI_AGENT_MODEL"`
	APIKey                  string   `json:"api_key" env:"HIBIKI_AGENT_API_KEY"`
	Workspace               string   `json:"workspace" env:"HIBIKI_AGENT_WORKSPACE"`
	MaxTokens               int      `json:"max_tokens" env:"HIBIKI_AGENT_MAX_TOKENS"`
	Temperature             float64  `json:"temperature" env:"HIBIKI_AGENT_TEMPERATURE"`
	MaxIterations           int      `json:"max_iterations" env:"HIBIKI_AGENT_MAX_ITERATIONS"`
	ScheduledMaxIterations  int      `json:"scheduled_max_iterations" env:"HIBIKI_AGENT_SCHEDULED_MAX_ITERATIONS"`
	AutomationMaxIterations int      `json:"automation_max_iterations" env:"HIBIKI_AGENT_AUTOMATION_MAX_ITERATIONS"`
	RateLimitRPM            int      `json:"rate_limit_rpm" env:"HIBIKI_AGENT_RATE_LIMIT_RPM"`
	Language                string   `json:"language" env:"HIBIKI_AGENT_LANGUAGE"`
	DrivingMode             bool     `json:"driving_mode" env:"HIBIKI_AGENT_DRIVING_MODE"`
	EnabledCapabilities     []string `json:"enabled_capabilities" env:"HIBIKI_AGENT_ENABLED_CAPABILITIES"`
}

type ProvidersConfig struct {
	Claude ProviderConfig `json:"claude"`
	OpenAI ProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base"`
}

type BridgeConfig struct {
	Enabled bool   `json:"enabled" env:"HIBIKI_BRIDGE_ENABLED"`
	Host    string `json:"host" env:"HIBIKI_BRIDGE_HOST"`
	Port    int    `json:"port" env:"HIBIKI_BRIDGE_PORT"`
	Path    string `json:"path" env:"HIBIKI_BRIDGE_PATH"`
	Token   string `json:"token" env:"HIBIKI_BRIDGE_TOKEN"`
}

type VoiceConfig struct {
	SpeakReplies bool `json:"speak_replies" env:"HIBIKI_VOICE_SPEAK_REPLIES"`
}

type ToolsConfig struct {
	Automation AutomationToolsConfig `json:"automation"`
	Memory     MemoryToolsConfig     `json:"memory"`
	MCP        MCPToolsConfig        `json:"mcp"`
}

type AutomationToolsConfig struct {
	Enabled             bool `json:"enabled" env:"HIBIKI_TOOLS_AUTOMATION_ENABLED"`
	ForegroundTimeoutMS int  `json:"foreground_timeout_ms" env:"HIBIKI_TOOLS_AUTOMATION_FOREGROUND_TIMEOUT_MS"`
}

type MemoryToolsConfig struct {
	Enabled bool `json:"enabled" env:"HIBIKI_TOOLS_MEMORY_ENABLED"`
}

type MCPToolsConfig struct {
	Enabled bool              `json:"enabled" env:"HIBIKI_TOOLS_MCP_ENABLED"`
	Servers []MCPServerConfig `json:"servers,omitempty"`
}

type MCPServerConfig struct {
	Name               string            `json:"name"`
	Enabled            bool              `json:"enabled"`
	Transport          string            `json:"transport,omitempty"` // command, streamable_http, sse
	Command            string            `json:"command,omitempty"`
	Args               []string          `json:"args,omitempty"`
	Env                map[string]string `json:"env,omitempty"`
	WorkingDir         string            `json:"working_dir,omitempty"`
	URL                string            `json:"url,omitempty"`
	ToolPrefix         string            `json:"tool_prefix,omitempty"`
	StartupTimeoutMS   int               `json:"startup_timeout_ms,omitempty"`
	CallTimeoutMS      int               `json:"call_timeout_ms,omitempty"`
	TerminateTimeoutMS int               `json:"terminate_timeout_ms,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level" env:"HIBIKI_LOG_LEVEL"`
	File  string `json:"file" env:"HIBIKI_LOG_FILE"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:                "claude",
			Workspace:               "~/.hibiki/workspace",
			MaxTokens:               4096,
			Temperature:             0,
			MaxIterations:           16,
			ScheduledMaxIterations:  8,
			AutomationMaxIterations: 12,
			Language:                "en",
			EnabledCapabilities:     []string{"schedule", "timer", "memory", "message"},
		},
		Bridge: BridgeConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    18794,
			Path:    "/ws",
		},
		Tools: ToolsConfig{
			Automation: AutomationToolsConfig{
				Enabled:             true,
				ForegroundTimeoutMS: 12000,
			},
			Memory: MemoryToolsConfig{
				Enabled: true,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the JSON file at path, falling back to defaults when it
// does not exist, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Agent.Provider)) {
	case "claude", "openai":
	case "":
		return fmt.Errorf("agent.provider is required (claude or openai)")
	default:
		return fmt.Errorf("agent.provider %q is not supported (claude or openai)", c.Agent.Provider)
	}

	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1")
	}
	if c.Agent.ScheduledMaxIterations < 1 {
		return fmt.Errorf("agent.scheduled_max_iterations must be at least 1")
	}
	if c.Agent.AutomationMaxIterations < 1 {
		return fmt.Errorf("agent.automation_max_iterations must be at least 1")
	}
	return nil
}

// ProviderAPIKey resolves the key for the named backend: the per-provider
// key wins, the shared agent key is the fallback.
func (c *Config) ProviderAPIKey(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "claude":
		if c.Providers.Claude.APIKey != "" {
			return c.Providers.Claude.APIKey
		}
	case "openai":
		if c.Providers.OpenAI.APIKey != "" {
			return c.Providers.OpenAI.APIKey
		}
	}
	return c.Agent.APIKey
}

func (c *Config) WorkspacePath() string {
	return expandHome(c.Agent.Workspace)
}

func (c *Config) LogFilePath() string {
	return expandHome(c.Logging.File)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
