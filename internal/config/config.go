package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the application configuration, read by viper from a config file
// and ARIA_* environment variables.
type Config struct {
	LLM        LLMConfig         `mapstructure:"llm"`
	Agent      AgentConfig       `mapstructure:"agent"`
	Session    SessionConfig     `mapstructure:"session"`
	Weather    WeatherConfig     `mapstructure:"weather"`
	MCPServers []MCPServerConfig `mapstructure:"mcp_servers"`
}

// LLMConfig selects the model provider endpoint.
type LLMConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Timeout     int     `mapstructure:"timeout"` // seconds
}

// AgentConfig tunes the reasoning loop.
type AgentConfig struct {
	MaxIterations int           `mapstructure:"max_iterations"`
	ToolTimeout   time.Duration `mapstructure:"tool_timeout"`
	SystemPrompt  string        `mapstructure:"system_prompt"`
}

// SessionConfig controls conversation persistence.
type SessionConfig struct {
	Dir string `mapstructure:"dir"`
}

// WeatherConfig points the built-in weather tools at their upstream.
type WeatherConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// MCPServerConfig describes one external tool server to launch over stdio.
type MCPServerConfig struct {
	Name    string            `mapstructure:"name"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

func setDefaults(v *viper.Viper) {
	// Every scalar key needs a default so AutomaticEnv can surface it
	// through Unmarshal.
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", 120)
	v.SetDefault("agent.max_iterations", 10)
	v.SetDefault("agent.tool_timeout", time.Minute)
	v.SetDefault("agent.system_prompt", "")
	v.SetDefault("session.dir", "~/.aria/sessions")
	v.SetDefault("weather.base_url", "")
	v.SetDefault("weather.api_key", "")
}

// Load reads configuration from the given file (optional; when empty,
// ~/.aria.yaml and ./aria.yaml are tried) layered under ARIA_* environment
// variables. A missing config file is fine; defaults still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ARIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(".aria")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1, got %d", c.Agent.MaxIterations)
	}
	seen := make(map[string]struct{}, len(c.MCPServers))
	for _, server := range c.MCPServers {
		if server.Name == "" {
			return fmt.Errorf("mcp server entry is missing a name")
		}
		if server.Command == "" {
			return fmt.Errorf("mcp server %s is missing a command", server.Name)
		}
		if _, dup := seen[server.Name]; dup {
			return fmt.Errorf("duplicate mcp server name: %s", server.Name)
		}
		seen[server.Name] = struct{}{}
	}
	return nil
}
