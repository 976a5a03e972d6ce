// Package config loads revolve's settings from an optional YAML file, the
// environment (REVOLVE_ prefix) and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the configuration for the application
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Test      TestConfig      `mapstructure:"test"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Git       GitConfig       `mapstructure:"git"`
	Store     StoreConfig     `mapstructure:"store"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

type DatabaseConfig struct {
	URL         string        `mapstructure:"url"`
	Schema      string        `mapstructure:"schema"`
	Tables      []string      `mapstructure:"tables"`
	Exclude     []string      `mapstructure:"exclude"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type WorkspaceConfig struct {
	Dir string `mapstructure:"dir"`
}

type TestConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Command       string        `mapstructure:"command"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxIterations int           `mapstructure:"max_iterations"`
}

type WorkflowConfig struct {
	Workers        int  `mapstructure:"workers"`
	RepairWorkers  int  `mapstructure:"repair_workers"`
	ClassifyIntent bool `mapstructure:"classify_intent"`
	MaxSteps       int  `mapstructure:"max_steps"`
}

type GitConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	BranchPrefix string `mapstructure:"branch_prefix"`
	Push         bool   `mapstructure:"push"`
	Remote       string `mapstructure:"remote"`
	AuthorName   string `mapstructure:"author_name"`
	AuthorEmail  string `mapstructure:"author_email"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

var defaults = map[string]any{
	"database.url":             "",
	"database.schema":          "",
	"database.tables":          []string{},
	"database.exclude":         []string{},
	"database.ping_timeout":    5 * time.Second,
	"llm.api_key":              "",
	"llm.model":                "gemini-2.5-flash",
	"llm.temperature":          0.2,
	"llm.max_attempts":         3,
	"llm.timeout":              2 * time.Minute,
	"workspace.dir":            "generated",
	"test.enabled":             true,
	"test.command":             "python -m pytest",
	"test.timeout":             5 * time.Minute,
	"test.max_iterations":      3,
	"workflow.workers":         4,
	"workflow.repair_workers":  1,
	"workflow.classify_intent": true,
	"workflow.max_steps":       50,
	"git.enabled":              true,
	"git.branch_prefix":        "revolve",
	"git.push":                 false,
	"git.remote":               "origin",
	"git.author_name":          "revolve",
	"git.author_email":         "revolve@localhost",
	"store.path":               ".revolve/runs.db",
	"server.addr":              ":8080",
	"log.level":                "info",
	"log.json":                 false,
}

// Load reads configuration. path names an explicit config file; when empty,
// revolve.yaml is looked up in . and ./config and may be absent. flags maps
// config keys to command-line flags, which win when set.
func Load(path string, flags map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("REVOLVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", "REVOLVE_LLM_API_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("revolve")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	for key, flag := range flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	if c.LLM.MaxAttempts < 1 {
		return fmt.Errorf("llm.max_attempts must be at least 1")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if c.Test.MaxIterations < 0 {
		return fmt.Errorf("test.max_iterations must not be negative")
	}
	if c.Workflow.Workers < 1 {
		return fmt.Errorf("workflow.workers must be at least 1")
	}
	if c.Workflow.RepairWorkers < 1 {
		return fmt.Errorf("workflow.repair_workers must be at least 1")
	}
	if c.Workflow.MaxSteps < 1 {
		return fmt.Errorf("workflow.max_steps must be at least 1")
	}
	if strings.TrimSpace(c.Workspace.Dir) == "" {
		return fmt.Errorf("workspace.dir is required")
	}
	if c.Git.Push && c.Git.Remote == "" {
		return fmt.Errorf("git.remote is required when git.push is set")
	}
	return nil
}

// RequireDatabase checks the settings every database-backed command needs
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("database.url is required (flag --db or REVOLVE_DATABASE_URL)")
	}
	return nil
}

// RequireLLM checks the settings code synthesis needs
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (REVOLVE_LLM_API_KEY or GEMINI_API_KEY)")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	return nil
}
