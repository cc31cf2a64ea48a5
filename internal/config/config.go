// Package config loads taskdock configuration. It supports XDG config
// paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for taskdock.
type Config struct {
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Sandbox     SandboxConfig     `mapstructure:"sandbox"`
	Git         GitConfig         `mapstructure:"git"`
	Timeouts    TimeoutsConfig    `mapstructure:"timeouts"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Namer       NamerConfig       `mapstructure:"namer"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Log         LogConfig         `mapstructure:"log"`
}

// CredentialsConfig holds the API keys forwarded to agent CLIs and the
// git access token. Values may reference environment variables as ${VAR}.
type CredentialsConfig struct {
	Anthropic  string `mapstructure:"anthropic_api_key"`
	OpenAI     string `mapstructure:"openai_api_key"`
	Gemini     string `mapstructure:"gemini_api_key"`
	OpenRouter string `mapstructure:"openrouter_api_key"`
	Amp        string `mapstructure:"amp_api_key"`
	GitToken   string `mapstructure:"git_token"`
}

// SandboxConfig holds sandbox service settings.
type SandboxConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Token    string `mapstructure:"token"`
	VCPUs    int    `mapstructure:"vcpus"`
	MemoryMB int    `mapstructure:"memory_mb"`
	DiskGB   int    `mapstructure:"disk_gb"`
	AppPort  int    `mapstructure:"app_port"`
}

// GitConfig holds the commit identity used inside sandboxes.
type GitConfig struct {
	UserName  string `mapstructure:"user_name"`
	UserEmail string `mapstructure:"user_email"`
}

// TimeoutsConfig holds the layered execution budgets.
type TimeoutsConfig struct {
	// Global bounds one task end to end.
	Global time.Duration `mapstructure:"global"`
	// Provision bounds sandbox creation.
	Provision time.Duration `mapstructure:"provision"`
	// Install bounds one dependency install attempt.
	Install time.Duration `mapstructure:"install"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// NamerConfig holds branch name generation settings.
type NamerConfig struct {
	Model    string `mapstructure:"model"`
	Disabled bool   `mapstructure:"disabled"`
}

// RegistryConfig holds sandbox registry settings.
type RegistryConfig struct {
	// Strict disables the kill-oldest fallback on stop.
	Strict bool `mapstructure:"strict"`
}

// LogConfig holds process logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// AgentCredentials returns the environment variable map forwarded into
// sandboxes for the agent CLIs. Empty values are omitted.
func (c *Config) AgentCredentials() map[string]string {
	creds := map[string]string{}
	for key, val := range map[string]string{
		"ANTHROPIC_API_KEY":  c.Credentials.Anthropic,
		"OPENAI_API_KEY":     c.Credentials.OpenAI,
		"GEMINI_API_KEY":     c.Credentials.Gemini,
		"OPENROUTER_API_KEY": c.Credentials.OpenRouter,
		"AMP_API_KEY":        c.Credentials.Amp,
	} {
		if val != "" {
			creds[key] = val
		}
	}
	return creds
}

// Secrets returns every configured secret value, for redaction.
func (c *Config) Secrets() []string {
	var secrets []string
	for _, s := range []string{
		c.Credentials.Anthropic,
		c.Credentials.OpenAI,
		c.Credentials.Gemini,
		c.Credentials.OpenRouter,
		c.Credentials.Amp,
		c.Credentials.GitToken,
		c.Sandbox.Token,
	} {
		if s != "" {
			secrets = append(secrets, s)
		}
	}
	return secrets
}

// Load loads configuration with the following precedence (highest first):
// environment variables, project config (.taskdock.yaml in the current
// directory or a parent), user config (~/.config/taskdock/config.yaml),
// built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("credentials.anthropic_api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("credentials.openai_api_key", "OPENAI_API_KEY")
	v.BindEnv("credentials.gemini_api_key", "GEMINI_API_KEY")
	v.BindEnv("credentials.openrouter_api_key", "OPENROUTER_API_KEY")
	v.BindEnv("credentials.amp_api_key", "AMP_API_KEY")
	v.BindEnv("credentials.git_token", "GIT_TOKEN", "GITHUB_TOKEN")
	v.BindEnv("sandbox.token", "TASKDOCK_SANDBOX_TOKEN")
	v.BindEnv("sandbox.base_url", "TASKDOCK_SANDBOX_URL")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.expand()

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.expand()

	return cfg, nil
}

// expand resolves ${VAR} references in secret-bearing fields.
func (c *Config) expand() {
	c.Credentials.Anthropic = os.ExpandEnv(c.Credentials.Anthropic)
	c.Credentials.OpenAI = os.ExpandEnv(c.Credentials.OpenAI)
	c.Credentials.Gemini = os.ExpandEnv(c.Credentials.Gemini)
	c.Credentials.OpenRouter = os.ExpandEnv(c.Credentials.OpenRouter)
	c.Credentials.Amp = os.ExpandEnv(c.Credentials.Amp)
	c.Credentials.GitToken = os.ExpandEnv(c.Credentials.GitToken)
	c.Sandbox.Token = os.ExpandEnv(c.Sandbox.Token)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sandbox.base_url", "http://localhost:8400")
	v.SetDefault("sandbox.vcpus", 2)
	v.SetDefault("sandbox.memory_mb", 4096)
	v.SetDefault("sandbox.disk_gb", 10)
	v.SetDefault("sandbox.app_port", 3000)

	v.SetDefault("git.user_name", "taskdock")
	v.SetDefault("git.user_email", "bot@taskdock.dev")

	v.SetDefault("timeouts.global", "5m")
	v.SetDefault("timeouts.provision", "2m")
	v.SetDefault("timeouts.install", "3m")

	v.SetDefault("storage.path", ".taskdock/taskdock.db")

	v.SetDefault("namer.model", "claude-3-5-haiku-latest")
	v.SetDefault("namer.disabled", false)

	v.SetDefault("registry.strict", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskdock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskdock")
	}
	return filepath.Join(home, ".config", "taskdock")
}

// findProjectConfig searches for .taskdock.yaml in the current directory
// and its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".taskdock.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Sandbox: SandboxConfig{BaseURL: "http://localhost:8400", VCPUs: 2, MemoryMB: 4096, DiskGB: 10, AppPort: 3000},
		Git:     GitConfig{UserName: "taskdock", UserEmail: "bot@taskdock.dev"},
		Timeouts: TimeoutsConfig{
			Global:    5 * time.Minute,
			Provision: 2 * time.Minute,
			Install:   3 * time.Minute,
		},
		Storage: StorageConfig{Path: ".taskdock/taskdock.db"},
		Namer:   NamerConfig{Model: "claude-3-5-haiku-latest"},
		Log:     LogConfig{Level: "info"},
	}
}
