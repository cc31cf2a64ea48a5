package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taskdock/taskdock/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write a starter .taskdock.yaml in the current directory.

Credential values reference environment variables so no secret lands in
the file itself.

Example:
  cd ~/myproject
  taskdock init`,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to get current directory: %v\n", err)
			os.Exit(1)
		}

		path := filepath.Join(cwd, ".taskdock.yaml")
		if _, err := os.Stat(path); err == nil && !initForce {
			fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", path)
			os.Exit(1)
		}

		if err := writeStarterConfig(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Wrote starter config\n\n", green("✓"))
		fmt.Printf("  Config: %s\n", cyan(path))
		fmt.Printf("  %s\n", gray("Set ANTHROPIC_API_KEY (and friends) in the environment."))
		fmt.Println()
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

// starterConfig mirrors config.Config with yaml tags so the generated
// file round-trips through the loader.
type starterConfig struct {
	Credentials struct {
		AnthropicAPIKey string `yaml:"anthropic_api_key"`
		OpenAIAPIKey    string `yaml:"openai_api_key"`
		GitToken        string `yaml:"git_token"`
	} `yaml:"credentials"`
	Sandbox struct {
		BaseURL  string `yaml:"base_url"`
		Token    string `yaml:"token"`
		VCPUs    int    `yaml:"vcpus"`
		MemoryMB int    `yaml:"memory_mb"`
		DiskGB   int    `yaml:"disk_gb"`
		AppPort  int    `yaml:"app_port"`
	} `yaml:"sandbox"`
	Git struct {
		UserName  string `yaml:"user_name"`
		UserEmail string `yaml:"user_email"`
	} `yaml:"git"`
	Timeouts struct {
		Global    string `yaml:"global"`
		Provision string `yaml:"provision"`
		Install   string `yaml:"install"`
	} `yaml:"timeouts"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Namer struct {
		Model    string `yaml:"model"`
		Disabled bool   `yaml:"disabled"`
	} `yaml:"namer"`
	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

func writeStarterConfig(path string) error {
	defaults := config.Default()

	sc := starterConfig{}
	sc.Credentials.AnthropicAPIKey = "${ANTHROPIC_API_KEY}"
	sc.Credentials.OpenAIAPIKey = "${OPENAI_API_KEY}"
	sc.Credentials.GitToken = "${GITHUB_TOKEN}"
	sc.Sandbox.BaseURL = defaults.Sandbox.BaseURL
	sc.Sandbox.Token = "${TASKDOCK_SANDBOX_TOKEN}"
	sc.Sandbox.VCPUs = defaults.Sandbox.VCPUs
	sc.Sandbox.MemoryMB = defaults.Sandbox.MemoryMB
	sc.Sandbox.DiskGB = defaults.Sandbox.DiskGB
	sc.Sandbox.AppPort = defaults.Sandbox.AppPort
	sc.Git.UserName = defaults.Git.UserName
	sc.Git.UserEmail = defaults.Git.UserEmail
	sc.Timeouts.Global = defaults.Timeouts.Global.String()
	sc.Timeouts.Provision = defaults.Timeouts.Provision.String()
	sc.Timeouts.Install = defaults.Timeouts.Install.String()
	sc.Storage.Path = defaults.Storage.Path
	sc.Namer.Model = defaults.Namer.Model
	sc.Log.Level = defaults.Log.Level

	data, err := yaml.Marshal(&sc)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	header := []byte("# taskdock configuration\n# Credentials may reference environment variables as ${VAR}.\n\n")
	return os.WriteFile(path, append(header, data...), 0600)
}
