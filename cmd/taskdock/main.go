// taskdock runs natural-language coding tasks against a repository inside
// ephemeral sandboxes and publishes the results as git branches.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/taskdock/taskdock/internal/agent"
	"github.com/taskdock/taskdock/internal/config"
	"github.com/taskdock/taskdock/internal/deps"
	"github.com/taskdock/taskdock/internal/gitops"
	"github.com/taskdock/taskdock/internal/log"
	logrusadapter "github.com/taskdock/taskdock/internal/log/logrus"
	"github.com/taskdock/taskdock/internal/namer"
	"github.com/taskdock/taskdock/internal/orchestrator"
	"github.com/taskdock/taskdock/internal/redact"
	"github.com/taskdock/taskdock/internal/registry"
	"github.com/taskdock/taskdock/internal/sandbox"
	"github.com/taskdock/taskdock/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "taskdock",
	Short: "Run coding tasks in ephemeral sandboxes",
	Long: `taskdock executes natural-language coding instructions with AI
coding-agent CLIs inside ephemeral sandboxes and publishes the results
as git branches.`,
	SilenceUsage: true,
}

// Shared application state, built lazily by setupApp for the commands
// that need it.
var (
	cfg    *config.Config
	store  storage.Storage
	orch   *orchestrator.Orchestrator
	logger log.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupApp wires the full task pipeline from configuration.
func setupApp(ctx context.Context) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger = buildLogger(cfg)

	store, err = storage.NewStorage(ctx, &storage.Config{Path: cfg.Storage.Path})
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	redactor := redact.New(cfg.Secrets()...)
	reg := registry.New(registry.Config{Strict: cfg.Registry.Strict, Logger: logger})

	sbClient, err := sandbox.NewRESTClient(sandbox.RESTConfig{
		BaseURL: cfg.Sandbox.BaseURL,
		Token:   cfg.Sandbox.Token,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build sandbox client: %w", err)
	}

	installer := deps.New(deps.Config{Timeout: cfg.Timeouts.Install, Logger: logger})

	provisioner, err := sandbox.NewProvisioner(sandbox.ProvisionerConfig{
		Client:    sbClient,
		Registry:  reg,
		Installer: installer,
		GitToken:  cfg.Credentials.GitToken,
		GitUser:   cfg.Git.UserName,
		GitEmail:  cfg.Git.UserEmail,
		Timeout:   cfg.Timeouts.Provision,
		AppPort:   cfg.Sandbox.AppPort,
		Resources: sandbox.Resources{
			VCPUs:    cfg.Sandbox.VCPUs,
			MemoryMB: cfg.Sandbox.MemoryMB,
			DiskGB:   cfg.Sandbox.DiskGB,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build provisioner: %w", err)
	}

	executor, err := agent.NewExecutor(agent.Config{
		Credentials: cfg.AgentCredentials(),
		Redactor:    redactor,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build agent executor: %w", err)
	}

	var resolver *namer.Resolver
	if !cfg.Namer.Disabled && cfg.Credentials.Anthropic != "" {
		client := anthropic.NewClient(option.WithAPIKey(cfg.Credentials.Anthropic))
		resolver, err = namer.New(namer.Config{
			Store:  store,
			Client: &client,
			Model:  cfg.Namer.Model,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("failed to build branch resolver: %w", err)
		}
	}

	orch, err = orchestrator.New(orchestrator.Config{
		Store:         store,
		Provisioner:   provisioner,
		Executor:      executor,
		Publisher:     gitops.New(gitops.Config{Logger: logger}),
		Resolver:      resolver,
		Registry:      reg,
		Redactor:      redactor,
		GlobalTimeout: cfg.Timeouts.Global,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	return nil
}

func teardownApp() {
	if store != nil {
		_ = store.Close()
	}
}

func buildLogger(cfg *config.Config) log.Logger {
	l := logrus.New()
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	if cfg.Log.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return logrusadapter.NewLogrus(logrus.NewEntry(l))
}
