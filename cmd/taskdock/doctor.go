package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/taskdock/taskdock/internal/config"
)

// minNodeVersion is the oldest Node.js the agent CLI installs support.
const minNodeVersion = "v18.0.0"

var doctorVerbose bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check taskdock installation and environment health",
	Long: `Run health checks to diagnose common configuration and environment
issues.

This command checks for:
- Configuration readability
- Storage directory permissions
- Sandbox service settings
- Agent CLI credentials
- git and Node.js toolchain versions

Exit codes:
  0 - All checks passed
  1 - One or more checks failed (but not critical)
  2 - Critical failures that prevent taskdock from running`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Running taskdock health checks...\n\n")

		var failures, warnings, critical []string

		fmt.Printf("%s Configuration\n", cyan("→"))
		cfg, err := config.Load()
		if err != nil {
			critical = append(critical, fmt.Sprintf("Cannot load config: %v", err))
			fmt.Printf("  %s Cannot load configuration\n", red("✗"))
			if doctorVerbose {
				fmt.Printf("    Error: %v\n", err)
			}
			finishDoctor(failures, warnings, critical)
			return
		}
		fmt.Printf("  %s Configuration loaded\n", green("✓"))

		fmt.Printf("%s Storage\n", cyan("→"))
		dir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			critical = append(critical, fmt.Sprintf("Storage directory not writable: %v", err))
			fmt.Printf("  %s Cannot create storage directory %s\n", red("✗"), dir)
		} else {
			fmt.Printf("  %s Storage directory writable (%s)\n", green("✓"), dir)
		}

		fmt.Printf("%s Sandbox service\n", cyan("→"))
		if cfg.Sandbox.BaseURL == "" {
			critical = append(critical, "Sandbox base URL not configured")
			fmt.Printf("  %s No sandbox base URL configured\n", red("✗"))
		} else {
			fmt.Printf("  %s Sandbox endpoint: %s\n", green("✓"), cfg.Sandbox.BaseURL)
		}
		if cfg.Sandbox.Token == "" {
			warnings = append(warnings, "No sandbox token set (TASKDOCK_SANDBOX_TOKEN)")
			fmt.Printf("  %s No sandbox token set\n", yellow("⚠"))
		} else {
			fmt.Printf("  %s Sandbox token present\n", green("✓"))
		}

		fmt.Printf("%s Agent credentials\n", cyan("→"))
		creds := cfg.AgentCredentials()
		if len(creds) == 0 {
			failures = append(failures, "No agent credentials configured; every agent will fail fast")
			fmt.Printf("  %s No agent API keys configured\n", red("✗"))
		} else {
			for key := range creds {
				fmt.Printf("  %s %s set\n", green("✓"), key)
			}
		}
		if cfg.Credentials.GitToken == "" {
			warnings = append(warnings, "No git token set; private repositories will fail to clone and push")
			fmt.Printf("  %s No git token set\n", yellow("⚠"))
		}

		fmt.Printf("%s Toolchain\n", cyan("→"))
		if version, err := commandVersion("git", "--version"); err != nil {
			critical = append(critical, "git not found in PATH")
			fmt.Printf("  %s git not found\n", red("✗"))
		} else {
			fmt.Printf("  %s %s\n", green("✓"), version)
		}

		if version, err := commandVersion("node", "--version"); err != nil {
			warnings = append(warnings, "node not found; agent CLI installs inside sandboxes still work")
			fmt.Printf("  %s node not found locally\n", yellow("⚠"))
		} else {
			v := strings.TrimSpace(version)
			if semver.IsValid(v) && semver.Compare(v, minNodeVersion) < 0 {
				failures = append(failures, fmt.Sprintf("node %s is older than %s", v, minNodeVersion))
				fmt.Printf("  %s node %s (need %s+)\n", red("✗"), v, minNodeVersion)
			} else {
				fmt.Printf("  %s node %s\n", green("✓"), v)
			}
		}

		finishDoctor(failures, warnings, critical)
	},
}

func init() {
	doctorCmd.Flags().BoolVarP(&doctorVerbose, "verbose", "v", false, "Show error details")
	rootCmd.AddCommand(doctorCmd)
}

func commandVersion(name string, arg ...string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", err
	}
	out, err := exec.Command(path, arg...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func finishDoctor(failures, warnings, critical []string) {
	fmt.Println()
	switch {
	case len(critical) > 0:
		fmt.Printf("%s Critical failures prevent taskdock from running:\n", red("✗"))
		for _, c := range critical {
			fmt.Printf("  - %s\n", c)
		}
		os.Exit(2)
	case len(failures) > 0:
		fmt.Printf("%s %d check(s) failed\n", red("✗"), len(failures))
		for _, f := range failures {
			fmt.Printf("  - %s\n", f)
		}
		os.Exit(1)
	case len(warnings) > 0:
		fmt.Printf("%s All checks passed with %d warning(s)\n", yellow("⚠"), len(warnings))
	default:
		fmt.Printf("%s All checks passed\n", green("✓"))
	}
}
