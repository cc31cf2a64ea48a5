package sandbox

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/taskdock/taskdock/internal/log"
	"github.com/taskdock/taskdock/internal/tasklog"
	"github.com/taskdock/taskdock/internal/types"
)

// ProjectType classifies the repository by its manifest files.
type ProjectType string

const (
	ProjectNode    ProjectType = "node"
	ProjectGo      ProjectType = "go"
	ProjectPython  ProjectType = "python"
	ProjectRust    ProjectType = "rust"
	ProjectUnknown ProjectType = "unknown"
)

// manifestProbes maps manifest files to project types, in probe order.
var manifestProbes = []struct {
	file        string
	projectType ProjectType
}{
	{"package.json", ProjectNode},
	{"go.mod", ProjectGo},
	{"pyproject.toml", ProjectPython},
	{"requirements.txt", ProjectPython},
	{"Cargo.toml", ProjectRust},
}

// registrar is the subset of the sandbox registry the provisioner needs.
type registrar interface {
	Register(taskID string, h Handle)
}

// Installer primes a created sandbox with project dependencies. The
// returned error is advisory: provisioning logs it and continues.
type Installer interface {
	Install(ctx context.Context, h Handle) (*InstallResult, error)
}

// InstallResult reports how dependency priming went.
type InstallResult struct {
	// Manager is the package manager that ran the final attempt.
	Manager string

	// Retried reports whether a fallback attempt ran.
	Retried bool
}

// ProvisionRequest describes the environment one task needs.
type ProvisionRequest struct {
	TaskID  string
	RepoURL string

	// ExistingBranch resumes work on a branch that already exists on the
	// remote; the clone is pinned to it.
	ExistingBranch string

	// PrecomputedBranch is the name already resolved for this task, if
	// the naming race finished in time.
	PrecomputedBranch string

	InstallDeps bool
	Resources   Resources

	// TaskLog receives progress and log entries during provisioning.
	TaskLog *tasklog.Logger

	// StopRequested is polled at the cancellation checkpoints.
	StopRequested func(ctx context.Context) (bool, error)
}

// Provisioned is the outcome of successful provisioning.
type Provisioned struct {
	Handle      Handle
	URL         string
	Branch      string
	ProjectType ProjectType
}

// Provisioner creates and configures ephemeral environments.
type Provisioner struct {
	client    Client
	registry  registrar
	installer Installer
	gitToken  string
	gitUser   string
	gitEmail  string
	timeout   time.Duration
	appPort   int
	resources Resources
	logger    log.Logger
}

// ProvisionerConfig holds provisioner configuration.
type ProvisionerConfig struct {
	Client   Client
	Registry registrar

	// Installer primes node projects when the task asks for it. Optional:
	// without one, dependency install is skipped.
	Installer Installer

	// GitToken is injected into https clone URLs for private repos.
	GitToken string

	// GitUser and GitEmail configure the commit identity inside the
	// sandbox.
	GitUser  string
	GitEmail string

	// Timeout bounds the sandbox service create call. Default: 2 minutes.
	Timeout time.Duration

	// AppPort is the port exposed as the sandbox public URL. Default: 3000.
	AppPort int

	// Resources is the default sizing for sandboxes that don't override it.
	Resources Resources

	Logger log.Logger
}

func (c *ProvisionerConfig) defaults() error {
	if c.Client == nil {
		return fmt.Errorf("sandbox client is required")
	}
	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}
	if c.GitUser == "" {
		c.GitUser = "taskdock"
	}
	if c.GitEmail == "" {
		c.GitEmail = "bot@taskdock.dev"
	}
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.AppPort == 0 {
		c.AppPort = 3000
	}
	if c.Resources == (Resources{}) {
		c.Resources = DefaultResources()
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sandbox.Provisioner"})
	return nil
}

// NewProvisioner creates a sandbox provisioner.
func NewProvisioner(cfg ProvisionerConfig) (*Provisioner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Provisioner{
		client:    cfg.Client,
		registry:  cfg.Registry,
		installer: cfg.Installer,
		gitToken:  cfg.GitToken,
		gitUser:   cfg.GitUser,
		gitEmail:  cfg.GitEmail,
		timeout:   cfg.Timeout,
		appPort:   cfg.AppPort,
		resources: cfg.Resources,
		logger:    cfg.Logger,
	}, nil
}

// Provision creates the sandbox, primes it and resolves the working
// branch. A stop observed at any checkpoint returns types.ErrCancelled;
// the created handle, if any, is already registered so the caller's
// teardown path can reach it.
func (p *Provisioner) Provision(ctx context.Context, req ProvisionRequest) (*Provisioned, error) {
	tl := req.TaskLog

	// Checkpoint: before the provisioning request.
	if err := p.checkStop(ctx, req); err != nil {
		return nil, err
	}

	cloneURL := InjectToken(req.RepoURL, p.gitToken)
	revision := req.ExistingBranch

	resources := req.Resources
	if resources == (Resources{}) {
		resources = p.resources
	}

	createCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	handle, err := p.client.Create(createCtx, CreateRequest{
		Git:       GitSource{RepoURL: cloneURL, Revision: revision, Depth: 1},
		Resources: resources,
		Timeout:   p.timeout,
		Ports:     []int{p.appPort},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(createCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("sandbox provisioning timed out; try a smaller repository or fewer dependencies: %w", types.ErrTimeout)
		}
		return nil, fmt.Errorf("sandbox provisioning failed: %w", err)
	}

	p.registry.Register(req.TaskID, handle)
	if tl != nil {
		tl.Info(ctx, "Sandbox %s created", handle.ID())
		tl.Progress(ctx, 15)
	}

	// Checkpoint: immediately after creation succeeded.
	if err := p.checkStop(ctx, req); err != nil {
		return nil, err
	}

	if err := p.ensureGitRepo(ctx, handle, tl); err != nil {
		return nil, err
	}

	projectType := p.classify(ctx, handle)
	if tl != nil {
		tl.Info(ctx, "Detected project type: %s", projectType)
		tl.Progress(ctx, 20)
	}

	if req.InstallDeps && projectType == ProjectNode && p.installer != nil {
		result, err := p.installer.Install(ctx, handle)
		if tl != nil {
			switch {
			case err == nil:
				tl.Success(ctx, "Dependencies installed with %s", result.Manager)
			case errors.Is(err, types.ErrTimeout):
				tl.Error(ctx, "Dependency install timed out; continuing without priming")
			default:
				tl.Error(ctx, "Dependency install failed (non-fatal): %v", err)
			}
			tl.Progress(ctx, 37)
		}
	}

	// Checkpoint: after dependency install.
	if err := p.checkStop(ctx, req); err != nil {
		return nil, err
	}

	if err := p.configureGitIdentity(ctx, handle); err != nil {
		return nil, err
	}

	branch, err := p.resolveBranch(ctx, handle, req, tl)
	if err != nil {
		return nil, err
	}

	return &Provisioned{
		Handle:      handle,
		URL:         handle.Domain(p.appPort),
		Branch:      branch,
		ProjectType: projectType,
	}, nil
}

func (p *Provisioner) checkStop(ctx context.Context, req ProvisionRequest) error {
	if req.StopRequested == nil {
		return nil
	}
	stopped, err := req.StopRequested(ctx)
	if err != nil {
		p.logger.Warningf("Failed to poll stop flag: %v", err)
		return nil
	}
	if stopped {
		return fmt.Errorf("stop requested during provisioning: %w", types.ErrCancelled)
	}
	return nil
}

// ensureGitRepo initializes a repository when the fetched source has none.
func (p *Provisioner) ensureGitRepo(ctx context.Context, h Handle, tl *tasklog.Logger) error {
	res, err := h.RunCommand(ctx, "test", []string{"-d", ".git"}, nil)
	if err != nil {
		return fmt.Errorf("failed to probe for git repository: %w", err)
	}
	if res.ExitCode == 0 {
		return nil
	}

	if tl != nil {
		tl.Info(ctx, "No git repository in source, initializing one")
	}
	initRes, err := h.RunCommand(ctx, "git", []string{"init"}, nil)
	if err != nil {
		return fmt.Errorf("git init failed: %w", err)
	}
	if initRes.ExitCode != 0 {
		return fmt.Errorf("git init exited with code %d: %s", initRes.ExitCode, initRes.Stderr)
	}
	return nil
}

func (p *Provisioner) classify(ctx context.Context, h Handle) ProjectType {
	for _, probe := range manifestProbes {
		res, err := h.RunCommand(ctx, "test", []string{"-f", probe.file}, nil)
		if err != nil {
			p.logger.Warningf("Manifest probe for %s failed: %v", probe.file, err)
			continue
		}
		if res.ExitCode == 0 {
			return probe.projectType
		}
	}
	return ProjectUnknown
}

func (p *Provisioner) configureGitIdentity(ctx context.Context, h Handle) error {
	for _, kv := range [][2]string{
		{"user.name", p.gitUser},
		{"user.email", p.gitEmail},
	} {
		res, err := h.RunCommand(ctx, "git", []string{"config", kv[0], kv[1]}, nil)
		if err != nil {
			return fmt.Errorf("git config %s failed: %w", kv[0], err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("git config %s exited with code %d: %s", kv[0], res.ExitCode, res.Stderr)
		}
	}
	return nil
}

// resolveBranch puts the sandbox on the task's working branch.
//
// Priority: an existing branch is resumed (checkout + pull, pull warnings
// tolerated); a precomputed name is checked out locally, tracked from the
// remote, or created fresh; with neither, a name is synthesized. Checkout
// and creation failures are fatal, everything else is logged.
func (p *Provisioner) resolveBranch(ctx context.Context, h Handle, req ProvisionRequest, tl *tasklog.Logger) (string, error) {
	if req.ExistingBranch != "" {
		res, err := h.RunCommand(ctx, "git", []string{"checkout", req.ExistingBranch}, nil)
		if err != nil {
			return "", fmt.Errorf("git checkout %s failed: %w", req.ExistingBranch, err)
		}
		if res.ExitCode != 0 {
			return "", fmt.Errorf("failed to checkout branch %s: %s", req.ExistingBranch, res.Stderr)
		}
		if pullRes, err := h.RunCommand(ctx, "git", []string{"pull", "origin", req.ExistingBranch}, nil); err != nil || pullRes.ExitCode != 0 {
			p.logger.Warningf("git pull on resumed branch %s failed (non-fatal)", req.ExistingBranch)
		}
		return req.ExistingBranch, nil
	}

	name := req.PrecomputedBranch
	if name == "" {
		name = synthesizeBranch()
		if tl != nil {
			tl.Info(ctx, "No branch name resolved yet, using %s", name)
		}
		return name, p.createBranch(ctx, h, name)
	}

	// Local branch already present?
	if res, err := h.RunCommand(ctx, "git", []string{"rev-parse", "--verify", "refs/heads/" + name}, nil); err == nil && res.ExitCode == 0 {
		checkoutRes, err := h.RunCommand(ctx, "git", []string{"checkout", name}, nil)
		if err != nil {
			return "", fmt.Errorf("git checkout %s failed: %w", name, err)
		}
		if checkoutRes.ExitCode != 0 {
			return "", fmt.Errorf("failed to checkout branch %s: %s", name, checkoutRes.Stderr)
		}
		return name, nil
	}

	// Remote branch to track?
	if res, err := h.RunCommand(ctx, "git", []string{"ls-remote", "--exit-code", "--heads", "origin", name}, nil); err == nil && res.ExitCode == 0 {
		if fetchRes, err := h.RunCommand(ctx, "git", []string{"fetch", "origin", name}, nil); err != nil || fetchRes.ExitCode != 0 {
			p.logger.Warningf("git fetch origin %s failed, creating branch fresh instead", name)
			return name, p.createBranch(ctx, h, name)
		}
		trackRes, err := h.RunCommand(ctx, "git", []string{"checkout", "-b", name, "--track", "origin/" + name}, nil)
		if err != nil {
			return "", fmt.Errorf("git checkout --track %s failed: %w", name, err)
		}
		if trackRes.ExitCode != 0 {
			return "", fmt.Errorf("failed to track remote branch %s: %s", name, trackRes.Stderr)
		}
		return name, nil
	}

	return name, p.createBranch(ctx, h, name)
}

func (p *Provisioner) createBranch(ctx context.Context, h Handle, name string) error {
	res, err := h.RunCommand(ctx, "git", []string{"checkout", "-b", name}, nil)
	if err != nil {
		return fmt.Errorf("git checkout -b %s failed: %w", name, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to create branch %s: %s", name, res.Stderr)
	}
	return nil
}

// InjectToken embeds an access token into an https clone URL for
// private-repo access. Non-https URLs and empty tokens pass through
// unchanged.
func InjectToken(repoURL, token string) string {
	if token == "" || !strings.HasPrefix(repoURL, "https://") {
		return repoURL
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return repoURL
	}
	u.User = url.UserPassword("x-access-token", token)
	return u.String()
}

func synthesizeBranch() string {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("task/%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("task/%d-%s", time.Now().Unix(), hex.EncodeToString(buf[:]))
}
