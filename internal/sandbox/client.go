package sandbox

import (
	"context"
	"time"
)

// GitSource pins the repository content a sandbox is created from.
type GitSource struct {
	// RepoURL is the clone URL, already carrying the access credential
	// for private repositories.
	RepoURL string

	// Revision is the branch to check out. Empty means the repository's
	// default branch.
	Revision string

	// Depth is the clone depth. Sandboxes always use shallow clones.
	Depth int
}

// Resources defines the compute resources for a sandbox.
type Resources struct {
	VCPUs    int
	MemoryMB int
	DiskGB   int
}

// DefaultResources is the sizing used when a task doesn't override it.
func DefaultResources() Resources {
	return Resources{VCPUs: 2, MemoryMB: 4096, DiskGB: 10}
}

// CreateRequest asks the sandbox service for a new ephemeral environment.
type CreateRequest struct {
	Git       GitSource
	Resources Resources
	Timeout   time.Duration
	Ports     []int
}

// ExecResult is the outcome of a command run inside a sandbox.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Handle is a live sandbox owned by exactly one task. Destroy must be
// idempotent: teardown can race between the normal, error and stop exit
// paths and every path calls it.
type Handle interface {
	// ID is the service-side identifier of the sandbox.
	ID() string

	// RunCommand executes a command inside the sandbox and returns its
	// exit code and captured output. A non-zero exit code is not an
	// error at this layer.
	RunCommand(ctx context.Context, cmd string, args []string, env map[string]string) (*ExecResult, error)

	// Domain returns the public URL for a port exposed by the sandbox.
	Domain(port int) string

	// Destroy releases the sandbox. Safe to call more than once.
	Destroy(ctx context.Context) error
}

// Client is the contract with the ephemeral sandbox service.
type Client interface {
	Create(ctx context.Context, req CreateRequest) (Handle, error)
}
