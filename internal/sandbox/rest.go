package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/taskdock/taskdock/internal/log"
	"github.com/taskdock/taskdock/internal/types"
)

// RESTClient talks to the sandbox service over its HTTP API.
type RESTClient struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  log.Logger
}

// RESTConfig holds sandbox service client configuration.
type RESTConfig struct {
	// BaseURL is the sandbox service endpoint.
	BaseURL string

	// Token authenticates requests to the service.
	Token string

	// HTTPClient overrides the default client (mainly for tests).
	HTTPClient *http.Client

	Logger log.Logger
}

func (c *RESTConfig) defaults() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sandbox.RESTClient"})
	return nil
}

// NewRESTClient creates a sandbox service client.
func NewRESTClient(cfg RESTConfig) (*RESTClient, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &RESTClient{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpc:   cfg.HTTPClient,
		logger:  cfg.Logger,
	}, nil
}

type createSandboxRequest struct {
	Git struct {
		RepoURL  string `json:"repo_url"`
		Revision string `json:"revision,omitempty"`
		Depth    int    `json:"depth,omitempty"`
	} `json:"git"`
	Resources struct {
		VCPUs    int `json:"vcpus"`
		MemoryMB int `json:"memory_mb"`
		DiskGB   int `json:"disk_gb"`
	} `json:"resources"`
	Ports []int `json:"ports,omitempty"`
}

type createSandboxResponse struct {
	ID         string `json:"id"`
	DomainBase string `json:"domain_base"`
}

type execRequest struct {
	Cmd  string            `json:"cmd"`
	Args []string          `json:"args,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
}

type execResponse struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Create asks the service for a new sandbox and waits until it is ready.
func (c *RESTClient) Create(ctx context.Context, req CreateRequest) (Handle, error) {
	body := createSandboxRequest{Ports: req.Ports}
	body.Git.RepoURL = req.Git.RepoURL
	body.Git.Revision = req.Git.Revision
	body.Git.Depth = req.Git.Depth
	body.Resources.VCPUs = req.Resources.VCPUs
	body.Resources.MemoryMB = req.Resources.MemoryMB
	body.Resources.DiskGB = req.Resources.DiskGB

	var resp createSandboxResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sandboxes", body, &resp); err != nil {
		return nil, err
	}

	c.logger.Infof("Created sandbox %s", resp.ID)
	return &restHandle{client: c, id: resp.ID, domainBase: resp.DomainBase}, nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox service request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("sandbox service: %s %s: %w", method, path, types.ErrNotFound)
	case resp.StatusCode >= 400:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sandbox service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type restHandle struct {
	client     *RESTClient
	id         string
	domainBase string
}

func (h *restHandle) ID() string { return h.id }

func (h *restHandle) RunCommand(ctx context.Context, cmd string, args []string, env map[string]string) (*ExecResult, error) {
	var resp execResponse
	err := h.client.do(ctx, http.MethodPost, "/v1/sandboxes/"+h.id+"/exec", execRequest{Cmd: cmd, Args: args, Env: env}, &resp)
	if err != nil {
		return nil, err
	}
	return &ExecResult{ExitCode: resp.ExitCode, Stdout: resp.Stdout, Stderr: resp.Stderr}, nil
}

func (h *restHandle) Domain(port int) string {
	if h.domainBase == "" {
		return ""
	}
	return fmt.Sprintf("https://%s-%d.%s", h.id, port, h.domainBase)
}

// Destroy releases the sandbox. A sandbox already gone is a success, so
// racing teardown paths stay idempotent.
func (h *restHandle) Destroy(ctx context.Context) error {
	err := h.client.do(ctx, http.MethodDelete, "/v1/sandboxes/"+h.id, nil, nil)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("failed to destroy sandbox %s: %w", h.id, err)
	}
	return nil
}
