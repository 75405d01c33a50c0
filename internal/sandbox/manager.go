// Package sandbox implements the environment manager from spec.md §4.5:
// on-demand container provisioning and teardown, plus the scoped
// command-execution and text-editing tool surface exposed to the
// planning coordinator during the execution phase.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/codeready-toolchain/agentrunner/internal/config"
	"github.com/codeready-toolchain/agentrunner/internal/llmclient"
	"github.com/codeready-toolchain/agentrunner/internal/mcpclient"
)

// containerPrefix names every container this manager creates, so the
// stale-container sweep and a crash-recovery `docker ps` scan can find
// them independent of in-memory state.
const containerPrefix = "coding-agent-exec-"

// Status is a ContainerRecord's lifecycle state.
type Status string

const (
	StatusCreated Status = "created"
	StatusReady   Status = "ready"
	StatusRemoved Status = "removed"
)

// ContainerRecord describes one task's sandbox container (spec.md §3).
type ContainerRecord struct {
	ContainerID     string
	TaskUUID        string
	EnvironmentName string
	WorkspacePath   string
	CreatedAt       time.Time
	Status          Status
}

// ContainerName is the name docker knows this record's container by.
func (r *ContainerRecord) ContainerName() string {
	return containerPrefix + r.TaskUUID
}

// PrepareRequest carries the per-task inputs Prepare needs without
// coupling this package to the planning coordinator's Task type.
type PrepareRequest struct {
	TaskUUID     string
	EnvName      string
	RepoCloneURL string // may embed a short-lived credential; never logged
	Branch       string // source branch for a PR/MR task; empty clones the default branch
}

// Manager provisions and tears down per-task sandbox containers.
type Manager struct {
	docker *client.Client
	envs   *config.EnvironmentRegistry
	cfg    config.SandboxConfig

	mcpRegistry *config.MCPServerRegistry

	mu      sync.RWMutex
	records map[string]*ContainerRecord // task UUID -> record

	editors   map[string]*textEditorProxy // task UUID -> running tool daemon
	editorsMu sync.Mutex

	mcpMu      sync.Mutex
	mcpClients map[string]*mcpclient.Client // task UUID -> scoped MCP client

	logger *slog.Logger
}

// New builds a Manager over a docker client constructed from the
// environment (DOCKER_HOST, etc.), matching docker CLI conventions.
// mcpRegistry may be nil, in which case no MCP servers are ever offered to
// a task's execution phase.
func New(cfg config.SandboxConfig, envs *config.EnvironmentRegistry, mcpRegistry *config.MCPServerRegistry) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker client: %w", err)
	}
	return &Manager{
		docker:      cli,
		envs:        envs,
		cfg:         cfg,
		mcpRegistry: mcpRegistry,
		records:     make(map[string]*ContainerRecord),
		editors:     make(map[string]*textEditorProxy),
		mcpClients:  make(map[string]*mcpclient.Client),
		logger:      slog.Default(),
	}, nil
}

// Prepare provisions a ready-to-use sandbox for a task: selects an image,
// removes any stale container of the same name, creates and starts a
// fresh one, clones the repository, runs auto-detected dependency
// install, and starts the text-editor tool daemon.
func (m *Manager) Prepare(ctx context.Context, req PrepareRequest) (*ContainerRecord, error) {
	env, err := m.resolveEnvironment(req.EnvName)
	if err != nil {
		return nil, err
	}

	record := &ContainerRecord{
		TaskUUID:        req.TaskUUID,
		EnvironmentName: req.EnvName,
		WorkspacePath:   "/workspace/project",
		CreatedAt:       time.Now(),
		Status:          StatusCreated,
	}

	if err := m.removeExisting(ctx, record.ContainerName()); err != nil {
		return nil, fmt.Errorf("sandbox: remove stale container: %w", err)
	}

	containerID, err := m.createAndStart(ctx, record.ContainerName(), env)
	if err != nil {
		return nil, fmt.Errorf("sandbox: create container: %w", err)
	}
	record.ContainerID = containerID

	m.mu.Lock()
	m.records[req.TaskUUID] = record
	m.mu.Unlock()

	if err := m.cloneRepo(ctx, record, req); err != nil {
		return record, fmt.Errorf("sandbox: clone repository: %w", err)
	}

	if m.cfg.Clone.AutoInstallDeps {
		if err := m.installDependencies(ctx, record); err != nil {
			m.logger.Warn("dependency install failed, continuing", "task", req.TaskUUID, "error", err)
		}
	}

	for _, cmd := range env.SetupCommands {
		if _, err := m.ExecuteCommand(ctx, req.TaskUUID, cmd, ""); err != nil {
			m.logger.Warn("environment setup command failed", "task", req.TaskUUID, "command", cmd, "error", err)
		}
	}

	if err := m.startTextEditor(ctx, record); err != nil {
		m.logger.Warn("text-editor tool daemon failed to start", "task", req.TaskUUID, "error", err)
	}

	m.initMCP(ctx, req.TaskUUID)

	m.mu.Lock()
	record.Status = StatusReady
	m.mu.Unlock()

	return record, nil
}

// initMCP connects a task-scoped mcpclient.Client to every configured MCP
// server, tolerating per-server failures the same way Prepare tolerates a
// failed setup command: a down MCP server shouldn't fail tasks that never
// call it.
func (m *Manager) initMCP(ctx context.Context, taskUUID string) {
	if m.mcpRegistry == nil || m.mcpRegistry.Len() == 0 {
		return
	}

	cl := mcpclient.New(m.mcpRegistry)
	serverIDs := make([]string, 0, m.mcpRegistry.Len())
	for id := range m.mcpRegistry.GetAll() {
		serverIDs = append(serverIDs, id)
	}
	cl.Initialize(ctx, serverIDs)

	m.mcpMu.Lock()
	m.mcpClients[taskUUID] = cl
	m.mcpMu.Unlock()
}

// MCPToolDefinitions lists the function-calling tools every connected MCP
// server exposes for a task, namespaced per mcpclient.JoinToolName. Returns
// nil if the task has no MCP servers configured or none connected.
func (m *Manager) MCPToolDefinitions(ctx context.Context, taskUUID string) []llmclient.ToolDefinition {
	m.mcpMu.Lock()
	cl, ok := m.mcpClients[taskUUID]
	m.mcpMu.Unlock()
	if !ok {
		return nil
	}

	defs, err := cl.ListToolDefinitions(ctx)
	if err != nil {
		m.logger.Warn("failed to list mcp tool definitions", "task", taskUUID, "error", err)
		return nil
	}
	return defs
}

// CallMCPTool dispatches a "server__tool" function call to the task's MCP
// client.
func (m *Manager) CallMCPTool(ctx context.Context, taskUUID, name string, args map[string]any) (string, error) {
	m.mcpMu.Lock()
	cl, ok := m.mcpClients[taskUUID]
	m.mcpMu.Unlock()
	if !ok {
		return "", fmt.Errorf("sandbox: no mcp client for task %q", taskUUID)
	}
	return cl.CallNamedTool(ctx, name, args)
}

func (m *Manager) resolveEnvironment(name string) (*config.EnvironmentConfig, error) {
	if name != "" && m.envs.Has(name) {
		env, _ := m.envs.Get(name)
		return env, nil
	}
	env, err := m.envs.Get(m.cfg.DefaultEnvironment)
	if err != nil {
		return nil, fmt.Errorf("sandbox: no environment %q and default %q unavailable: %w", name, m.cfg.DefaultEnvironment, err)
	}
	return env, nil
}

func (m *Manager) removeExisting(ctx context.Context, name string) error {
	matches, err := m.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		return err
	}
	for _, c := range matches {
		if err := m.docker.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) createAndStart(ctx context.Context, name string, env *config.EnvironmentConfig) (string, error) {
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: int64(m.cfg.Docker.CPULimit * 1e9),
			Memory:   parseMemoryLimit(m.cfg.Docker.MemoryLimit),
		},
	}
	if !m.cfg.Docker.Network.ExternalAccess {
		hostCfg.NetworkMode = "none"
	}
	// Domain-whitelist egress (Docker.Network.WhitelistMode/AllowedDomains)
	// needs an egress proxy or iptables rules this manager doesn't own;
	// when whitelisting is requested we fall back to ordinary bridge
	// networking rather than silently granting unrestricted access, and
	// log so the gap is visible.
	if m.cfg.Docker.Network.ExternalAccess && m.cfg.Docker.Network.WhitelistMode {
		m.logger.Warn("domain whitelist egress is not enforced by the sandbox network layer; granting full egress", "allowed_domains", m.cfg.Docker.Network.AllowedDomains)
	}

	resp, err := m.docker.ContainerCreate(ctx, &container.Config{
		Image: env.Image,
		Cmd:   []string{"sleep", "infinity"},
		Env:   envSlice(env.Env),
	}, hostCfg, nil, nil, name)
	if err != nil {
		return "", err
	}

	if err := m.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (m *Manager) cloneRepo(ctx context.Context, record *ContainerRecord, req PrepareRequest) error {
	args := []string{"git", "clone"}
	if m.cfg.Clone.Shallow {
		depth := m.cfg.Clone.Depth
		if depth <= 0 {
			depth = 1
		}
		args = append(args, "--depth", fmt.Sprintf("%d", depth))
	}
	if req.Branch != "" {
		args = append(args, "--branch", req.Branch)
	}
	args = append(args, req.RepoCloneURL, record.WorkspacePath)

	result, err := m.execRaw(ctx, record.ContainerID, args, "/")
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("git clone exited %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}

func (m *Manager) installDependencies(ctx context.Context, record *ContainerRecord) error {
	cmds, err := detectInstallCommands(ctx, m, record)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		result, err := m.ExecuteCommand(ctx, record.TaskUUID, cmd, "")
		if err != nil {
			return err
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("dependency install command %q exited %d: %s", cmd, result.ExitCode, result.Stderr)
		}
	}
	return nil
}

// ExecuteCommand runs cmd in the task's container via `sh -c`, bounded by
// the configured timeout, truncating stdout/stderr to max_output_size
// from the tail. Returns exit_code -1 on timeout.
func (m *Manager) ExecuteCommand(ctx context.Context, taskUUID, cmd, workingDir string) (*ExecResult, error) {
	record, err := m.record(taskUUID)
	if err != nil {
		return nil, err
	}
	if workingDir == "" {
		workingDir = record.WorkspacePath
	}

	timeout := time.Duration(m.cfg.Execution.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 1800 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := m.execRaw(execCtx, record.ContainerID, []string{"sh", "-c", cmd}, workingDir)
	duration := time.Since(start)
	if err != nil {
		if execCtx.Err() != nil {
			return &ExecResult{ExitCode: -1, DurationMS: duration.Milliseconds()}, nil
		}
		return nil, err
	}
	result.DurationMS = duration.Milliseconds()
	m.truncate(result)
	return result, nil
}

// ExecResult is the outcome of one execute_command call.
type ExecResult struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	DurationMS int64
}

func (m *Manager) truncate(result *ExecResult) {
	maxSize := m.cfg.Execution.MaxOutputSize
	if maxSize <= 0 {
		maxSize = 1 << 20
	}
	result.Stdout = tailTruncate(result.Stdout, maxSize)
	result.Stderr = tailTruncate(result.Stderr, maxSize)
}

func tailTruncate(s string, maxSize int) string {
	if len(s) <= maxSize {
		return s
	}
	return s[len(s)-maxSize:]
}

func (m *Manager) execRaw(ctx context.Context, containerID string, cmd []string, workingDir string) (*ExecResult, error) {
	execResp, err := m.docker.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workingDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, err
	}

	attachResp, err := m.docker.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, err
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader); err != nil && err != io.EOF {
		return nil, err
	}

	inspect, err := m.docker.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, err
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Cleanup stops the text-editor daemon and force-removes the task's
// container, retrying the removal up to 3 times.
func (m *Manager) Cleanup(ctx context.Context, taskUUID string) error {
	m.editorsMu.Lock()
	if editor, ok := m.editors[taskUUID]; ok {
		_ = editor.Close()
		delete(m.editors, taskUUID)
	}
	m.editorsMu.Unlock()

	m.mcpMu.Lock()
	if cl, ok := m.mcpClients[taskUUID]; ok {
		if err := cl.Close(); err != nil {
			m.logger.Warn("mcp client close failed", "task", taskUUID, "error", err)
		}
		delete(m.mcpClients, taskUUID)
	}
	m.mcpMu.Unlock()

	record, err := m.record(taskUUID)
	if err != nil {
		return nil // already gone; cleanup is idempotent
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := m.docker.ContainerRemove(ctx, record.ContainerID, container.RemoveOptions{Force: true}); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}

	m.mu.Lock()
	record.Status = StatusRemoved
	delete(m.records, taskUUID)
	m.mu.Unlock()

	return lastErr
}

// CleanupStaleContainers removes every coding-agent-exec-* container older
// than stale_threshold_hours, independent of in-memory records, so it
// survives a producer/consumer crash.
func (m *Manager) CleanupStaleContainers(ctx context.Context) error {
	threshold := time.Duration(m.cfg.Cleanup.StaleThresholdHours) * time.Hour
	if threshold <= 0 {
		threshold = 24 * time.Hour
	}

	containers, err := m.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", containerPrefix)),
	})
	if err != nil {
		return fmt.Errorf("sandbox: list containers: %w", err)
	}

	cutoff := time.Now().Add(-threshold)
	var lastErr error
	for _, c := range containers {
		if !strings.HasPrefix(strings.TrimPrefix(firstName(c.Names), "/"), containerPrefix) {
			continue
		}
		created := time.Unix(c.Created, 0)
		if created.After(cutoff) {
			continue
		}
		if err := m.docker.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			lastErr = err
			m.logger.Warn("failed to remove stale sandbox container", "container", c.ID, "error", err)
		}
	}
	return lastErr
}

func firstName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func (m *Manager) record(taskUUID string) (*ContainerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[taskUUID]
	if !ok {
		return nil, fmt.Errorf("sandbox: no container record for task %q", taskUUID)
	}
	return record, nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func parseMemoryLimit(limit string) int64 {
	limit = strings.TrimSpace(strings.ToLower(limit))
	if limit == "" {
		return 0
	}
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(limit, "g"):
		multiplier = 1 << 30
		limit = strings.TrimSuffix(limit, "g")
	case strings.HasSuffix(limit, "m"):
		multiplier = 1 << 20
		limit = strings.TrimSuffix(limit, "m")
	case strings.HasSuffix(limit, "k"):
		multiplier = 1 << 10
		limit = strings.TrimSuffix(limit, "k")
	}
	var value int64
	if _, err := fmt.Sscanf(limit, "%d", &value); err != nil {
		return 0
	}
	return value * multiplier
}
