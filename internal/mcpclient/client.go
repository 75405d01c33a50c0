// Package mcpclient manages MCP (Model Context Protocol) client sessions
// used by the sandbox's tool-call surface. It owns connection lifecycle,
// tool-list caching, and call recovery; the bodies of the MCP servers
// themselves are out of scope (spec.md §1 Non-goals) — this package only
// speaks the client half of the protocol.
package mcpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/agentrunner/internal/config"
	"github.com/codeready-toolchain/agentrunner/internal/retry"
	"github.com/codeready-toolchain/agentrunner/internal/version"
)

// Client manages MCP SDK sessions for the set of servers a single task's
// sandbox is configured to reach. Scoped to one task run; thread-safe so
// the sandbox's tool-call dispatch can use it from multiple goroutines
// if a future execution round parallelizes tool calls.
type Client struct {
	registry *config.MCPServerRegistry

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession
	clients       map[string]*mcpsdk.Client
	failedServers map[string]string

	toolCacheMu sync.RWMutex
	toolCache   map[string][]*mcpsdk.Tool

	// reinitMu serializes (re)initialization per server so a burst of
	// concurrent failures doesn't stampede into N simultaneous reconnects.
	reinitMu sync.Map // serverID -> *sync.Mutex

	logger *slog.Logger
}

// New builds a Client bound to the given server registry. Call Initialize
// to establish sessions before use.
func New(registry *config.MCPServerRegistry) *Client {
	return &Client{
		registry:      registry,
		sessions:      make(map[string]*mcpsdk.ClientSession),
		clients:       make(map[string]*mcpsdk.Client),
		failedServers: make(map[string]string),
		toolCache:     make(map[string][]*mcpsdk.Tool),
		logger:        slog.Default(),
	}
}

// Initialize connects to every named server, recording failures rather
// than aborting — a task whose plan only needs a subset of servers
// should not fail outright because an unrelated one is down.
func (c *Client) Initialize(ctx context.Context, serverIDs []string) {
	for _, id := range serverIDs {
		if err := c.InitializeServer(ctx, id); err != nil {
			c.mu.Lock()
			c.failedServers[id] = err.Error()
			c.mu.Unlock()
			c.logger.Warn("mcp server failed to initialize", "server", id, "error", err)
		}
	}
}

// InitializeServer connects to a single server, or returns nil if a
// session is already open. Safe to call concurrently for the same
// server: a per-server mutex serializes the attempts.
func (c *Client) InitializeServer(ctx context.Context, serverID string) error {
	mu := c.serverMutex(serverID)
	mu.Lock()
	defer mu.Unlock()
	return c.initializeServerLocked(ctx, serverID)
}

func (c *Client) serverMutex(serverID string) *sync.Mutex {
	muI, _ := c.reinitMu.LoadOrStore(serverID, &sync.Mutex{})
	return muI.(*sync.Mutex)
}

func (c *Client) initializeServerLocked(ctx context.Context, serverID string) error {
	c.mu.RLock()
	_, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if exists {
		return nil
	}

	serverCfg, err := c.registry.Get(serverID)
	if err != nil {
		return fmt.Errorf("mcpclient: server %q not configured: %w", serverID, err)
	}

	transport, err := createTransport(serverCfg.Transport)
	if err != nil {
		return fmt.Errorf("mcpclient: build transport for %q: %w", serverID, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := mcpClient.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("mcpclient: connect to %q: %w", serverID, err)
	}

	c.mu.Lock()
	c.sessions[serverID] = session
	c.clients[serverID] = mcpClient
	delete(c.failedServers, serverID)
	c.mu.Unlock()

	c.logger.Info("mcp server connected", "server", serverID)
	return nil
}

// ListTools returns a server's tool list, using a per-Client cache
// populated on first call (the list is assumed stable for the lifetime
// of a single task run).
func (c *Client) ListTools(ctx context.Context, serverID string) ([]*mcpsdk.Tool, error) {
	c.toolCacheMu.RLock()
	if cached, ok := c.toolCache[serverID]; ok {
		c.toolCacheMu.RUnlock()
		return cached, nil
	}
	c.toolCacheMu.RUnlock()

	c.mu.RLock()
	session, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("mcpclient: no session for server %q", serverID)
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: list tools from %q: %w", serverID, err)
	}

	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	c.toolCacheMu.Lock()
	c.toolCache[serverID] = tools
	c.toolCacheMu.Unlock()

	return tools, nil
}

// ListAllTools lists tools from every connected server, tolerating
// per-server failures; it only returns an error when every server fails.
func (c *Client) ListAllTools(ctx context.Context) (map[string][]*mcpsdk.Tool, error) {
	c.mu.RLock()
	serverIDs := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		serverIDs = append(serverIDs, id)
	}
	c.mu.RUnlock()

	result := make(map[string][]*mcpsdk.Tool)
	var lastErr error
	for _, id := range serverIDs {
		tools, err := c.ListTools(ctx, id)
		if err != nil {
			lastErr = err
			c.logger.Warn("failed to list tools from mcp server", "server", id, "error", err)
			continue
		}
		result[id] = tools
	}

	if len(result) == 0 && lastErr != nil {
		return nil, fmt.Errorf("mcpclient: all servers failed to list tools: %w", lastErr)
	}
	return result, nil
}

// CallTool executes a tool call on the named server. A single failure is
// retried once (spec.md §5's "MCP stdio tool call" suspension point);
// connection-shaped failures recreate the session before the retry,
// protocol and timeout failures are not retried at all.
func (c *Client) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{Name: toolName, Arguments: args}

	var recreateBeforeNext bool
	var result *mcpsdk.CallToolResult

	cfg := retry.Config{MaxAttempts: 2, BackoffMin: retryBackoffMin, BackoffMax: retryBackoffMax}
	classify := func(err error) bool {
		retryable, recreate := classifyCallError(err)
		recreateBeforeNext = recreate
		return retryable
	}

	err := retry.Do(ctx, cfg, classify, func(ctx context.Context, attempt int) error {
		if attempt > 0 && recreateBeforeNext {
			if err := c.recreateSession(ctx, serverID); err != nil {
				return fmt.Errorf("mcpclient: session recreation failed for %q: %w", serverID, err)
			}
		}
		r, err := c.callToolOnce(ctx, serverID, params)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mcpclient: call %s.%s: %w", serverID, toolName, err)
	}
	return result, nil
}

func (c *Client) callToolOnce(ctx context.Context, serverID string, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	c.mu.RLock()
	session, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for server %q", serverID)
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	return session.CallTool(opCtx, params)
}

// recreateSession tears down and reconnects a server's session. Two
// concurrent callers may both pay for a redundant recreation (the second
// sees the same broken session the first saw); acceptable for the low
// concurrency of a single task's tool calls.
func (c *Client) recreateSession(ctx context.Context, serverID string) error {
	mu := c.serverMutex(serverID)
	mu.Lock()
	defer mu.Unlock()

	c.mu.Lock()
	if session, exists := c.sessions[serverID]; exists {
		_ = session.Close()
		delete(c.sessions, serverID)
		delete(c.clients, serverID)
	}
	c.mu.Unlock()

	c.InvalidateToolCache(serverID)

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()
	return c.initializeServerLocked(reinitCtx, serverID)
}

// Close shuts down every open session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcpclient: close session %q: %w", id, err)
		}
	}
	c.sessions = make(map[string]*mcpsdk.ClientSession)
	c.clients = make(map[string]*mcpsdk.Client)
	c.failedServers = make(map[string]string)

	c.toolCacheMu.Lock()
	c.toolCache = make(map[string][]*mcpsdk.Tool)
	c.toolCacheMu.Unlock()

	return firstErr
}

// InvalidateToolCache drops a server's cached tool list, forcing the next
// ListTools call to re-probe it.
func (c *Client) InvalidateToolCache(serverID string) {
	c.toolCacheMu.Lock()
	delete(c.toolCache, serverID)
	c.toolCacheMu.Unlock()
}

// HasSession reports whether a server currently has an open session.
func (c *Client) HasSession(serverID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.sessions[serverID]
	return exists
}

// FailedServers returns the servers that failed to initialize, keyed by
// server ID with the recorded error message.
func (c *Client) FailedServers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]string, len(c.failedServers))
	for k, v := range c.failedServers {
		result[k] = v
	}
	return result
}
