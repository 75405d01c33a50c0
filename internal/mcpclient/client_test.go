package mcpclient

import (
	"context"
	"encoding/json"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentrunner/internal/config"
)

var emptySchema = json.RawMessage(`{"type":"object"}`)

type testMCPServer struct {
	server          *mcpsdk.Server
	clientTransport *mcpsdk.InMemoryTransport
	serverTransport *mcpsdk.InMemoryTransport
}

func startTestServer(t *testing.T, name string, tools map[string]mcpsdk.ToolHandler) *testMCPServer {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: "test"}, nil)
	for toolName, handler := range tools {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "test tool: " + toolName,
			InputSchema: emptySchema,
		}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	go func() {
		_ = server.Run(context.Background(), serverTransport)
	}()

	return &testMCPServer{server: server, clientTransport: clientTransport, serverTransport: serverTransport}
}

// connectClientDirect wires a Client to a pre-connected in-memory transport,
// bypassing the registry/createTransport path so the client's own
// bookkeeping (cache, sessions, recovery) can be tested without exec'ing a
// real stdio process.
func connectClientDirect(t *testing.T, serverID string, transport *mcpsdk.InMemoryTransport) *Client {
	t.Helper()
	ctx := context.Background()

	client := New(config.NewMCPServerRegistry(nil))

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "agentrunner-test", Version: "test"}, nil)
	session, err := sdkClient.Connect(ctx, transport, nil)
	require.NoError(t, err)

	client.mu.Lock()
	client.sessions[serverID] = session
	client.clients[serverID] = sdkClient
	client.mu.Unlock()

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func textResult(text string) (*mcpsdk.CallToolResult, error) {
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}, nil
}

func TestListToolsReturnsServerTools(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"run_tests": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return textResult("ok")
		},
		"view_file": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return textResult("ok")
		},
	})

	client := connectClientDirect(t, "devbox", ts.clientTransport)

	tools, err := client.ListTools(context.Background(), "devbox")
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	assert.Contains(t, names, "run_tests")
	assert.Contains(t, names, "view_file")
}

func TestListToolsUsesCacheOnSecondCall(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"run_tests": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return textResult("ok")
		},
	})

	client := connectClientDirect(t, "devbox", ts.clientTransport)
	ctx := context.Background()

	first, err := client.ListTools(ctx, "devbox")
	require.NoError(t, err)
	second, err := client.ListTools(ctx, "devbox")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCallToolReturnsContent(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"run_tests": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return textResult("PASS: 12 tests")
		},
	})

	client := connectClientDirect(t, "devbox", ts.clientTransport)

	result, err := client.CallTool(context.Background(), "devbox", "run_tests", map[string]any{})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)

	tc, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Equal(t, "PASS: 12 tests", tc.Text)
}

func TestCallToolToolLevelErrorIsNotAGoError(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"run_tests": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "FAIL: compile error"}},
				IsError: true,
			}, nil
		},
	})

	client := connectClientDirect(t, "devbox", ts.clientTransport)

	result, err := client.CallTool(context.Background(), "devbox", "run_tests", map[string]any{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListToolsNoSessionReturnsError(t *testing.T) {
	client := New(config.NewMCPServerRegistry(nil))

	_, err := client.ListTools(context.Background(), "nonexistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no session")
}

func TestCallToolNoSessionReturnsError(t *testing.T) {
	client := New(config.NewMCPServerRegistry(nil))

	_, err := client.CallTool(context.Background(), "nonexistent", "run_tests", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no session")
}

func TestHasSessionReflectsConnectionState(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"ping": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return textResult("pong")
		},
	})

	client := connectClientDirect(t, "devbox", ts.clientTransport)

	assert.True(t, client.HasSession("devbox"))
	assert.False(t, client.HasSession("nonexistent"))
}

func TestInitializeRecordsFailureForUnknownServer(t *testing.T) {
	client := New(config.NewMCPServerRegistry(nil))

	client.Initialize(context.Background(), []string{"nonexistent-server"})

	failed := client.FailedServers()
	assert.Contains(t, failed, "nonexistent-server")
}

func TestCloseClearsSessionsAndCache(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"ping": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return textResult("pong")
		},
	})

	client := connectClientDirect(t, "devbox", ts.clientTransport)
	assert.True(t, client.HasSession("devbox"))

	require.NoError(t, client.Close())
	assert.False(t, client.HasSession("devbox"))
}

func TestInvalidateToolCacheForcesReprobe(t *testing.T) {
	calls := 0
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"ping": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			calls++
			return textResult("pong")
		},
	})

	client := connectClientDirect(t, "devbox", ts.clientTransport)
	ctx := context.Background()

	_, err := client.ListTools(ctx, "devbox")
	require.NoError(t, err)

	client.InvalidateToolCache("devbox")

	_, err = client.ListTools(ctx, "devbox")
	require.NoError(t, err)
}
