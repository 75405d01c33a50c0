package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/agentrunner/internal/llmclient"
)

// ListToolDefinitions lists every connected server's tools and converts
// them into the provider-neutral function-calling schema the planning
// coordinator's execution phase offers the model alongside
// sandbox.ToolDefinitions, name-spacing each as "server__tool" (see
// router.go) so two servers may both expose a tool with the same local
// name.
func (c *Client) ListToolDefinitions(ctx context.Context) ([]llmclient.ToolDefinition, error) {
	byServer, err := c.ListAllTools(ctx)
	if err != nil {
		return nil, err
	}

	var defs []llmclient.ToolDefinition
	for serverID, tools := range byServer {
		for _, t := range tools {
			defs = append(defs, llmclient.ToolDefinition{
				Name:        JoinToolName(serverID, t.Name),
				Description: t.Description,
				InputSchema: schemaToMap(t.InputSchema),
			})
		}
	}
	return defs, nil
}

// schemaToMap round-trips an MCP tool's InputSchema (an SDK-internal
// jsonschema.Schema) through JSON into the plain map llmclient.ToolDefinition
// carries, so this package's callers never need the jsonschema type.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// CallNamedTool calls a "server__tool" function-calling name, extracting
// the MCP result's text content the way the coordinator's other tool
// surfaces return theirs: a plain string plus an error.
func (c *Client) CallNamedTool(ctx context.Context, name string, args map[string]any) (string, error) {
	serverID, toolName, err := SplitToolName(name)
	if err != nil {
		return "", err
	}

	result, err := c.CallTool(ctx, serverID, toolName, args)
	if err != nil {
		return "", err
	}

	text := extractTextContent(result)
	if result.IsError {
		return text, fmt.Errorf("mcpclient: tool %s reported an error: %s", name, text)
	}
	return text, nil
}

// extractTextContent concatenates every TextContent block in an MCP
// result, logging and skipping any other content kind (images, embedded
// resources) this coordinator has no surface to render.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var out string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += tc.Text
			continue
		}
		slog.Debug("mcp tool returned non-text content, skipping", "content_type", fmt.Sprintf("%T", c))
	}
	return out
}
