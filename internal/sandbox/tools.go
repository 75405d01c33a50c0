package sandbox

import (
	"context"

	"github.com/codeready-toolchain/agentrunner/internal/llmclient"
)

// ToolDefinitions returns the full function-calling schema a task's
// execution phase may call: the two surfaces this manager always exposes
// (a shell command executor and the text-editor daemon proxy, per
// spec.md §4.5's "environment manager supplies the command-executor and
// text-editor tool definitions in the LLM provider's function-calling
// schema") plus, when the task has any MCP servers connected, every tool
// those servers advertise.
func (m *Manager) ToolDefinitions(ctx context.Context, taskUUID string) []llmclient.ToolDefinition {
	defs := staticToolDefinitions()
	defs = append(defs, m.MCPToolDefinitions(ctx, taskUUID)...)
	return defs
}

func staticToolDefinitions() []llmclient.ToolDefinition {
	return []llmclient.ToolDefinition{
		executeCommandTool(),
		textEditorTool(),
	}
}

func executeCommandTool() llmclient.ToolDefinition {
	return llmclient.ToolDefinition{
		Name:        "execute_command",
		Description: "Run a shell command in the task's sandbox container and return its exit code, stdout, and stderr.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":     map[string]any{"type": "string", "description": "Shell command to run via `sh -c`."},
				"working_dir": map[string]any{"type": "string", "description": "Directory to run the command in; defaults to the cloned repository root."},
			},
			"required": []string{"command"},
		},
	}
}

func textEditorTool() llmclient.ToolDefinition {
	return llmclient.ToolDefinition{
		Name:        "text_editor",
		Description: "View, create, and edit files in the task's sandbox workspace via the running text-editor daemon.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":     map[string]any{"type": "string", "enum": []string{"view", "create", "str_replace", "insert"}},
				"path":        map[string]any{"type": "string", "description": "Absolute or workspace-relative file path."},
				"view_range":  map[string]any{"type": "array", "items": map[string]any{"type": "integer"}, "description": "[start_line, end_line] for command=view."},
				"file_text":   map[string]any{"type": "string", "description": "Full file contents for command=create."},
				"old_str":     map[string]any{"type": "string", "description": "Exact text to replace for command=str_replace."},
				"new_str":     map[string]any{"type": "string", "description": "Replacement text for command=str_replace."},
				"insert_line": map[string]any{"type": "integer", "description": "Line number to insert after for command=insert."},
			},
			"required": []string{"command", "path"},
		},
	}
}
