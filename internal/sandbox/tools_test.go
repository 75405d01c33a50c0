package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentrunner/internal/config"
)

func TestStaticToolDefinitionsNamesBothSurfaces(t *testing.T) {
	defs := staticToolDefinitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "execute_command", defs[0].Name)
	assert.Equal(t, "text_editor", defs[1].Name)
	assert.Equal(t, "object", defs[0].InputSchema["type"])
	assert.Equal(t, "object", defs[1].InputSchema["type"])
}

func TestManagerMCPToolDefinitionsEmptyWithoutRegistry(t *testing.T) {
	cfg := config.SandboxConfig{}
	mgr, err := New(cfg, config.NewEnvironmentRegistry(nil), nil)
	require.NoError(t, err)

	defs := mgr.MCPToolDefinitions(context.Background(), "task-1")
	assert.Empty(t, defs)

	all := mgr.ToolDefinitions(context.Background(), "task-1")
	assert.Len(t, all, 2)
}
