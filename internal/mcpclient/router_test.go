package mcpclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitToolNameParsesDoubleUnderscoreForm(t *testing.T) {
	server, tool, err := SplitToolName("github__get_issue")
	require.NoError(t, err)
	assert.Equal(t, "github", server)
	assert.Equal(t, "get_issue", tool)
}

func TestSplitToolNameAcceptsDotForm(t *testing.T) {
	server, tool, err := SplitToolName("kubernetes-server.get_pods")
	require.NoError(t, err)
	assert.Equal(t, "kubernetes-server", server)
	assert.Equal(t, "get_pods", tool)
}

func TestSplitToolNameRejectsMalformedNames(t *testing.T) {
	_, _, err := SplitToolName("not-a-valid-name")
	assert.Error(t, err)
}

func TestJoinToolNameRoundTripsThroughSplit(t *testing.T) {
	name := JoinToolName("github", "get_issue")
	assert.Equal(t, "github__get_issue", name)

	server, tool, err := SplitToolName(name)
	require.NoError(t, err)
	assert.Equal(t, "github", server)
	assert.Equal(t, "get_issue", tool)
}

func TestNormalizeToolNameLeavesDoubleUnderscoreFormAlone(t *testing.T) {
	assert.Equal(t, "github__get_issue", NormalizeToolName("github__get_issue"))
}
