package mcpclient

import (
	"fmt"
	"regexp"
	"strings"
)

// toolNameRegex validates the "server__tool" format this package exposes to
// function-calling providers. Provider tool names are restricted to
// word characters and hyphens (no dots), so server/tool are joined with a
// double underscore rather than the dot MCP's own CLI conventions use.
var toolNameRegex = regexp.MustCompile(`^([\w-]+)__([\w-]+)$`)

// NormalizeToolName accepts either "server.tool" (MCP CLI convention) or
// "server__tool" (this package's function-calling name) and returns the
// canonical "server__tool" form.
func NormalizeToolName(name string) string {
	if strings.Contains(name, ".") && !strings.Contains(name, "__") {
		return strings.Replace(name, ".", "__", 1)
	}
	return name
}

// SplitToolName splits a "server__tool" function-calling name into its
// serverID and toolName parts.
func SplitToolName(name string) (serverID, toolName string, err error) {
	matches := toolNameRegex.FindStringSubmatch(NormalizeToolName(name))
	if matches == nil {
		return "", "", fmt.Errorf("mcpclient: invalid tool name %q: must be in \"server__tool\" format", name)
	}
	return matches[1], matches[2], nil
}

// JoinToolName builds the function-calling name for one server's tool.
func JoinToolName(serverID, toolName string) string {
	return serverID + "__" + toolName
}
