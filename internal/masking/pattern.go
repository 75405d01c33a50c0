package masking

import "regexp"

// CompiledPattern holds a pre-compiled regex pattern with its replacement,
// matching the teacher's pkg/masking shape.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns are the regex sweep applied to all sandbox tool output.
// Unlike the teacher's alert-payload masking, there is no per-server
// config or pattern-group selection here: the sandbox surface is uniform
// (one shared container filesystem per task), so the same fixed set
// always applies.
var builtinPatterns = []CompiledPattern{
	{
		Name:        "aws_access_key_id",
		Regex:       regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		Replacement: "[MASKED_AWS_ACCESS_KEY]",
	},
	{
		Name:        "aws_secret_key",
		Regex:       regexp.MustCompile(`(?i)(aws_secret_access_key\s*[=:]\s*)([A-Za-z0-9/+=]{40})`),
		Replacement: "${1}[MASKED_AWS_SECRET_KEY]",
	},
	{
		Name:        "bearer_token",
		Regex:       regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9\-_.]{16,})`),
		Replacement: "${1}[MASKED_TOKEN]",
	},
	{
		Name:        "generic_api_key_assignment",
		Regex:       regexp.MustCompile(`(?i)((?:api|secret|access)[_-]?(?:key|token)\s*[=:]\s*)['"]?([A-Za-z0-9\-_./+]{12,})['"]?`),
		Replacement: "${1}[MASKED_SECRET]",
	},
	{
		Name:        "private_key_block",
		Regex:       regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),
		Replacement: "[MASKED_PRIVATE_KEY]",
	},
	{
		Name:        "github_token",
		Regex:       regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
		Replacement: "[MASKED_GITHUB_TOKEN]",
	},
}

func compileBuiltins() []*CompiledPattern {
	out := make([]*CompiledPattern, len(builtinPatterns))
	for i := range builtinPatterns {
		p := builtinPatterns[i]
		out[i] = &p
	}
	return out
}
