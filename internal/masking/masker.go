// Package masking scrubs secrets out of sandbox tool output (command
// stdout/stderr, text-editor view results) before it is appended to
// messages.jsonl/current.jsonl, so a durable, replayable context log never
// carries leaked .env contents, API tokens, or cloud credentials a command
// like `cat`/`env` might surface inside the sandbox.
package masking

// Masker is a code-based masker for content needing structural awareness
// beyond regex pattern matching (e.g. only mask values in a dotenv-style
// KEY=VALUE stream, not every line).
type Masker interface {
	// Name is the unique identifier for this masker.
	Name() string

	// AppliesTo is a fast, non-parsing check for whether Mask should run.
	AppliesTo(data string) bool

	// Mask applies masking logic. Must be defensive: return the original
	// data on parse/processing errors.
	Mask(data string) string
}
