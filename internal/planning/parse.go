package planning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// maxParseRetries bounds the re-ask loop on malformed LLM output (spec.md
// §4.6: "on parse failure, retry up to 5 times ... on 5 consecutive
// failures, fail the task").
const maxParseRetries = 5

// codeFencePattern strips a ```json ... ``` or ``` ... ``` wrapper, the
// single most common way a chat model fails to return bare JSON.
var codeFencePattern = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

// ErrParseExhausted is returned when maxParseRetries consecutive attempts
// all fail to parse, signaling the caller to fail the task per spec.md §7
// error taxonomy level 2.
var ErrParseExhausted = fmt.Errorf("planning: LLM response did not parse as valid JSON after %d attempts", maxParseRetries)

// extractJSON applies the same "try progressively looser strategies before
// giving up" philosophy the teacher's ReAct text parser uses (exact
// prefix match, then mid-text recovery) but for JSON: strip a code fence
// if present, then fall back to the first top-level {...} span found
// anywhere in the text (models sometimes prose-wrap their JSON despite
// instructions not to).
func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if m := codeFencePattern.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(trimmed, "{") {
		return trimmed
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end < start {
		return trimmed
	}
	return trimmed[start : end+1]
}

// AskFn issues one LLM round-trip given the current prompt tail, returning
// the raw response text. The coordinator supplies this as a closure bound
// to a specific contextstore.Store and llmclient.Client so this package
// doesn't need to import either.
type AskFn func(promptTail string) (string, error)

// ParseWithRetry repeatedly calls ask, decoding each response into a fresh
// *T via extractJSON + json.Unmarshal, until one succeeds or
// maxParseRetries is exhausted. On each failure it rewrites promptTail to
// include a format-correction reminder naming the concrete decode error,
// mirroring the teacher's GetFormatErrorFeedback/ExtractForcedConclusion
// self-correction loop but for JSON schema violations instead of ReAct
// section errors.
func ParseWithRetry[T any](promptTail string, ask AskFn) (*T, string, error) {
	var lastErr error
	tail := promptTail

	for attempt := 0; attempt < maxParseRetries; attempt++ {
		raw, err := ask(tail)
		if err != nil {
			return nil, "", fmt.Errorf("planning: LLM call failed: %w", err)
		}

		candidate := extractJSON(raw)
		var v T
		if decErr := json.Unmarshal([]byte(candidate), &v); decErr == nil {
			return &v, raw, nil
		} else {
			lastErr = decErr
			tail = promptTail + "\n\n" + formatCorrectionFeedback(decErr, raw)
		}
	}

	if lastErr != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrParseExhausted, lastErr)
	}
	return nil, "", ErrParseExhausted
}

// formatCorrectionFeedback builds the observation appended to the prompt
// tail after a decode failure, naming the concrete JSON error so the model
// can self-correct on the next attempt rather than repeating the same
// mistake blind.
func formatCorrectionFeedback(decodeErr error, rawResponse string) string {
	return fmt.Sprintf(
		"FORMAT ERROR: your previous response could not be parsed as the required JSON object (%s). "+
			"Respond with ONLY a single JSON object matching the requested schema — no prose, no markdown code fence.\n\n"+
			"Your previous response was:\n%s", decodeErr, truncateForFeedback(rawResponse))
}

// truncateForFeedback keeps the echoed-back bad response from dominating
// the next prompt tail on a wildly oversized malformed reply.
func truncateForFeedback(s string) string {
	const limit = 2000
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "... (truncated)"
}
