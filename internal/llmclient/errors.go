package llmclient

import "strings"

// isRetryableMessage classifies a provider error by message content,
// following the teacher's own string-matching style for non-streaming
// request/response errors (rate limits, transient server errors, and
// network-level failures are retryable; auth/validation errors are not).
func isRetryableMessage(errMsg string) bool {
	retryableSubstrings := []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host", "eof",
	}
	lower := strings.ToLower(errMsg)
	for _, s := range retryableSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
