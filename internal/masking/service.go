package masking

import "log/slog"

// Service applies data masking to sandbox tool output. Created once at
// startup (singleton); thread-safe and stateless aside from compiled
// patterns, matching the teacher's MaskingService lifecycle.
type Service struct {
	patterns []*CompiledPattern
	maskers  []Masker
}

// NewService builds a Service with the built-in regex patterns plus the
// dotenv code masker.
func NewService() *Service {
	return &Service{
		patterns: compileBuiltins(),
		maskers:  []Masker{&DotenvMasker{}},
	}
}

// Mask applies code-based maskers then regex patterns to content, in that
// order (structural awareness first, general sweep second), matching the
// teacher's applyMasking phase ordering. Sandbox output is untrusted by
// construction, so masking failure here is fail-closed: a panic inside a
// masker is recovered and the content is redacted wholesale rather than
// risk leaking it unmasked.
func (s *Service) Mask(content string) string {
	if content == "" {
		return content
	}

	masked, ok := s.apply(content)
	if !ok {
		slog.Error("masking failed, redacting content (fail-closed)")
		return "[REDACTED: data masking failure — tool result could not be safely processed]"
	}
	return masked
}

func (s *Service) apply(content string) (result string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			result, ok = "", false
		}
	}()

	masked := content
	for _, m := range s.maskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked, true
}
