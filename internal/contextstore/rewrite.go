package contextstore

import (
	"fmt"
	"os"
)

// ReplaceCurrent atomically rewrites current.jsonl with the given messages,
// used by the compressor to collapse a summarized prefix down to a single
// synthetic system message. Per spec.md §4.4, the write goes to a sibling
// temp file first and is renamed into place so current.jsonl is never
// observed in a partial state; the Store's open append handle is then
// reopened against the replaced file.
func (s *Store) ReplaceCurrent(messages []ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := s.CurrentPath() + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("contextstore: create current.jsonl.tmp: %w", err)
	}

	for _, m := range messages {
		if err := appendJSONLine(tmp, m); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("contextstore: write current.jsonl.tmp: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("contextstore: close current.jsonl.tmp: %w", err)
	}

	if err := s.currentF.Close(); err != nil {
		return fmt.Errorf("contextstore: close current.jsonl handle: %w", err)
	}
	if err := os.Rename(tmpPath, s.CurrentPath()); err != nil {
		return fmt.Errorf("contextstore: rename current.jsonl.tmp into place: %w", err)
	}

	f, err := os.OpenFile(s.CurrentPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("contextstore: reopen current.jsonl: %w", err)
	}
	s.currentF = f
	return nil
}
