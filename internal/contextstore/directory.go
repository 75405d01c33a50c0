package contextstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// ReadFinalSummary reads final_summary.txt for uuid without opening the
// full Store (no append handles, no seq recovery scan) — used by the
// inheritance resolver, which only ever reads a prior, terminal task's
// summary.
func ReadFinalSummary(baseDir, uuid string) (string, error) {
	statusDir, err := Locate(baseDir, uuid)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(Path(baseDir, statusDir, uuid), finalSummaryFile))
	if err != nil {
		return "", fmt.Errorf("contextstore: read final_summary.txt for %s: %w", uuid, err)
	}
	return string(data), nil
}

const (
	metadataFile = "metadata.json"
	messagesFile = "messages.jsonl"
	currentFile  = "current.jsonl"
	summariesFile = "summaries.jsonl"
	toolsFile    = "tools.jsonl"
	finalSummaryFile = "final_summary.txt"
	planningDir  = "planning"
)

// Path returns the context directory for a task under the given status root.
func Path(baseDir string, dir StatusDir, uuid string) string {
	return filepath.Join(baseDir, string(dir), uuid)
}

// Exists reports whether a context directory for uuid exists under dir.
func Exists(baseDir string, dir StatusDir, uuid string) bool {
	info, err := os.Stat(Path(baseDir, dir, uuid))
	return err == nil && info.IsDir()
}

// Locate finds which of the three status roots currently holds uuid's
// context directory. Returns an error if none does, or more than one does.
func Locate(baseDir, uuid string) (StatusDir, error) {
	var found []StatusDir
	for _, d := range []StatusDir{DirRunning, DirPaused, DirCompleted} {
		if Exists(baseDir, d, uuid) {
			found = append(found, d)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("contextstore: no context directory found for %s", uuid)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("contextstore: %s present under multiple roots: %v", uuid, found)
	}
}

// ListUUIDs returns the task uuids currently present under dir's root
// (e.g. every paused task, for the producer's startup resumption sweep).
// Missing roots are treated as empty rather than an error, since a fresh
// deployment may never have populated e.g. the paused root.
func ListUUIDs(baseDir string, dir StatusDir) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(baseDir, string(dir)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("contextstore: list %s root: %w", dir, err)
	}

	var uuids []string
	for _, e := range entries {
		if e.IsDir() {
			uuids = append(uuids, e.Name())
		}
	}
	return uuids, nil
}

// Transition atomically moves a task's context directory from one status
// root to another via os.Rename, which is atomic when both roots share a
// filesystem. The caller is responsible for ensuring baseDir is a single
// mount (spec requirement: "same filesystem").
func Transition(baseDir string, uuid string, from, to StatusDir) error {
	src := Path(baseDir, from, uuid)
	dst := Path(baseDir, to, uuid)

	if err := os.MkdirAll(filepath.Join(baseDir, string(to)), 0o755); err != nil {
		return fmt.Errorf("contextstore: create %s root: %w", to, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("contextstore: transition %s from %s to %s: %w", uuid, from, to, err)
	}
	return nil
}
