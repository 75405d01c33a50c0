package contextstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// maxLineSize bounds bufio.Scanner's token buffer; a single message or tool
// result can legitimately run past the default 64KiB scan limit.
const maxLineSize = 8 * 1024 * 1024

// Store owns a single task's context directory for the lifetime of one
// process's ownership of it. Per spec.md's single-writer discipline, at
// most one Store for a given uuid is open at a time across the whole
// system; callers enforce that via the broker's one-delivery-per-uuid
// guarantee.
type Store struct {
	mu sync.Mutex

	dir  string
	uuid string

	nextMsgSeq    int64
	nextToolSeq   int64
	nextSummaryID int64

	messagesF  *os.File
	currentF   *os.File
	toolsF     *os.File
	summariesF *os.File
}

// Create materializes a brand-new context directory under running/ and
// writes metadata.json. Returns an open Store ready to accept appends.
func Create(baseDir string, meta Metadata) (*Store, error) {
	dir := Path(baseDir, DirRunning, meta.UUID)
	if err := os.MkdirAll(filepath.Join(dir, planningDir), 0o755); err != nil {
		return nil, fmt.Errorf("contextstore: create directory for %s: %w", meta.UUID, err)
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("contextstore: marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), metaBytes, 0o644); err != nil {
		return nil, fmt.Errorf("contextstore: write metadata.json: %w", err)
	}

	return open(dir, meta.UUID)
}

// Open resumes ownership of an existing context directory, locating it
// under whichever status root currently holds it. Callers that intend to
// keep writing (e.g. on resume from paused/) must Transition it to
// running/ first; Open itself never moves the directory.
func Open(baseDir, uuid string) (*Store, error) {
	statusDir, err := Locate(baseDir, uuid)
	if err != nil {
		return nil, err
	}
	return open(Path(baseDir, statusDir, uuid), uuid)
}

func open(dir, uuid string) (*Store, error) {
	s := &Store{dir: dir, uuid: uuid}

	var err error
	s.messagesF, err = os.OpenFile(filepath.Join(dir, messagesFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("contextstore: open messages.jsonl: %w", err)
	}
	s.currentF, err = os.OpenFile(filepath.Join(dir, currentFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.messagesF.Close()
		return nil, fmt.Errorf("contextstore: open current.jsonl: %w", err)
	}
	s.toolsF, err = os.OpenFile(filepath.Join(dir, toolsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.messagesF.Close()
		s.currentF.Close()
		return nil, fmt.Errorf("contextstore: open tools.jsonl: %w", err)
	}
	s.summariesF, err = os.OpenFile(filepath.Join(dir, summariesFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.messagesF.Close()
		s.currentF.Close()
		s.toolsF.Close()
		return nil, fmt.Errorf("contextstore: open summaries.jsonl: %w", err)
	}

	if s.nextMsgSeq, err = highestSeq(filepath.Join(dir, messagesFile)); err != nil {
		return nil, err
	}
	if s.nextToolSeq, err = highestToolSeq(filepath.Join(dir, toolsFile)); err != nil {
		return nil, err
	}
	if s.nextSummaryID, err = highestSummaryID(filepath.Join(dir, summariesFile)); err != nil {
		return nil, err
	}

	return s, nil
}

// Dir returns the context directory's current path on disk.
func (s *Store) Dir() string { return s.dir }

// UUID returns the task identifier this store serves.
func (s *Store) UUID() string { return s.uuid }

func (s *Store) MessagesPath() string  { return filepath.Join(s.dir, messagesFile) }
func (s *Store) CurrentPath() string   { return filepath.Join(s.dir, currentFile) }
func (s *Store) SummariesPath() string { return filepath.Join(s.dir, summariesFile) }
func (s *Store) ToolsPath() string     { return filepath.Join(s.dir, toolsFile) }
func (s *Store) PlanningPath() string  { return filepath.Join(s.dir, planningDir, s.uuid+".jsonl") }
func (s *Store) FinalSummaryPath() string { return filepath.Join(s.dir, finalSummaryFile) }

// Close releases the open file handles. It does not flush any pending OS
// buffers beyond what each Append* call already synced.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, f := range []*os.File{s.messagesF, s.currentF, s.toolsF, s.summariesF} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AppendMessage performs the two-write append described in spec.md §4.3:
// one record to messages.jsonl carrying seq/timestamp/token-estimate, and
// one projection to current.jsonl in platform-neutral chat form. Both
// writes are flushed (fsync'd) before return.
func (s *Store) AppendMessage(role ChatRole, content, toolName string) (*MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextMsgSeq++
	rec := MessageRecord{
		Seq:       s.nextMsgSeq,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Tokens:    EstimateTokens(content),
		ToolName:  toolName,
	}

	if err := appendJSONLine(s.messagesF, rec); err != nil {
		return nil, fmt.Errorf("contextstore: append messages.jsonl: %w", err)
	}

	chat := ChatMessage{Role: role, Content: content, ToolName: toolName, Seq: rec.Seq}
	if err := appendJSONLine(s.currentF, chat); err != nil {
		return nil, fmt.Errorf("contextstore: append current.jsonl: %w", err)
	}

	return &rec, nil
}

// AppendTool records a completed tool invocation to tools.jsonl. It is
// independent of AppendMessage: callers append the tool's textual result
// to current.jsonl/messages.jsonl separately (as a RoleTool message) when
// the result is to be fed back to the LLM.
func (s *Store) AppendTool(tool string, args any, result string, status ToolStatus, errMsg string, duration time.Duration) (*ToolRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextToolSeq++
	rec := ToolRecord{
		Seq:        s.nextToolSeq,
		Tool:       tool,
		Args:       args,
		Result:     result,
		Status:     status,
		Error:      errMsg,
		DurationMS: duration.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}

	if err := appendJSONLine(s.toolsF, rec); err != nil {
		return nil, fmt.Errorf("contextstore: append tools.jsonl: %w", err)
	}
	return &rec, nil
}

// AppendSummary records a compression event to summaries.jsonl.
func (s *Store) AppendSummary(startSeq, endSeq int64, summary string, originalTokens, summaryTokens int) (*SummaryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ratio float64
	if originalTokens > 0 {
		ratio = float64(summaryTokens) / float64(originalTokens)
	}

	s.nextSummaryID++
	rec := SummaryRecord{
		ID:             s.nextSummaryID,
		StartSeq:       startSeq,
		EndSeq:         endSeq,
		Summary:        summary,
		OriginalTokens: originalTokens,
		SummaryTokens:  summaryTokens,
		Ratio:          ratio,
		Timestamp:      time.Now().UTC(),
	}

	if err := appendJSONLine(s.summariesF, rec); err != nil {
		return nil, fmt.Errorf("contextstore: append summaries.jsonl: %w", err)
	}
	return &rec, nil
}

// AppendPlanning records a planning-phase event to planning/{uuid}.jsonl.
func (s *Store) AppendPlanning(eventType PlanningEventType, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.PlanningPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("contextstore: open planning log: %w", err)
	}
	defer f.Close()

	rec := PlanningRecord{Type: eventType, Timestamp: time.Now().UTC(), Payload: payload}
	return appendJSONLine(f, rec)
}

// WriteFinalSummary writes final_summary.txt on task completion, overwriting
// any prior content (a best-effort write on failure may retry).
func (s *Store) WriteFinalSummary(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(s.FinalSummaryPath(), []byte(text), 0o644)
}

// ReadMetadata reads back metadata.json.
func (s *Store) ReadMetadata() (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("contextstore: read metadata.json: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("contextstore: unmarshal metadata.json: %w", err)
	}
	return &m, nil
}

// StreamCurrent opens current.jsonl for sequential reading. Per spec.md
// §4.3, LLM request construction must stream this file rather than load
// all messages into memory; the caller is responsible for closing the
// returned ReadCloser.
func (s *Store) StreamCurrent() (io.ReadCloser, error) {
	return os.Open(s.CurrentPath())
}

// StreamMessages opens messages.jsonl for sequential reading, used by the
// compressor's final-summary pass over the full audit log.
func (s *Store) StreamMessages() (io.ReadCloser, error) {
	return os.Open(s.MessagesPath())
}

// EstimateCurrentTokens sums the token estimate of every line in
// current.jsonl, streaming the file rather than holding it all in memory.
// Used by the compressor's should_compress check.
func (s *Store) EstimateCurrentTokens() (int, error) {
	f, err := s.StreamCurrent()
	if err != nil {
		return 0, fmt.Errorf("contextstore: open current.jsonl: %w", err)
	}
	defer f.Close()

	total := 0
	err = ScanJSONL[ChatMessage](f, func(m ChatMessage) error {
		total += EstimateTokens(m.Content)
		return nil
	})
	return total, err
}

// CountCurrentLines returns the number of lines in current.jsonl without
// holding them all in memory at once.
func (s *Store) CountCurrentLines() (int, error) {
	f, err := s.StreamCurrent()
	if err != nil {
		return 0, fmt.Errorf("contextstore: open current.jsonl: %w", err)
	}
	defer f.Close()

	n := 0
	err = ScanJSONL[ChatMessage](f, func(ChatMessage) error {
		n++
		return nil
	})
	return n, err
}

// ScanJSONL runs fn over every line of r, decoding each into a fresh value
// produced by newT. Stops and returns the first error from fn or from JSON
// decoding.
func ScanJSONL[T any](r io.Reader, fn func(T) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return fmt.Errorf("contextstore: decode jsonl line: %w", err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func appendJSONLine(f *os.File, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return f.Sync()
}

func highestSeq(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("contextstore: open %s: %w", path, err)
	}
	defer f.Close()

	var max int64
	err = ScanJSONL[MessageRecord](f, func(rec MessageRecord) error {
		if rec.Seq > max {
			max = rec.Seq
		}
		return nil
	})
	return max, err
}

func highestToolSeq(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("contextstore: open %s: %w", path, err)
	}
	defer f.Close()

	var max int64
	err = ScanJSONL[ToolRecord](f, func(rec ToolRecord) error {
		if rec.Seq > max {
			max = rec.Seq
		}
		return nil
	})
	return max, err
}

func highestSummaryID(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("contextstore: open %s: %w", path, err)
	}
	defer f.Close()

	var max int64
	err = ScanJSONL[SummaryRecord](f, func(rec SummaryRecord) error {
		if rec.ID > max {
			max = rec.ID
		}
		return nil
	})
	return max, err
}
