package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/docker/docker/api/types/container"
)

// textEditorDaemonCmd is the in-container binary the sandbox image is
// expected to ship (spec.md §1 Non-goals: the tool's own body is an
// external collaborator, specified only by this wire contract).
const textEditorDaemonCmd = "/usr/local/bin/text-editor-daemon"

// TextEditorRequest is one call_text_editor_tool invocation, framed as a
// single newline-terminated JSON object over the daemon's stdin.
type TextEditorRequest struct {
	Command    string `json:"command"`
	Path       string `json:"path"`
	ViewRange  []int  `json:"view_range,omitempty"`
	FileText   string `json:"file_text,omitempty"`
	OldStr     string `json:"old_str,omitempty"`
	NewStr     string `json:"new_str,omitempty"`
	InsertLine int    `json:"insert_line,omitempty"`
}

// TextEditorResponse is the daemon's newline-terminated JSON reply.
type TextEditorResponse struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// textEditorProxy holds the hijacked stdio pipe to one task's running
// text-editor daemon. Requests are serialized: the wire protocol carries
// no request ID, so only one call_text_editor_tool can be in flight at a
// time per task.
type textEditorProxy struct {
	mu     sync.Mutex
	conn   interface {
		Write(p []byte) (int, error)
		Close() error
	}
	scanner *bufio.Scanner
}

func (m *Manager) startTextEditor(ctx context.Context, record *ContainerRecord) error {
	execResp, err := m.docker.ContainerExecCreate(ctx, record.ContainerID, container.ExecOptions{
		Cmd:          []string{textEditorDaemonCmd},
		WorkingDir:   record.WorkspacePath,
		AttachStdin:  true,
		AttachStdout: true,
		Tty:          false,
	})
	if err != nil {
		return fmt.Errorf("create text-editor exec: %w", err)
	}

	attachResp, err := m.docker.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("attach text-editor exec: %w", err)
	}

	proxy := &textEditorProxy{
		conn:    attachResp.Conn,
		scanner: bufio.NewScanner(attachResp.Reader),
	}
	proxy.scanner.Buffer(make([]byte, 64*1024), 4<<20)

	m.editorsMu.Lock()
	m.editors[record.TaskUUID] = proxy
	m.editorsMu.Unlock()

	return nil
}

// CallTextEditorTool proxies one text-editor command to the task's
// running daemon over its stdio JSON-RPC-shaped channel.
func (m *Manager) CallTextEditorTool(ctx context.Context, taskUUID string, req TextEditorRequest) (*TextEditorResponse, error) {
	m.editorsMu.Lock()
	proxy, ok := m.editors[taskUUID]
	m.editorsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("sandbox: no text-editor daemon running for task %q", taskUUID)
	}
	return proxy.call(req)
}

func (p *textEditorProxy) call(req TextEditorRequest) (*TextEditorResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode text-editor request: %w", err)
	}
	payload = append(payload, '\n')
	if _, err := p.conn.Write(payload); err != nil {
		return nil, fmt.Errorf("write text-editor request: %w", err)
	}

	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read text-editor response: %w", err)
		}
		return nil, fmt.Errorf("text-editor daemon closed the connection")
	}

	var resp TextEditorResponse
	if err := json.Unmarshal(p.scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode text-editor response: %w", err)
	}
	if resp.Error != "" {
		return &resp, fmt.Errorf("text-editor tool error: %s", resp.Error)
	}
	return &resp, nil
}

func (p *textEditorProxy) Close() error {
	return p.conn.Close()
}
