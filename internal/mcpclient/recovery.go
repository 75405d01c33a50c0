package mcpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Per-call and recovery timeouts. Mirrors the "MCP tool call" and
// "MCP stdio tool call" suspension points called out by spec.md §5.
const (
	// OperationTimeout bounds a single ListTools/CallTool round trip.
	OperationTimeout = 60 * time.Second

	// InitTimeout bounds connecting to and handshaking with a server.
	InitTimeout = 30 * time.Second

	// ReinitTimeout bounds tearing down and recreating a session during
	// recovery.
	ReinitTimeout = 10 * time.Second

	retryBackoffMin = 250 * time.Millisecond
	retryBackoffMax = 750 * time.Millisecond
)

// classifyCallError decides whether a CallTool/ListTools failure is worth
// retrying, and if so, whether the session must be recreated first. It
// feeds internal/retry.Classifier (retryable/not) plus an extra bit (session
// recreation) the generic retry helper has no concept of.
func classifyCallError(err error) (retryable, recreateSession bool) {
	if err == nil {
		return false, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return false, false
		}
		return true, true
	}

	if isConnectionError(err) {
		return true, true
	}

	if isMCPProtocolError(err) {
		return false, false
	}

	return false, false
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, e := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	} {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}

// isMCPProtocolError reports whether err is a JSON-RPC wire error the
// server returned for a malformed request — never worth retrying since
// the request itself is the problem.
func isMCPProtocolError(err error) bool {
	var wireErr *jsonrpc.Error
	if !errors.As(err, &wireErr) {
		return false
	}
	switch wireErr.Code {
	case jsonrpc.CodeParseError,
		jsonrpc.CodeInvalidRequest,
		jsonrpc.CodeMethodNotFound,
		jsonrpc.CodeInvalidParams:
		return true
	default:
		return false
	}
}
