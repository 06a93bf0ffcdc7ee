// Package llmadapter spawns the external LLM CLI as a short-lived
// subprocess per iteration and surfaces a stream of semantically typed
// events (spec §4.2). It never parses stdout for streaming events — only
// the session-log JSONL file is tailed; stdout/stderr are drained in the
// background purely to prevent a pipe-buffer deadlock.
package llmadapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ralphx/ralphx/internal/domain"
)

// ExecuteRequest is the adapter's execute/stream input (spec §4.2 contract).
type ExecuteRequest struct {
	Prompt     string
	Model      string
	Tools      *[]string // nil = all defaults; empty = deny all; non-empty = allow-list
	Timeout    time.Duration
	JSONSchema json.RawMessage // optional; non-nil requests --json-schema
	AccountID  string          // explicit override of the project-default account
	ProjectDir string          // subprocess working directory
	SettingsPath string        // optional --settings path
}

// ToolCall is one tool invocation observed during a session.
type ToolCall struct {
	Name   string
	Input  json.RawMessage
	Result string
}

// ExecutionResult is the adapter's synchronous aggregate view of a
// complete subprocess invocation (spec §4.2 contract).
type ExecutionResult struct {
	SessionID        string
	Success          bool
	TextOutput       string
	ToolCalls        []ToolCall
	StructuredOutput json.RawMessage
	ExitCode         int
	ErrorMessage     string
	ErrorCode        string
	IsRateLimited    bool
	Timeout          bool
	CostUSD          float64
	NumTurns         int
}

// StreamEvent is one semantically typed event translated from the session
// log's JSONL (or synthesized by the adapter itself for init/error/complete).
type StreamEvent struct {
	Kind         domain.StreamEventKind
	SessionID    string
	Text         string
	ToolName     string
	ToolInput    json.RawMessage
	ToolResult   string
	Usage        map[string]any
	ErrorMessage string
	ErrorCode    string
	ExitCode     int
	CostUSD      float64
	NumTurns     int
}

// CredentialResolver is the seam the Credential Store fills: resolve an
// account (explicit override or project default) to a usable OAuth token,
// refreshing it first if it is within the expiry buffer.
type CredentialResolver interface {
	ResolveToken(ctx context.Context, accountID string) (token string, err error)
}
