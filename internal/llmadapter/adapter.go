package llmadapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ralphx/ralphx/internal/config"
	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/pkg/apperrors"
)

const (
	drainCap             = 4 * 1024 * 1024 // 4 MiB, spec §4.2 step 4
	sessionDiscoveryStep = 200 * time.Millisecond
	tailPollInterval     = 100 * time.Millisecond
)

// Adapter spawns the LLM CLI per iteration and tails its session log,
// translating JSONL records into StreamEvents (spec §4.2).
type Adapter struct {
	cfg         config.AdapterConfig
	credentials CredentialResolver
	logger      *zap.Logger
}

func New(cfg config.AdapterConfig, credentials CredentialResolver, logger *zap.Logger) *Adapter {
	return &Adapter{cfg: cfg, credentials: credentials, logger: logger}
}

// Stream executes one subprocess invocation and returns a channel of
// StreamEvents. The channel is closed once the subprocess has exited and
// the final session-log tail has drained; the last event sent is always
// either EventComplete or EventError. The caller that wants the aggregate
// ExecutionResult should drain the channel through CollectResult (or fold
// it itself — e.g. to forward individual events onto the event bus as they
// arrive while still building the aggregate).
func (a *Adapter) Stream(ctx context.Context, req ExecuteRequest) (<-chan StreamEvent, error) {
	accountID := req.AccountID
	token, err := a.credentials.ResolveToken(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = a.cfg.DefaultTimeout
	}

	sessionDir, err := sessionLogDir(req.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve session log dir: %w", err)
	}
	preExisting, err := listSessionFiles(sessionDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("snapshot session dir: %w", err)
	}

	args := buildArgs(req)
	env := buildEnv(token)
	proc, err := spawn(a.cfg.Binary, args, env, req.ProjectDir, req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("spawn subprocess: %w", err)
	}

	events := make(chan StreamEvent, 64)
	go a.run(ctx, proc, req, timeout, sessionDir, preExisting, events)
	return events, nil
}

// run owns the full execution protocol for one subprocess invocation and
// always closes events exactly once before returning.
func (a *Adapter) run(ctx context.Context, proc *spawnedProcess, req ExecuteRequest, timeout time.Duration, sessionDir string, preExisting map[string]struct{}, events chan<- StreamEvent) {
	defer close(events)

	var stdout, stderr []byte
	stdoutDone := make(chan struct{})
	stderrDone := make(chan struct{})
	go drainPipe(proc.stdout, drainCap, &stdout, stdoutDone)
	go drainPipe(proc.stderr, drainCap, &stderr, stderrDone)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sessionID, discoverErr := a.discoverSession(runCtx, sessionDir, preExisting)

	activityTimeout := meaningfulActivityTimeout(timeout)
	waitErr := a.tailAndWait(runCtx, proc, sessionID, sessionDir, activityTimeout, events)

	terminate(proc, a.cfg.TerminationGrace)
	<-stdoutDone
	<-stderrDone

	final, parseErr := parseFinalStdout(bytes.TrimSpace(stdout))

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		events <- StreamEvent{Kind: domain.EventError, SessionID: sessionID, ErrorCode: string(apperrors.CodeTimeout), ErrorMessage: "iteration exceeded its timeout"}
	case discoverErr != nil:
		events <- StreamEvent{Kind: domain.EventError, SessionID: sessionID, ErrorCode: string(apperrors.CodeNoSessionFile), ErrorMessage: discoverErr.Error()}
	case apperrors.Is(waitErr, apperrors.CodeTimeout):
		events <- StreamEvent{Kind: domain.EventError, SessionID: sessionID, ErrorCode: string(apperrors.CodeTimeout), ErrorMessage: waitErr.Error()}
	case parseErr != nil && final == nil:
		text := string(stderr)
		code := string(apperrors.CodeInternal)
		if isRateLimited(text) || isRateLimited(string(stdout)) {
			code = string(apperrors.CodeRateLimited)
		}
		events <- StreamEvent{Kind: domain.EventError, SessionID: sessionID, ErrorCode: code, ErrorMessage: firstNonEmpty(text, "subprocess produced no parseable result")}
	case final != nil && final.IsError:
		code := string(apperrors.CodeInternal)
		if isRateLimited(final.Result) || isRateLimited(string(stderr)) {
			code = string(apperrors.CodeRateLimited)
		}
		events <- StreamEvent{Kind: domain.EventError, SessionID: sessionID, ErrorCode: code, ErrorMessage: final.Result, CostUSD: final.CostUSD, NumTurns: final.NumTurns}
	default:
		ev := StreamEvent{Kind: domain.EventComplete, SessionID: sessionID}
		if final != nil {
			ev.CostUSD = final.CostUSD
			ev.NumTurns = final.NumTurns
			ev.Text = final.Result
		}
		events <- ev
	}
}

// discoverSession polls sessionDir for a new *.jsonl file that was not
// present before spawn, picking the newest by mtime once one appears
// (spec §4.2 step "session discovery", ≤15s / ~200ms poll).
func (a *Adapter) discoverSession(ctx context.Context, sessionDir string, preExisting map[string]struct{}) (string, error) {
	limit := a.cfg.SessionDiscoveryLimit
	if limit <= 0 {
		limit = 15 * time.Second
	}
	deadline := time.Now().Add(limit)
	ticker := time.NewTicker(sessionDiscoveryStep)
	defer ticker.Stop()

	for {
		entries, err := os.ReadDir(sessionDir)
		if err == nil {
			candidate := newestUnseenJSONL(sessionDir, entries, preExisting)
			if candidate != "" {
				return strings.TrimSuffix(filepath.Base(candidate), ".jsonl"), nil
			}
		}
		if time.Now().After(deadline) {
			return "", apperrors.NewNoSessionFileError("no session log file appeared within the discovery window")
		}
		select {
		case <-ctx.Done():
			return "", apperrors.NewNoSessionFileError("context canceled before a session log file appeared")
		case <-ticker.C:
		}
	}
}

func newestUnseenJSONL(dir string, entries []os.DirEntry, preExisting map[string]struct{}) string {
	var newest string
	var newestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		if _, seen := preExisting[e.Name()]; seen {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = filepath.Join(dir, e.Name())
			newestMod = info.ModTime()
		}
	}
	return newest
}

// tailAndWait polls the session log file by byte offset, translating each
// newly appended JSONL record into StreamEvents, until the subprocess exits
// or activityTimeout elapses with no new bytes (spec §4.2 step "JSONL
// tail").
func (a *Adapter) tailAndWait(ctx context.Context, proc *spawnedProcess, sessionID, sessionDir string, activityTimeout time.Duration, events chan<- StreamEvent) error {
	if sessionID != "" {
		events <- StreamEvent{Kind: domain.EventInit, SessionID: sessionID}
	}

	path := filepath.Join(sessionDir, sessionID+".jsonl")
	var offset int64
	lastActivity := time.Now()

	exited := make(chan error, 1)
	go func() { exited <- proc.cmd.Wait() }()

	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	for {
		n, tailErr := a.tailOnce(path, &offset, events)
		if n > 0 {
			lastActivity = time.Now()
		}
		if tailErr != nil && a.logger != nil {
			a.logger.Debug("session tail read error", zap.Error(tailErr))
		}

		select {
		case err := <-exited:
			a.tailOnce(path, &offset, events)
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Since(lastActivity) > activityTimeout {
				return apperrors.NewTimeoutError(fmt.Sprintf("no session activity for %s", activityTimeout))
			}
		}
	}
}

// tailOnce reads any bytes appended to path since *offset, translating
// complete lines into StreamEvents. It tolerates the file not existing yet.
func (a *Adapter) tailOnce(path string, offset *int64, events chan<- StreamEvent) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil
	}
	defer f.Close()

	if _, err := f.Seek(*offset, 0); err != nil {
		return 0, err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	// Only newline-terminated records are consumed; a partially written last
	// line stays unread until a later call.
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	})
	read := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		read += len(line) + 1
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		for _, ev := range translateLine(line) {
			events <- ev
		}
	}
	*offset += int64(read)
	return read, scanner.Err()
}

// meaningfulActivityTimeout clamps the per-iteration timeout into the
// activity-silence window used by the tail poll (spec §4.2: min(max(timeout
// - 30, 60), 270) seconds).
func meaningfulActivityTimeout(timeout time.Duration) time.Duration {
	secs := int(timeout.Seconds()) - 30
	if secs < 60 {
		secs = 60
	}
	if secs > 270 {
		secs = 270
	}
	return time.Duration(secs) * time.Second
}

func sessionLogDir(projectDir string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	slug := strings.ReplaceAll(projectDir, string(os.PathSeparator), "-")
	return filepath.Join(home, ".claude", "projects", slug), nil
}

func listSessionFiles(dir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return map[string]struct{}{}, err
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			seen[e.Name()] = struct{}{}
		}
	}
	return seen, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// jsonlRecord is the subset of the session log schema the adapter cares
// about; unknown fields and record types are ignored rather than rejected.
type jsonlRecord struct {
	Type    string `json:"type"`
	Message struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			Thinking string       `json:"thinking"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
			Content any            `json:"content"`
		} `json:"content"`
	} `json:"message"`
	Usage   map[string]any `json:"usage"`
	IsError bool           `json:"is_error"`
	Result  string         `json:"result"`
}

// translateLine maps one JSONL record onto zero or more StreamEvents per
// the session-log → StreamEvent translation table (spec §4.2).
func translateLine(line []byte) []StreamEvent {
	var rec jsonlRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil
	}

	switch rec.Type {
	case "assistant":
		var out []StreamEvent
		for _, block := range rec.Message.Content {
			switch block.Type {
			case "text":
				out = append(out, StreamEvent{Kind: domain.EventText, Text: block.Text})
			case "thinking":
				out = append(out, StreamEvent{Kind: domain.EventThinking, Text: block.Thinking})
			case "tool_use":
				out = append(out, StreamEvent{Kind: domain.EventToolUse, ToolName: block.Name, ToolInput: block.Input})
			}
		}
		return out
	case "user":
		var out []StreamEvent
		for _, block := range rec.Message.Content {
			if block.Type == "tool_result" {
				out = append(out, StreamEvent{Kind: domain.EventToolResult, ToolResult: fmt.Sprint(block.Content)})
			}
		}
		return out
	case "result":
		ev := StreamEvent{Kind: domain.EventUsage, Usage: rec.Usage}
		if rec.IsError {
			ev.Kind = domain.EventError
			ev.ErrorMessage = rec.Result
		}
		return []StreamEvent{ev}
	default:
		return nil
	}
}

// CollectResult drains a Stream channel into a single aggregate
// ExecutionResult, for callers that don't need incremental events.
func CollectResult(events <-chan StreamEvent) *ExecutionResult {
	res := &ExecutionResult{Success: true}
	var text strings.Builder
	var toolCalls []ToolCall

	for ev := range events {
		res.SessionID = firstNonEmpty(res.SessionID, ev.SessionID)
		switch ev.Kind {
		case domain.EventText:
			text.WriteString(ev.Text)
		case domain.EventToolUse:
			toolCalls = append(toolCalls, ToolCall{Name: ev.ToolName, Input: ev.ToolInput})
		case domain.EventToolResult:
			if len(toolCalls) > 0 {
				toolCalls[len(toolCalls)-1].Result = ev.ToolResult
			}
		case domain.EventError:
			res.Success = false
			res.ErrorMessage = ev.ErrorMessage
			res.ErrorCode = ev.ErrorCode
			res.IsRateLimited = ev.ErrorCode == string(apperrors.CodeRateLimited)
			res.Timeout = ev.ErrorCode == string(apperrors.CodeTimeout)
		case domain.EventComplete:
			res.CostUSD = ev.CostUSD
			res.NumTurns = ev.NumTurns
			if ev.Text != "" {
				res.StructuredOutput = json.RawMessage(ev.Text)
			}
		}
	}

	res.TextOutput = text.String()
	res.ToolCalls = toolCalls
	return res
}
