package llmadapter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ralphx/ralphx/internal/domain"
)

func TestMeaningfulActivityTimeout_Clamp(t *testing.T) {
	cases := []struct {
		timeout time.Duration
		want    time.Duration
	}{
		{30 * time.Second, 60 * time.Second},   // 30-30=0, clamped up to 60
		{60 * time.Second, 60 * time.Second},   // 60-30=30, clamped up to 60
		{120 * time.Second, 90 * time.Second},  // 120-30=90, in range
		{600 * time.Second, 270 * time.Second}, // 600-30=570, clamped down to 270
	}
	for _, c := range cases {
		if got := meaningfulActivityTimeout(c.timeout); got != c.want {
			t.Errorf("meaningfulActivityTimeout(%s) = %s, want %s", c.timeout, got, c.want)
		}
	}
}

func TestTranslateLine_AssistantTextAndToolUse(t *testing.T) {
	line := []byte(`{"type":"assistant","message":{"content":[
		{"type":"text","text":"hello"},
		{"type":"tool_use","name":"Read","input":{"path":"x.go"}}
	]}}`)

	events := translateLine(line)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != domain.EventText || events[0].Text != "hello" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].Kind != domain.EventToolUse || events[1].ToolName != "Read" {
		t.Errorf("unexpected second event: %+v", events[1])
	}
}

func TestTranslateLine_ResultIsError(t *testing.T) {
	line := []byte(`{"type":"result","is_error":true,"result":"overloaded_error"}`)
	events := translateLine(line)
	if len(events) != 1 || events[0].Kind != domain.EventError {
		t.Fatalf("expected a single error event, got %+v", events)
	}
	if events[0].ErrorMessage != "overloaded_error" {
		t.Errorf("unexpected error message: %q", events[0].ErrorMessage)
	}
}

func TestTranslateLine_UnknownTypeIgnored(t *testing.T) {
	if events := translateLine([]byte(`{"type":"summary"}`)); events != nil {
		t.Errorf("expected nil for unrecognized record type, got %+v", events)
	}
}

func TestCollectResult_AggregatesTextAndToolCalls(t *testing.T) {
	events := make(chan StreamEvent, 8)
	events <- StreamEvent{Kind: domain.EventText, Text: "part one "}
	events <- StreamEvent{Kind: domain.EventToolUse, ToolName: "Bash", ToolInput: json.RawMessage(`{}`)}
	events <- StreamEvent{Kind: domain.EventToolResult, ToolResult: "ok"}
	events <- StreamEvent{Kind: domain.EventText, Text: "part two"}
	events <- StreamEvent{Kind: domain.EventComplete, SessionID: "sess-1", CostUSD: 0.05, NumTurns: 3}
	close(events)

	res := CollectResult(events)
	if !res.Success {
		t.Fatal("expected success")
	}
	if res.TextOutput != "part one part two" {
		t.Errorf("unexpected aggregated text: %q", res.TextOutput)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Name != "Bash" || res.ToolCalls[0].Result != "ok" {
		t.Errorf("unexpected tool calls: %+v", res.ToolCalls)
	}
	if res.SessionID != "sess-1" || res.CostUSD != 0.05 || res.NumTurns != 3 {
		t.Errorf("unexpected summary fields: %+v", res)
	}
}

func TestCollectResult_ErrorEventMarksFailure(t *testing.T) {
	events := make(chan StreamEvent, 2)
	events <- StreamEvent{Kind: domain.EventError, ErrorCode: "RATE_LIMITED", ErrorMessage: "429"}
	close(events)

	res := CollectResult(events)
	if res.Success {
		t.Fatal("expected failure")
	}
	if !res.IsRateLimited {
		t.Error("expected IsRateLimited to be set")
	}
}
