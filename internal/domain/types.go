// Package domain holds the closed enumerations and shared record shapes
// that cross package boundaries (store, claim engine, executor, prompt
// builder, adapter). Mode selection strategies, injection positions,
// resource types, item statuses, event kinds, and error codes are sum
// types with exhaustive switch handling elsewhere, not magic strings.
package domain

import "time"

// LoopType distinguishes a producing loop from a consuming loop.
type LoopType string

const (
	LoopTypeGenerator LoopType = "generator"
	LoopTypeConsumer  LoopType = "consumer"
)

// ModeSelectionStrategy picks which mode an iteration runs under.
type ModeSelectionStrategy string

const (
	StrategyFixed          ModeSelectionStrategy = "fixed"
	StrategyRandom         ModeSelectionStrategy = "random"
	StrategyWeightedRandom ModeSelectionStrategy = "weighted_random"
	StrategyPhaseAware     ModeSelectionStrategy = "phase_aware"
)

// WorkItemStatus is the closed set of states in a work item's lifecycle.
type WorkItemStatus string

const (
	StatusPending   WorkItemStatus = "pending"
	StatusCompleted WorkItemStatus = "completed"
	StatusClaimed   WorkItemStatus = "claimed"
	StatusProcessed WorkItemStatus = "processed"
	StatusDuplicate WorkItemStatus = "duplicate"
	StatusSkipped   WorkItemStatus = "skipped"
	StatusExternal  WorkItemStatus = "external"
	StatusFailed    WorkItemStatus = "failed"
)

// TerminalStatuses satisfy a dependency's "ready to depend on" condition
// (spec §4.4/§8 invariant 4).
var TerminalStatuses = map[WorkItemStatus]bool{
	StatusProcessed: true,
	StatusFailed:    true,
	StatusSkipped:   true,
	StatusDuplicate: true,
}

// RunStatus is the closed set of states a Run can occupy.
type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
	RunAborted   RunStatus = "aborted"
)

// ResourceType classifies an injectable prompt fragment.
type ResourceType string

const (
	ResourceDesignDoc        ResourceType = "design_doc"
	ResourceArchitecture     ResourceType = "architecture"
	ResourceCodingStandards  ResourceType = "coding_standards"
	ResourceDomainKnowledge  ResourceType = "domain_knowledge"
	ResourceCustom           ResourceType = "custom"
)

var ValidResourceTypes = []ResourceType{
	ResourceDesignDoc, ResourceArchitecture, ResourceCodingStandards,
	ResourceDomainKnowledge, ResourceCustom,
}

// InjectionPosition is one of the four prompt anchor points.
type InjectionPosition string

const (
	PositionBeforePrompt    InjectionPosition = "before_prompt"
	PositionAfterDesignDoc  InjectionPosition = "after_design_doc"
	PositionBeforeTask      InjectionPosition = "before_task"
	PositionAfterTask       InjectionPosition = "after_task"
)

var ValidInjectionPositions = []InjectionPosition{
	PositionBeforePrompt, PositionAfterDesignDoc, PositionBeforeTask, PositionAfterTask,
}

// StreamEventKind is the closed set of event kinds the LLM Subprocess
// Adapter can yield from a session tail.
type StreamEventKind string

const (
	EventInit       StreamEventKind = "init"
	EventText       StreamEventKind = "text"
	EventThinking   StreamEventKind = "thinking"
	EventToolUse    StreamEventKind = "tool_use"
	EventToolResult StreamEventKind = "tool_result"
	EventUsage      StreamEventKind = "usage"
	EventError      StreamEventKind = "error"
	EventComplete   StreamEventKind = "complete"
)

// StructuredStatus is the closed set of completion statuses a consumer
// mode's structured_output can report (spec §4.4).
type StructuredStatus string

const (
	StructuredImplemented StructuredStatus = "implemented"
	StructuredDuplicate   StructuredStatus = "duplicate"
	StructuredSkipped     StructuredStatus = "skipped"
	StructuredExternal    StructuredStatus = "external"
	StructuredError       StructuredStatus = "error"
)

// WorkItem is a persisted unit of work, either produced by a generator loop
// or imported directly.
type WorkItem struct {
	ID           string
	Content      string
	Title        string
	Priority     int
	Status       WorkItemStatus
	Category     string
	Tags         []string
	Metadata     map[string]any
	Dependencies []string
	Phase        int
	SourceLoop   string // empty for direct input
	ItemType     string
	ClaimedBy    string
	ClaimedAt    *time.Time
	ProcessedAt  *time.Time
	DuplicateOf  string
	SkipReason   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Run is one activation of a loop, bounded by limits or a stop signal.
type Run struct {
	ID                 string
	LoopName           string
	Status             RunStatus
	StartedAt          time.Time
	CompletedAt        *time.Time
	IterationsComplete int
	ItemsGenerated     int
	ErrorMessage        string
	ExecutorPID         int
	LastActivityAt      *time.Time
	Phase1Complete      bool
	Phase1ModeIndex     int
}

// Resource is an injectable prompt fragment whose content lives on disk;
// the store holds metadata.
type Resource struct {
	ID             uint
	Name           string
	ResourceType   ResourceType
	FilePath       string
	InjectionPos   InjectionPosition
	Priority       int
	Enabled        bool
	InheritDefault bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ResourceVersion is an immutable snapshot of a Resource's content taken
// just before a content- or name-changing edit.
type ResourceVersion struct {
	ID         uint
	ResourceID uint
	Name       string
	Content    string
	CreatedAt  time.Time
}

// Credential is a per-scope OAuth token record (spec §4, Credential Store).
// ProjectDir is empty for a global-scope credential; a project-scope
// record with the same AccountID takes precedence over the global one.
type Credential struct {
	AccountID    string
	ProjectDir   string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// Session is one LLM subprocess invocation within a run.
type Session struct {
	ID             string
	RunID          string
	Iteration      int
	Mode           string
	StartedAt      time.Time
	DurationSecond float64
	Status         string
	ItemsAdded     int
}
