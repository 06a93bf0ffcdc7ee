package store

import "time"

// workItemModel is the gorm row shape for work_items. JSON-valued fields
// are stored as TEXT columns and marshaled at the store's edge, per spec
// §9 "dynamic dict metadata → explicit map with JSON edge": the core
// never demands a typed schema for metadata/tags/dependencies.
type workItemModel struct {
	ID           string `gorm:"primaryKey"`
	Content      string
	Title        string
	Priority     int
	Status       string `gorm:"index"`
	Category     string
	Tags         string // JSON array
	Metadata     string // JSON object
	Dependencies string // JSON array of IDs
	Phase        int
	SourceLoop   string `gorm:"column:source_loop;index"`
	ItemType     string `gorm:"column:item_type"`
	ClaimedBy    *string `gorm:"column:claimed_by;index"`
	ClaimedAt    *time.Time `gorm:"column:claimed_at"`
	ProcessedAt  *time.Time `gorm:"column:processed_at"`
	DuplicateOf  string     `gorm:"column:duplicate_of"`
	SkipReason   string     `gorm:"column:skip_reason"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (workItemModel) TableName() string { return "work_items" }

// workItemUpdatableColumns whitelists the columns any update path may
// touch (spec §4.1 "whitelist discipline"); unknown columns fail fast.
var workItemUpdatableColumns = map[string]bool{
	"content": true, "title": true, "priority": true, "status": true,
	"category": true, "tags": true, "metadata": true, "source_loop": true,
	"item_type": true, "claimed_by": true, "claimed_at": true,
	"processed_at": true, "dependencies": true, "phase": true,
	"duplicate_of": true, "skip_reason": true, "updated_at": true,
}

type runModel struct {
	ID                   string `gorm:"primaryKey"`
	LoopName             string `gorm:"column:loop_name;index"`
	Status               string `gorm:"index"`
	StartedAt            time.Time  `gorm:"column:started_at"`
	CompletedAt          *time.Time `gorm:"column:completed_at"`
	IterationsCompleted  int        `gorm:"column:iterations_completed"`
	ItemsGenerated       int        `gorm:"column:items_generated"`
	ErrorMessage         string     `gorm:"column:error_message"`
	ExecutorPID          int        `gorm:"column:executor_pid"`
	LastActivityAt       *time.Time `gorm:"column:last_activity_at"`
	Phase1Complete       bool       `gorm:"column:phase1_complete"`
	Phase1ModeIndex      int        `gorm:"column:phase1_mode_index"`
}

func (runModel) TableName() string { return "runs" }

var runUpdatableColumns = map[string]bool{
	"status": true, "completed_at": true, "iterations_completed": true,
	"items_generated": true, "error_message": true, "executor_pid": true,
	"last_activity_at": true, "phase1_complete": true, "phase1_mode_index": true,
}

type resourceModel struct {
	ID                uint   `gorm:"primaryKey"`
	Name              string `gorm:"uniqueIndex:idx_resource_name_type"`
	ResourceType      string `gorm:"column:resource_type;uniqueIndex:idx_resource_name_type"`
	FilePath          string `gorm:"column:file_path"`
	InjectionPosition string `gorm:"column:injection_position"`
	Priority          int
	Enabled           bool
	InheritDefault    bool `gorm:"column:inherit_default"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (resourceModel) TableName() string { return "resources" }

var resourceUpdatableColumns = map[string]bool{
	"name": true, "file_path": true, "injection_position": true,
	"priority": true, "enabled": true, "inherit_default": true, "updated_at": true,
}

type resourceVersionModel struct {
	ID         uint `gorm:"primaryKey"`
	ResourceID uint `gorm:"column:resource_id;index"`
	Name       string
	Content    string
	CreatedAt  time.Time
}

func (resourceVersionModel) TableName() string { return "resource_versions" }

type sessionModel struct {
	ID              string `gorm:"primaryKey"`
	RunID           string `gorm:"column:run_id;index"`
	Iteration       int
	Mode            string
	StartedAt       time.Time `gorm:"column:started_at"`
	DurationSeconds float64   `gorm:"column:duration_seconds"`
	Status          string
	ItemsAdded      int `gorm:"column:items_added"`
}

func (sessionModel) TableName() string { return "sessions" }

type runPhaseModel struct {
	RunID     string `gorm:"column:run_id;primaryKey"`
	Phase     int    `gorm:"primaryKey"`
	ItemIDs   string `gorm:"column:item_ids"`
	CreatedAt time.Time
}

func (runPhaseModel) TableName() string { return "run_phases" }

type credentialModel struct {
	AccountID    string `gorm:"column:account_id;primaryKey"`
	ProjectDir   string `gorm:"column:project_dir;primaryKey"`
	AccessToken  string `gorm:"column:access_token"`
	RefreshToken string `gorm:"column:refresh_token"`
	ExpiresAt    time.Time `gorm:"column:expires_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (credentialModel) TableName() string { return "credentials" }
