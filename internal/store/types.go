package store

import "encoding/json"

// ─── Enums ───────────────────────────────────────────────────────────────────

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

// Session statuses. Sessions are never hard-deleted; they are archived.
const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionArchived  SessionStatus = "archived"
)

// SessionStatuses lists every recognized session status, in display order.
var SessionStatuses = []SessionStatus{SessionActive, SessionPaused, SessionCompleted, SessionArchived}

// Valid reports whether s is a recognized session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionPaused, SessionCompleted, SessionArchived:
		return true
	}
	return false
}

// MessageRole identifies who produced a message.
type MessageRole string

// Message roles, matching the OpenAI/Cursor wire vocabulary.
const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	RoleFunction  MessageRole = "function"
)

// MessageRoles lists every recognized message role.
var MessageRoles = []MessageRole{RoleSystem, RoleUser, RoleAssistant, RoleTool, RoleFunction}

// Valid reports whether r is a recognized message role.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool, RoleFunction:
		return true
	}
	return false
}

// TaskLevel labels a task's depth in the hierarchy:
// phase → stage → task → activity, decreasing in scope.
// The label is descriptive; it is not validated against the parent's level.
type TaskLevel string

// Task hierarchy levels.
const (
	LevelPhase    TaskLevel = "phase"
	LevelStage    TaskLevel = "stage"
	LevelTask     TaskLevel = "task"
	LevelActivity TaskLevel = "activity"
)

// Valid reports whether l is a recognized task level.
func (l TaskLevel) Valid() bool {
	switch l {
	case LevelPhase, LevelStage, LevelTask, LevelActivity:
		return true
	}
	return false
}

// TaskStatus is the workflow state of a task. All transitions are free;
// done/cancelled tasks may be reopened.
type TaskStatus string

// Task statuses.
const (
	StatusTodo      TaskStatus = "todo"
	StatusDoing     TaskStatus = "doing"
	StatusBlocked   TaskStatus = "blocked"
	StatusReview    TaskStatus = "review"
	StatusDone      TaskStatus = "done"
	StatusCancelled TaskStatus = "cancelled"
)

// Valid reports whether s is a recognized task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusDoing, StatusBlocked, StatusReview, StatusDone, StatusCancelled:
		return true
	}
	return false
}

// MarkerType classifies a code annotation found by the scanner.
type MarkerType string

// Marker types, uppercase as they appear in source code.
const (
	MarkerTODO   MarkerType = "TODO"
	MarkerFIXME  MarkerType = "FIXME"
	MarkerHACK   MarkerType = "HACK"
	MarkerBUG    MarkerType = "BUG"
	MarkerNOTE   MarkerType = "NOTE"
	MarkerREVIEW MarkerType = "REVIEW"
)

// Valid reports whether t is a recognized marker type.
func (t MarkerType) Valid() bool {
	switch t {
	case MarkerTODO, MarkerFIXME, MarkerHACK, MarkerBUG, MarkerNOTE, MarkerREVIEW:
		return true
	}
	return false
}

// MarkerStatus is the resolution state of a marker. Markers never
// auto-expire; they transition via an explicit resolve action.
type MarkerStatus string

// Marker statuses.
const (
	MarkerOpen       MarkerStatus = "open"
	MarkerInProgress MarkerStatus = "in_progress"
	MarkerResolved   MarkerStatus = "resolved"
	MarkerWontFix    MarkerStatus = "wont_fix"
)

// Valid reports whether s is a recognized marker status.
func (s MarkerStatus) Valid() bool {
	switch s {
	case MarkerOpen, MarkerInProgress, MarkerResolved, MarkerWontFix:
		return true
	}
	return false
}

// ─── Entities ────────────────────────────────────────────────────────────────

// Session is a recorded conversation or work context.
type Session struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  *string       `json:"description"`
	Objective    *string       `json:"objective"`
	Status       SessionStatus `json:"status"`
	CreatedAt    string        `json:"created_at"`
	UpdatedAt    string        `json:"updated_at"`
	CompletedAt  *string       `json:"completed_at"`
	MessageCount int           `json:"message_count"`
	TaskCount    int           `json:"task_count"`
}

// Message is one entry in a session's append-only ledger. Messages are
// immutable once recorded.
type Message struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	Role         MessageRole     `json:"role"`
	Content      *string         `json:"content"`
	Name         *string         `json:"name"`
	Tools        json.RawMessage `json:"tools"`
	ToolCalls    json.RawMessage `json:"tool_calls"`
	FunctionCall json.RawMessage `json:"function_call"`
	TokenCount   *int            `json:"token_count"`
	Sequence     int             `json:"sequence"`
	CreatedAt    string          `json:"created_at"`
}

// Task is one node in the phase/stage/task/activity forest.
type Task struct {
	ID              string     `json:"id"`
	SessionID       *string    `json:"session_id"`
	ParentID        *string    `json:"parent_id"`
	Title           string     `json:"title"`
	Description     *string    `json:"description"`
	Level           TaskLevel  `json:"level"`
	Status          TaskStatus `json:"status"`
	Priority        int        `json:"priority"`
	Progress        float64    `json:"progress"`
	PropagateStatus bool       `json:"propagate_status"`
	CreatedAt       string     `json:"created_at"`
	UpdatedAt       string     `json:"updated_at"`
	StartedAt       *string    `json:"started_at"`
	CompletedAt     *string    `json:"completed_at"`
	DueDate         *string    `json:"due_date"`
}

// TaskTree is a task with its children nested recursively.
type TaskTree struct {
	Task
	Children []*TaskTree `json:"children,omitempty"`
}

// Marker is a persisted code annotation (TODO, FIXME, ...).
type Marker struct {
	ID         string          `json:"id"`
	SessionID  *string         `json:"session_id"`
	TaskID     *string         `json:"task_id"`
	Type       MarkerType      `json:"type"`
	Status     MarkerStatus    `json:"status"`
	FilePath   string          `json:"file_path"`
	LineNumber int             `json:"line_number"`
	Content    string          `json:"content"`
	FullLine   *string         `json:"full_line"`
	Metadata   json.RawMessage `json:"metadata"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
	ResolvedAt *string         `json:"resolved_at"`
}

// SessionMetadata is one key/value annotation on a session. A value is
// stored either as raw text or as structured JSON, never both; structured
// takes precedence on read.
type SessionMetadata struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Key       string          `json:"key"`
	ValueText *string         `json:"-"`
	ValueJSON json.RawMessage `json:"-"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// Value returns the metadata value, preferring the structured form.
func (m *SessionMetadata) Value() any {
	if len(m.ValueJSON) > 0 {
		var v any
		if err := json.Unmarshal(m.ValueJSON, &v); err == nil {
			return v
		}
	}
	if m.ValueText != nil {
		return *m.ValueText
	}
	return nil
}
