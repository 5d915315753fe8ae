package types

import "time"

// Session groups the memories created or touched during one continuous
// interaction (a conversation, an agent run). It is intentionally
// freeform: Context carries working-memory state the caller controls.
type Session struct {
	ID        string                 `json:"id"`
	Title     string                 `json:"title,omitempty"`
	Workspace string                 `json:"workspace"`
	StartedAt time.Time              `json:"started_at"`
	EndedAt   *time.Time             `json:"ended_at,omitempty"`
	MessageCount int                 `json:"message_count"`
	Summary   string                 `json:"summary,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SessionMemoryLink attaches a memory to a session with a role describing
// how the memory relates to that session.
type SessionMemoryLink struct {
	SessionID string            `json:"session_id"`
	MemoryID  string            `json:"memory_id"`
	Role      SessionMemoryRole `json:"role"`
	Relevance float64           `json:"relevance"`
	AddedAt   time.Time         `json:"added_at"`
}

// SessionChunkRange records which message window a persisted
// transcript-chunk memory covers, keyed by session id.
type SessionChunkRange struct {
	SessionID        string `json:"session_id"`
	StartMessageIndex int   `json:"start_message_index"`
	EndMessageIndex   int   `json:"end_message_index"`
	MemoryID          string `json:"memory_id"`
}
