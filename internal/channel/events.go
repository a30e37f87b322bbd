// Package channel provides the per-task WebSocket session that streams
// generation lifecycle events from the backend.
package channel

import "encoding/json"

// EventType tags an inbound event frame.
type EventType string

// Event taxonomy the backend honors. The client must tolerate unknown types
// and unknown fields on known types.
const (
	EventConnected           EventType = "connected"
	EventCurrentStatus       EventType = "current_status"
	EventProgress            EventType = "progress"
	EventCompleted           EventType = "completed"
	EventFailed              EventType = "failed"
	EventHumanReviewRequired EventType = "human_review_required"
	EventConceptStart        EventType = "concept_start"
	EventConceptComplete     EventType = "concept_complete"
	EventConceptFailed       EventType = "concept_failed"
	EventBatchStart          EventType = "batch_start"
	EventBatchComplete       EventType = "batch_complete"
	EventClosing             EventType = "closing"
	EventError               EventType = "error"
	EventPong                EventType = "pong"
	EventTimeout             EventType = "timeout"
)

// ProgressInfo is the per-item progress fraction carried by concept_start.
type ProgressInfo struct {
	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// BatchResult is the aggregate carried by batch_complete.
type BatchResult struct {
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// ReviewSummary describes the pending roadmap at the human-review gate.
type ReviewSummary struct {
	Title      string `json:"title"`
	StageCount int    `json:"stage_count"`
}

// Event is the JSON envelope for every inbound frame. Type and TaskID are
// mandatory; everything else depends on the event type. Phase-specific
// payloads ride along in Data untouched.
type Event struct {
	Type   EventType `json:"type"`
	TaskID string    `json:"task_id"`

	Message     string `json:"message,omitempty"`
	Status      string `json:"status,omitempty"`
	CurrentStep string `json:"current_step,omitempty"`
	Step        string `json:"step,omitempty"`
	RoadmapID   string `json:"roadmap_id,omitempty"`
	Error       string `json:"error,omitempty"`
	FailedStep  string `json:"failed_step,omitempty"`
	Reason      string `json:"reason,omitempty"`

	ConceptID   string        `json:"concept_id,omitempty"`
	ConceptName string        `json:"concept_name,omitempty"`
	ContentType string        `json:"content_type,omitempty"`
	Progress    *ProgressInfo `json:"progress,omitempty"`

	Batch          *BatchResult   `json:"batch,omitempty"`
	GeneratedCount int            `json:"generated_count,omitempty"`
	FailedCount    int            `json:"failed_count,omitempty"`
	Review         *ReviewSummary `json:"review,omitempty"`

	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Handlers is the table of named callbacks a subscriber opts into. All fields
// are optional. OnEvent is the catch-all, invoked after the specific handler
// for every event except pong.
type Handlers struct {
	OnConnected           func(Event)
	OnCurrentStatus       func(Event)
	OnProgress            func(Event)
	OnCompleted           func(Event)
	OnFailed              func(Event)
	OnHumanReviewRequired func(Event)
	OnConceptStart        func(Event)
	OnConceptComplete     func(Event)
	OnConceptFailed       func(Event)
	OnBatchStart          func(Event)
	OnBatchComplete       func(Event)
	OnClosing             func(Event)
	OnError               func(Event)

	OnEvent func(Event)
}

// outbound frames: heartbeat pings and explicit status requests.
type outbound struct {
	Type string `json:"type"`
}
