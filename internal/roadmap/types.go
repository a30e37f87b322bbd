// Package roadmap defines the learning-roadmap data model shared by the
// event channel, the progress reconciler and the CLI.
package roadmap

// ContentType identifies one of the three independently generated content
// lifecycles tracked per concept.
type ContentType string

const (
	ContentTypeTutorial  ContentType = "tutorial"
	ContentTypeResources ContentType = "resources"
	ContentTypeQuiz      ContentType = "quiz"
)

// AllContentTypes returns the content types in generation order.
func AllContentTypes() []ContentType {
	return []ContentType{ContentTypeTutorial, ContentTypeResources, ContentTypeQuiz}
}

// ContentStatus is the lifecycle state of one content type on one concept.
type ContentStatus string

const (
	StatusPending    ContentStatus = "pending"
	StatusGenerating ContentStatus = "generating"
	StatusCompleted  ContentStatus = "completed"
	StatusFailed     ContentStatus = "failed"
)

// ValidTransition reports whether a content status change is allowed by the
// normal event-driven state machine. Stale demotion (generating/pending to
// failed without a terminal event) is deliberately excluded; it goes through
// Store.ForceConceptStatus instead.
func ValidTransition(from, to ContentStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusGenerating
	case StatusGenerating:
		return to == StatusCompleted || to == StatusFailed
	case StatusFailed:
		return to == StatusGenerating
	case StatusCompleted:
		return false
	default:
		return false
	}
}

// TaskStatus is the backend-reported status of an asynchronous task.
type TaskStatus string

const (
	TaskPending            TaskStatus = "pending"
	TaskProcessing         TaskStatus = "processing"
	TaskCompleted          TaskStatus = "completed"
	TaskPartialFailure     TaskStatus = "partial_failure"
	TaskFailed             TaskStatus = "failed"
	TaskHumanReviewPending TaskStatus = "human_review_pending"
)

// Terminal reports whether the task has reached a final state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskPartialFailure:
		return true
	default:
		return false
	}
}

// Task is the client's read-only projection of a backend task.
type Task struct {
	TaskID      string     `json:"task_id"`
	Status      TaskStatus `json:"status"`
	CurrentStep string     `json:"current_step"`
	RoadmapID   string     `json:"roadmap_id,omitempty"`
}

// Concept is a leaf learning unit. Its three status fields are the only part
// of the tree mutated by the reconciler.
type Concept struct {
	ID              string        `json:"concept_id"`
	Name            string        `json:"name"`
	ContentStatus   ContentStatus `json:"content_status"`
	ResourcesStatus ContentStatus `json:"resources_status"`
	QuizStatus      ContentStatus `json:"quiz_status"`
}

// Status returns the lifecycle state for one content type.
func (c *Concept) Status(ct ContentType) ContentStatus {
	switch ct {
	case ContentTypeResources:
		return c.ResourcesStatus
	case ContentTypeQuiz:
		return c.QuizStatus
	default:
		return c.ContentStatus
	}
}

// SetStatus updates the lifecycle state for one content type.
func (c *Concept) SetStatus(ct ContentType, s ContentStatus) {
	switch ct {
	case ContentTypeResources:
		c.ResourcesStatus = s
	case ContentTypeQuiz:
		c.QuizStatus = s
	default:
		c.ContentStatus = s
	}
}

// Module groups concepts inside a stage.
type Module struct {
	ID       string    `json:"module_id"`
	Name     string    `json:"name"`
	Concepts []Concept `json:"concepts"`
}

// Stage is the top grouping level of a roadmap.
type Stage struct {
	ID      string   `json:"stage_id"`
	Name    string   `json:"name"`
	Modules []Module `json:"modules"`
}

// Roadmap is the full learning tree returned by the backend.
type Roadmap struct {
	ID     string  `json:"roadmap_id"`
	Title  string  `json:"title"`
	Stages []Stage `json:"stages"`
}

// GenerationStats aggregates tutorial content status over all concepts.
// It is computed client-side; the backend never pushes it wholesale.
type GenerationStats struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Failed    int `json:"failed"`
}

// ComputeStats scans the whole tree and counts tutorial content statuses.
// This is the baseline that event-driven deltas adjust.
func ComputeStats(r *Roadmap) GenerationStats {
	var stats GenerationStats
	if r == nil {
		return stats
	}
	for si := range r.Stages {
		for mi := range r.Stages[si].Modules {
			for ci := range r.Stages[si].Modules[mi].Concepts {
				stats.Total++
				switch r.Stages[si].Modules[mi].Concepts[ci].ContentStatus {
				case StatusCompleted:
					stats.Completed++
				case StatusFailed:
					stats.Failed++
				}
			}
		}
	}
	return stats
}

// ActiveTask describes one in-flight per-concept job reported by the
// status-check endpoint.
type ActiveTask struct {
	TaskID      string      `json:"task_id"`
	ConceptID   string      `json:"concept_id"`
	ContentType ContentType `json:"content_type"`
	Status      TaskStatus  `json:"status"`
}

// StaleConcept describes content stuck in pending/generating with no active
// backend task behind it.
type StaleConcept struct {
	ConceptID     string        `json:"concept_id"`
	ContentType   ContentType   `json:"content_type"`
	CurrentStatus ContentStatus `json:"current_status"`
}
