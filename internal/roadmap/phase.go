package roadmap

import "strings"

// GenerationPhase is the client-derived pipeline stage. It is recomputed from
// a task's current_step on every relevant event and is never authoritative.
type GenerationPhase string

const (
	PhaseUnknown           GenerationPhase = ""
	PhaseIntentAnalysis    GenerationPhase = "intent_analysis"
	PhaseCurriculumDesign  GenerationPhase = "curriculum_design"
	PhaseHumanReview       GenerationPhase = "human_review"
	PhaseContentGeneration GenerationPhase = "content_generation"
	PhaseCompleted         GenerationPhase = "completed"
)

// Human-review sub-statuses.
const (
	ReviewWaiting = "waiting"
	ReviewEditing = "editing"
)

// ParseStep derives the generation phase and optional sub-status from a
// task's current_step. Steps may be composite, e.g.
// "tutorial_generation:concept-42" or "human_review:editing".
// Unrecognized steps yield PhaseUnknown so callers can keep their prior phase.
func ParseStep(step string) (GenerationPhase, string) {
	base, rest, _ := strings.Cut(step, ":")

	switch base {
	case "intent_analysis":
		return PhaseIntentAnalysis, ""
	case "curriculum_design", "curriculum_validation":
		return PhaseCurriculumDesign, ""
	case "human_review":
		sub := rest
		if sub == "" {
			sub = ReviewWaiting
		}
		return PhaseHumanReview, sub
	case "content_generation",
		"tutorial_generation", "resource_generation", "quiz_generation",
		"retry_failed", "retry_completed":
		return PhaseContentGeneration, ""
	case "completed":
		return PhaseCompleted, ""
	default:
		return PhaseUnknown, ""
	}
}
