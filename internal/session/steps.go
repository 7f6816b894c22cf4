package session

import "strings"

// Step represents one stage of the episode build flow.
type Step string

const (
	StepTemplateSelect     Step = "template_select"
	StepAudioSelect        Step = "audio_select"
	StepSegmentCustomize   Step = "segment_customize"
	StepCoverArt           Step = "cover_art"
	StepDetailsAndSchedule Step = "details_schedule"
	StepAssembleAndPublish Step = "assemble_publish"
)

var allSteps = []Step{
	StepTemplateSelect,
	StepAudioSelect,
	StepSegmentCustomize,
	StepCoverArt,
	StepDetailsAndSchedule,
	StepAssembleAndPublish,
}

var stepIndex = func() map[Step]int {
	idx := make(map[Step]int, len(allSteps))
	for i, step := range allSteps {
		idx[step] = i
	}
	return idx
}()

// AllSteps returns the ordered list of build steps.
func AllSteps() []Step {
	cp := make([]Step, len(allSteps))
	copy(cp, allSteps)
	return cp
}

// ParseStep converts a string into a known Step.
func ParseStep(value string) (Step, bool) {
	normalized := Step(strings.ToLower(strings.TrimSpace(value)))
	_, ok := stepIndex[normalized]
	return normalized, ok
}

// Index returns the zero-based position of the step in the flow, or -1 for
// unknown steps.
func (s Step) Index() int {
	if i, ok := stepIndex[s]; ok {
		return i
	}
	return -1
}

// Before reports whether s comes earlier in the flow than other.
func (s Step) Before(other Step) bool {
	return s.Index() < other.Index()
}

// Label returns the user-facing name of the step.
func (s Step) Label() string {
	switch s {
	case StepTemplateSelect:
		return "Choose Template"
	case StepAudioSelect:
		return "Select Audio"
	case StepSegmentCustomize:
		return "Customize Segments"
	case StepCoverArt:
		return "Cover Art"
	case StepDetailsAndSchedule:
		return "Details & Schedule"
	case StepAssembleAndPublish:
		return "Assemble & Publish"
	default:
		return string(s)
	}
}
