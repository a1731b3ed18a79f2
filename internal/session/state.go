package session

// State is a phase of the session loop.
type State int32

const (
	// StateAwaitingTrigger waits for the operator to start a turn.
	StateAwaitingTrigger State = iota
	StateCapturing
	StateTranscribing
	StateGenerating
	StateSynthesizing
	StatePlaying

	// StateTerminated is final. The loop reaches it on cancellation at the
	// trigger boundary or when the trigger source is exhausted.
	StateTerminated
)

// String returns the snake_case name of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingTrigger:
		return "awaiting_trigger"
	case StateCapturing:
		return "capturing"
	case StateTranscribing:
		return "transcribing"
	case StateGenerating:
		return "generating"
	case StateSynthesizing:
		return "synthesizing"
	case StatePlaying:
		return "playing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
