package ui

import "github.com/example/imgsearch/internal/render"

// Phase enumerates where a controller is in its query cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSearching
	PhaseRendered
	PhaseError
)

// String returns the lower-case phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSearching:
		return "searching"
	case PhaseRendered:
		return "rendered"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// State is the controller's UI state. Count is set for PhaseRendered and
// Message for PhaseError.
type State struct {
	Phase   Phase
	Count   int
	Message string
}

// View is the rendering surface a controller drives. Implementations only
// display what they are told; they never own the state.
type View interface {
	// SetBusy shows or clears the busy indicator.
	SetBusy(busy bool)
	// SetSubmitEnabled enables or disables the trigger control.
	SetSubmitEnabled(enabled bool)
	// ClearResults removes all previously rendered output.
	ClearResults()
	// ShowResults makes the results area visible.
	ShowResults()
	RenderEntries(entries []render.Entry)
	RenderEmpty(message string)
	RenderError(message string)
	// Notify shows a blocking notification.
	Notify(message string)
}
