package render

import (
	"bytes"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	refStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	scoreStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	linkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	emptyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

// TerminalView renders a search cycle for the CLI. Status lines go to status
// as they happen; results are buffered and written to out by Flush.
type TerminalView struct {
	out     io.Writer
	status  io.Writer
	results bytes.Buffer
	busy    bool
	enabled bool
}

// NewTerminalView writes results to out and progress/notifications to status.
func NewTerminalView(out, status io.Writer) *TerminalView {
	return &TerminalView{out: out, status: status, enabled: true}
}

// Busy reports whether the busy indicator is currently shown.
func (v *TerminalView) Busy() bool { return v.busy }

// SubmitEnabled reports whether a new query may be triggered.
func (v *TerminalView) SubmitEnabled() bool { return v.enabled }

func (v *TerminalView) SetBusy(busy bool) {
	if busy && !v.busy {
		fmt.Fprintln(v.status, statusStyle.Render("SEARCHING..."))
	}
	v.busy = busy
}

func (v *TerminalView) SetSubmitEnabled(enabled bool) { v.enabled = enabled }

func (v *TerminalView) ClearResults() { v.results.Reset() }

func (v *TerminalView) ShowResults() {}

func (v *TerminalView) Notify(message string) {
	fmt.Fprintln(v.status, warningStyle.Render(message))
}

func (v *TerminalView) RenderEntries(entries []Entry) {
	for _, e := range entries {
		fmt.Fprintf(&v.results, "  %s  %s\n  %s\n\n",
			refStyle.Render("REF: "+e.Filename),
			scoreStyle.Render("SCORE: "+e.Percent),
			linkStyle.Render(e.ImageURL),
		)
	}
}

func (v *TerminalView) RenderEmpty(message string) {
	fmt.Fprintf(&v.results, "%s\n", emptyStyle.Render(message))
}

func (v *TerminalView) RenderError(message string) {
	fmt.Fprintf(&v.results, "%s\n", errorStyle.Render("ERROR: "+message))
}

// Flush writes the buffered results and clears the buffer.
func (v *TerminalView) Flush() error {
	if v.results.Len() == 0 {
		return nil
	}
	_, err := v.results.WriteTo(v.out)
	return err
}
