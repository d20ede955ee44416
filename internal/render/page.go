package render

import (
	"embed"
	"html/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// PageTemplateName is the name gin renders the search page under.
const PageTemplateName = "page"

// PageTemplate parses the embedded search page template.
func PageTemplate() *template.Template {
	return template.Must(template.New(PageTemplateName).ParseFS(templateFS, "templates/*.tmpl"))
}

// Page is the state of the search page at the end of a cycle.
type Page struct {
	Limits         []int
	SelectedLimit  int
	Busy           bool
	SubmitEnabled  bool
	ResultsVisible bool
	RequestID      string
	Entries        []Entry
	Empty          string
	Error          string
	Alert          string
}

// PageView records controller calls into a Page. It serves one request and
// is not safe for concurrent use.
type PageView struct {
	Page Page
}

// NewPageView returns an idle page offering the given limit choices.
func NewPageView(limits []int, selected int) *PageView {
	return &PageView{Page: Page{
		Limits:        limits,
		SelectedLimit: selected,
		SubmitEnabled: true,
		Entries:       []Entry{},
	}}
}

func (v *PageView) SetBusy(busy bool) { v.Page.Busy = busy }
func (v *PageView) SetSubmitEnabled(enabled bool) { v.Page.SubmitEnabled = enabled }
func (v *PageView) ShowResults() { v.Page.ResultsVisible = true }
func (v *PageView) Notify(message string) { v.Page.Alert = message }
func (v *PageView) RenderEntries(entries []Entry) { v.Page.Entries = append(v.Page.Entries, entries...) }
func (v *PageView) RenderEmpty(message string) { v.Page.Empty = message }
func (v *PageView) RenderError(message string) { v.Page.Error = message }

// ClearResults drops everything rendered by a previous cycle.
func (v *PageView) ClearResults() {
	v.Page.Entries = []Entry{}
	v.Page.Empty = ""
	v.Page.Error = ""
}
