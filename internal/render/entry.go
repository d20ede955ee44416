// Package render turns visible matches into display entries and provides the
// HTML and terminal views driven by the search controller.
package render

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/example/imgsearch/internal/search"
)

const (
	// NoMatchesMessage is shown when no match clears the threshold.
	NoMatchesMessage = "NO ACCURATE MATCHES FOUND (>80%)."
	// NoInputMessage is the blocking notification for a missing image.
	NoInputMessage = "PLEASE SELECT AN IMAGE FIRST."

	imagesPath = "/images/"
)

// Entry is one rendered match.
type Entry struct {
	Filename string  `json:"filename"`
	ImageURL string  `json:"image_url"`
	Score    float64 `json:"score"`
	Percent  string  `json:"percent"`
}

// FormatPercent renders a score in [0,1] as a percentage with one decimal.
func FormatPercent(score float64) string {
	return fmt.Sprintf("%.1f%%", score*100)
}

// ImageURL resolves filename under the /images/ path of base. An empty base
// yields a root-relative reference.
func ImageURL(base, filename string) string {
	ref := (&url.URL{Path: imagesPath + strings.TrimLeft(filename, "/")}).EscapedPath()
	if base == "" {
		return ref
	}
	return strings.TrimRight(base, "/") + ref
}

// NewEntry builds the entry for a single match.
func NewEntry(base string, m search.Match) Entry {
	return Entry{
		Filename: m.Filename,
		ImageURL: ImageURL(base, m.Filename),
		Score:    m.Score,
		Percent:  FormatPercent(m.Score),
	}
}

// Entries builds one entry per match, each independently of the others.
func Entries(base string, matches search.MatchSet) []Entry {
	entries := make([]Entry, len(matches))
	for i, m := range matches {
		entries[i] = NewEntry(base, m)
	}
	return entries
}
