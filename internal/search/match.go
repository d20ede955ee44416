package search

// Threshold is the minimum score a match needs to be shown.
const Threshold = 0.80

// Match is one candidate returned by the search backend.
type Match struct {
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
}

// MatchSet is the ordered list of matches for one query, as ranked by the backend.
type MatchSet []Match

// Accurate reports whether the match clears Threshold. A score of exactly
// Threshold is accurate; NaN never is.
func (m Match) Accurate() bool {
	return m.Score >= Threshold
}

// Filter returns the accurate matches of set in their original order.
// The input is left untouched.
func Filter(set MatchSet) MatchSet {
	visible := make(MatchSet, 0, len(set))
	for _, m := range set {
		if !m.Accurate() {
			continue
		}
		visible = append(visible, m)
	}
	return visible
}
