package credit

import (
	"sort"
	"strings"
)

const (
	// FallbackPD applies to ratings missing from the table.
	FallbackPD = 0.0001

	// FallbackHorizon is used when the requested horizon has no column.
	FallbackHorizon = 3
)

// RatingTable maps a rating to its default probability per horizon in
// years, e.g. table["BBB"][3] is the 3-year PD of a BBB obligor.
type RatingTable map[string]map[int]float64

// PD looks up the default probability of rating over horizon years. A
// missing horizon falls back to FallbackHorizon; a missing rating to
// FallbackPD.
func (t RatingTable) PD(rating string, horizon int) float64 {
	row, ok := t[strings.TrimSpace(rating)]
	if !ok {
		return FallbackPD
	}
	if pd, ok := row[horizon]; ok {
		return pd
	}
	if pd, ok := row[FallbackHorizon]; ok {
		return pd
	}
	return FallbackPD
}

// Ratings returns the table's ratings in sorted order.
func (t RatingTable) Ratings() []string {
	out := make([]string, 0, len(t))
	for r := range t {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
