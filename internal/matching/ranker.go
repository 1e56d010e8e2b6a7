package matching

import (
	"sort"

	"github.com/meanishn/platform/internal/marketplace"
)

// Rank orders candidates by score descending, then distance ascending, then
// provider id, and numbers them 1..N. The input slice is not modified.
func Rank(cands []marketplace.Candidate) []marketplace.Candidate {
	out := make([]marketplace.Candidate, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		return a.ProviderID < b.ProviderID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
