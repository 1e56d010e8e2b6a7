package matching

import "github.com/meanishn/platform/internal/marketplace"

// Eligible keeps the providers that are qualified for the request's category,
// currently available and not excluded. Order is preserved.
func Eligible(req *marketplace.ServiceRequest, providers []marketplace.Provider, exclude map[string]bool) []marketplace.Provider {
	var out []marketplace.Provider
	for _, p := range providers {
		if exclude[p.ID] || !p.Available {
			continue
		}
		if _, ok := p.QualificationFor(req.CategoryID); !ok {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Candidates scores the eligible providers. The result is unranked.
func Candidates(s *Scorer, req *marketplace.ServiceRequest, eligible []marketplace.Provider) []marketplace.Candidate {
	out := make([]marketplace.Candidate, 0, len(eligible))
	for _, p := range eligible {
		score, dist := s.Score(req, p)
		out = append(out, marketplace.Candidate{
			ProviderID:    p.ID,
			CategoryMatch: true,
			Available:     p.Available,
			Distance:      dist,
			Score:         score,
		})
	}
	return out
}
