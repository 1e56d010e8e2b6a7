package matching

import (
	"math"

	"github.com/meanishn/platform/internal/marketplace"
)

// Weights split the 100 score points between the three factors. They are
// normalised, so only their ratios matter.
type Weights struct {
	Category  float64 `mapstructure:"category"`
	Proximity float64 `mapstructure:"proximity"`
	Quality   float64 `mapstructure:"quality"`
}

// DefaultWeights favour category fit, then proximity, then track record.
var DefaultWeights = Weights{Category: 40, Proximity: 35, Quality: 25}

// ScoringConfig tunes the scorer.
type ScoringConfig struct {
	Weights Weights `mapstructure:"weights"`
	// MaxDistanceMiles is the distance at which proximity stops contributing.
	MaxDistanceMiles float64 `mapstructure:"max_distance_miles"`
}

// Scorer computes match scores in [0,100].
//
// The score never decreases when category strength, rating or completion
// rate improve, and never increases when distance grows. Equal inputs always
// produce equal scores.
type Scorer struct {
	w       Weights
	maxDist float64
}

func NewScorer(cfg ScoringConfig) *Scorer {
	w := cfg.Weights
	if w.Category < 0 || w.Proximity < 0 || w.Quality < 0 || w.Category+w.Proximity+w.Quality == 0 {
		w = DefaultWeights
	}
	maxDist := cfg.MaxDistanceMiles
	if maxDist <= 0 {
		maxDist = 50
	}
	return &Scorer{w: w, maxDist: maxDist}
}

// Score rates provider p against req. It returns the distance it used so the
// caller does not recompute it.
func (s *Scorer) Score(req *marketplace.ServiceRequest, p marketplace.Provider) (score, distance float64) {
	distance = DistanceMiles(req.Location, p.Location)

	strength := 0.0
	if q, ok := p.QualificationFor(req.CategoryID); ok {
		strength = clamp01(q.Strength)
	}
	proximity := math.Max(0, 1-distance/s.maxDist)
	quality := 0.6*clamp01(p.Rating/5) + 0.4*clamp01(p.CompletionRate)

	total := s.w.Category*strength + s.w.Proximity*proximity + s.w.Quality*quality
	score = 100 * total / (s.w.Category + s.w.Proximity + s.w.Quality)
	score = math.Round(score*100) / 100
	return math.Max(0, math.Min(100, score)), distance
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
