package usecase

import (
	"math"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
)

// NormalizeScore maps a raw vector similarity into [0,1].
// Without a distribution, cosine similarity in [-1,1] is mapped linearly. With a distribution,
// a logistic curve centred on Mean recentres scores that cluster tightly.
func NormalizeScore(raw float64, dist *domain.Distribution) float64 {
	if math.IsNaN(raw) {
		return 0
	}
	if dist == nil {
		return clampUnit((raw + 1) / 2)
	}
	if dist.Sigma <= 0 {
		if raw >= dist.Mean {
			return 1
		}
		return 0
	}
	return clampUnit(1 / (1 + math.Exp(-(raw-dist.Mean)/dist.Sigma)))
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
