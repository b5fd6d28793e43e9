package search

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kailas-cloud/adtokens/internal/domain/search/candidate"
	"github.com/kailas-cloud/adtokens/internal/domain/search/query"
	"github.com/kailas-cloud/adtokens/internal/domain/search/sortorder"
)

// Weights configure the composite relevance score. They come from
// configuration only, never from a request.
type Weights struct {
	Similarity float64
	Recency    float64
	Boost      float64
	// HalfLife is the age at which the recency signal halves.
	HalfLife     time.Duration
	InStockBoost float64
	// MerchantPriority maps a merchant name to a boost in [0,1].
	// Matching is case-insensitive; lowercased keys take the fast path.
	MerchantPriority map[string]float64
}

// DefaultWeights favour semantic similarity.
func DefaultWeights() Weights {
	return Weights{
		Similarity:   0.8,
		Recency:      0.1,
		Boost:        0.1,
		HalfLife:     30 * 24 * time.Hour,
		InStockBoost: 1,
	}
}

// Rank filters hits by d's predicates, scores survivors as of asOf, drops those
// below the relevance threshold and orders them by d's sort mode.
func Rank(hits []candidate.Hit, d *query.Descriptor, w Weights, asOf time.Time) []candidate.Candidate {
	filters := d.Filters()
	out := make([]candidate.Candidate, 0, len(hits))

	for _, h := range hits {
		if h.Product == nil || !filters.Match(h.Product) {
			continue
		}
		sim := candidate.Clamp01(h.Similarity)
		rec := recency(h.Product.UpdatedAt, asOf, w.HalfLife)
		boost := w.boost(h.Product.InStock, h.Product.Merchant)
		rel := composite(sim, rec, boost, w)
		if rel < d.MinRelevance() {
			continue
		}
		out = append(out, candidate.Candidate{
			Product:     h.Product,
			Similarity:  sim,
			Relevance:   rel,
			Explanation: explain(sim, rec, h.Product.InStock, w.priority(h.Product.Merchant)),
		})
	}

	sortCandidates(out, d.Sort())
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func composite(sim, rec, boost float64, w Weights) float64 {
	total := w.Similarity + w.Recency + w.Boost
	if total <= 0 {
		return sim
	}
	return candidate.Clamp01((w.Similarity*sim + w.Recency*rec + w.Boost*boost) / total)
}

// recency is 2^(-age/halfLife). Future timestamps count as age 0,
// a zero timestamp scores 0.
func recency(updated, asOf time.Time, halfLife time.Duration) float64 {
	if updated.IsZero() || halfLife <= 0 {
		return 0
	}
	age := asOf.Sub(updated)
	if age < 0 {
		age = 0
	}
	return math.Exp2(-float64(age) / float64(halfLife))
}

func (w Weights) priority(merchant string) float64 {
	merchant = strings.TrimSpace(merchant)
	if p, ok := w.MerchantPriority[strings.ToLower(merchant)]; ok {
		return p
	}
	// Keys set in code may keep their original case
	for name, p := range w.MerchantPriority {
		if strings.EqualFold(strings.TrimSpace(name), merchant) {
			return p
		}
	}
	return 0
}

func (w Weights) boost(inStock bool, merchant string) float64 {
	b := w.priority(merchant)
	if inStock {
		b += w.InStockBoost
	}
	return candidate.Clamp01(b)
}

func sortCandidates(list []candidate.Candidate, order sortorder.Order) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch order {
		case sortorder.PriceAsc:
			if a.Product.Price.Amount != b.Product.Price.Amount {
				return a.Product.Price.Amount < b.Product.Price.Amount
			}
		case sortorder.PriceDesc:
			if a.Product.Price.Amount != b.Product.Price.Amount {
				return a.Product.Price.Amount > b.Product.Price.Amount
			}
		}
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		return a.Product.ID < b.Product.ID
	})
}

func explain(sim, rec float64, inStock bool, priority float64) string {
	var strength string
	switch {
	case sim >= 0.85:
		strength = "Strong"
	case sim >= 0.7:
		strength = "Good"
	default:
		strength = "Partial"
	}
	parts := []string{fmt.Sprintf("%s semantic match (%.2f)", strength, sim)}
	if rec >= 0.5 {
		parts = append(parts, "recently updated")
	}
	if inStock {
		parts = append(parts, "in stock")
	}
	if priority > 0 {
		parts = append(parts, "priority merchant")
	}
	return strings.Join(parts, ", ")
}
