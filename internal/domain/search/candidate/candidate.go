// Package candidate holds the transient, per-request scored results of retrieval and ranking.
package candidate

import "github.com/kailas-cloud/adtokens/internal/domain/product"

// Hit is a raw nearest-neighbor match from the product index.
type Hit struct {
	Product    *product.Product
	Similarity float64
}

// Candidate is a hit that survived filtering and carries its composite score.
type Candidate struct {
	Product     *product.Product `json:"product"`
	Similarity  float64          `json:"similarity"`
	Relevance   float64          `json:"relevance"`
	Rank        int              `json:"rank"`
	Explanation string           `json:"explanation"`
}

// ID returns the product identifier.
func (c *Candidate) ID() string { return c.Product.ID }

// Clamp01 bounds a score to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	switch {
	case v != v: //nolint:gocritic // NaN check
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
