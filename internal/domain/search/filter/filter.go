// Package filter models structured search filters as a list of independent
// predicates combined by conjunction.
package filter

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kailas-cloud/adtokens/internal/domain/product"
)

// MaxKeywordLength bounds keyword_filter input.
const MaxKeywordLength = 256

// Predicate is one structured filter. A candidate must satisfy every predicate in a Set.
type Predicate interface {
	// Key is a canonical, order-independent rendering used for fingerprints.
	Key() string
	Match(p *product.Product) bool
}

// Spec is the raw, optional filter fields of a search request.
type Spec struct {
	MinPrice *float64
	MaxPrice *float64
	Merchant string
	Brand    string
	Category string
	Keyword  string
}

// Set is a validated conjunction of predicates.
type Set struct {
	preds []Predicate
}

// New validates a Spec and builds the predicate list. Empty fields add nothing.
func New(s Spec) (Set, error) {
	var preds []Predicate

	if s.MinPrice != nil || s.MaxPrice != nil {
		pr, err := newPriceRange(s.MinPrice, s.MaxPrice)
		if err != nil {
			return Set{}, err
		}
		preds = append(preds, pr)
	}
	if v := strings.TrimSpace(s.Merchant); v != "" {
		preds = append(preds, fieldEquals{field: "merchant", value: v, get: func(p *product.Product) string { return p.Merchant }})
	}
	if v := strings.TrimSpace(s.Brand); v != "" {
		preds = append(preds, fieldEquals{field: "brand", value: v, get: func(p *product.Product) string { return p.Brand }})
	}
	if v := strings.TrimSpace(s.Category); v != "" {
		preds = append(preds, fieldEquals{field: "category", value: v, get: func(p *product.Product) string { return p.Category }})
	}
	if s.Keyword != "" {
		if len(s.Keyword) > MaxKeywordLength {
			return Set{}, fmt.Errorf("keyword_filter too long (max %d chars)", MaxKeywordLength)
		}
		if terms := strings.Fields(strings.ToLower(s.Keyword)); len(terms) > 0 {
			preds = append(preds, keyword{terms: terms})
		}
	}

	return Set{preds: preds}, nil
}

// Of builds a Set from already-constructed predicates.
func Of(preds ...Predicate) Set {
	return Set{preds: preds}
}

// Match reports whether p satisfies every predicate.
func (s Set) Match(p *product.Product) bool {
	for _, pred := range s.preds {
		if !pred.Match(p) {
			return false
		}
	}
	return true
}

// Len returns the number of predicates.
func (s Set) Len() int { return len(s.preds) }

// IsEmpty reports whether the set has no predicates.
func (s Set) IsEmpty() bool { return len(s.preds) == 0 }

// Canonical renders the set independent of construction order.
func (s Set) Canonical() string {
	keys := make([]string, len(s.preds))
	for i, p := range s.preds {
		keys[i] = p.Key()
	}
	sort.Strings(keys)
	return strings.Join(keys, "&")
}

// Equality is an exact, case-insensitive attribute match. Value is lowercased and trimmed.
type Equality struct {
	Field string
	Value string
}

// Pushdown is the part of a Set an index can evaluate before vector ranking.
// An index may return a superset; Match stays the authoritative check.
type Pushdown struct {
	Equals   []Equality
	MinPrice *float64
	MaxPrice *float64
}

// IsEmpty reports whether nothing can be pushed down.
func (p Pushdown) IsEmpty() bool {
	return len(p.Equals) == 0 && p.MinPrice == nil && p.MaxPrice == nil
}

// Pushdown extracts the attribute equalities and the price range.
// Keyword terms are left to Match.
func (s Set) Pushdown() Pushdown {
	var pd Pushdown
	for _, pred := range s.preds {
		switch v := pred.(type) {
		case priceRange:
			pd.MinPrice, pd.MaxPrice = v.min, v.max
		case fieldEquals:
			pd.Equals = append(pd.Equals, Equality{Field: v.field, Value: strings.ToLower(v.value)})
		}
	}
	sort.Slice(pd.Equals, func(i, j int) bool { return pd.Equals[i].Field < pd.Equals[j].Field })
	return pd
}

type priceRange struct {
	min *float64
	max *float64
}

func newPriceRange(minPrice, maxPrice *float64) (priceRange, error) {
	for name, v := range map[string]*float64{"min_price": minPrice, "max_price": maxPrice} {
		if v == nil {
			continue
		}
		if *v < 0 || math.IsNaN(*v) || math.IsInf(*v, 0) {
			return priceRange{}, fmt.Errorf("%s must be a non-negative number", name)
		}
	}
	if minPrice != nil && maxPrice != nil && *minPrice > *maxPrice {
		return priceRange{}, fmt.Errorf("min_price (%g) must not exceed max_price (%g)", *minPrice, *maxPrice)
	}
	return priceRange{min: minPrice, max: maxPrice}, nil
}

func (r priceRange) Key() string {
	b := func(v *float64) string {
		if v == nil {
			return "*"
		}
		return strconv.FormatFloat(*v, 'f', -1, 64)
	}
	return "price=[" + b(r.min) + "," + b(r.max) + "]"
}

func (r priceRange) Match(p *product.Product) bool {
	if r.min != nil && p.Price.Amount < *r.min {
		return false
	}
	if r.max != nil && p.Price.Amount > *r.max {
		return false
	}
	return true
}

// fieldEquals is a case-insensitive equality on one product attribute.
type fieldEquals struct {
	field string
	value string
	get   func(p *product.Product) string
}

func (f fieldEquals) Key() string { return f.field + "=" + strings.ToLower(f.value) }

func (f fieldEquals) Match(p *product.Product) bool {
	return strings.EqualFold(strings.TrimSpace(f.get(p)), f.value)
}

// keyword requires every term somewhere in the product's searchable text.
type keyword struct {
	terms []string
}

func (k keyword) Key() string { return "keyword=" + strings.Join(k.terms, " ") }

func (k keyword) Match(p *product.Product) bool {
	text := p.SearchText()
	for _, t := range k.terms {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}
