// Package product holds the catalog record the pipeline ranks and serves.
package product

import (
	"strings"
	"time"
)

// Price is an amount in a currency.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Product is a catalog record. The catalog owns it; the pipeline never mutates one.
type Product struct {
	ID             string    `json:"id"`
	Vector         []float32 `json:"-"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Price          Price     `json:"price"`
	Merchant       string    `json:"merchant"`
	Brand          string    `json:"brand"`
	Category       string    `json:"category"`
	URL            string    `json:"url"`
	ImageURL       string    `json:"image_url,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
	DisclosureText string    `json:"disclosure_text,omitempty"`
	InStock        bool      `json:"in_stock"`
}

// SearchText is the lowercased text keyword filters match against.
func (p *Product) SearchText() string {
	return strings.ToLower(strings.Join([]string{p.Title, p.Description, p.Brand, p.Category}, " "))
}

// WithoutVector returns a shallow copy with the embedding dropped, used when
// records are held in caches.
func (p *Product) WithoutVector() *Product {
	cp := *p
	cp.Vector = nil
	return &cp
}
