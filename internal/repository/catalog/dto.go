package catalog

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/adtokens/internal/db"
	"github.com/kailas-cloud/adtokens/internal/domain/product"
)

// Hash field names of a product record.
const (
	fieldTitle       = "title"
	fieldDescription = "description"
	fieldPrice       = "price"
	fieldCurrency    = "currency"
	fieldMerchant    = "merchant"
	fieldBrand       = "brand"
	fieldCategory    = "category"
	fieldURL         = "url"
	fieldImageURL    = "image_url"
	fieldUpdatedAt   = "updated_at"
	fieldDisclosure  = "disclosure_text"
	fieldInStock     = "in_stock"
	fieldVector      = "vector"
)

// returnFields are fetched with every KNN hit. The vector stays server-side.
var returnFields = []string{
	fieldTitle, fieldDescription, fieldPrice, fieldCurrency, fieldMerchant,
	fieldBrand, fieldCategory, fieldURL, fieldImageURL, fieldUpdatedAt,
	fieldDisclosure, fieldInStock,
}

// productToHash converts a product into HSET fields.
func productToHash(p *product.Product) map[string]string {
	m := map[string]string{
		fieldTitle:       p.Title,
		fieldDescription: p.Description,
		fieldPrice:       strconv.FormatFloat(p.Price.Amount, 'f', -1, 64),
		fieldCurrency:    p.Price.Currency,
		fieldMerchant:    p.Merchant,
		fieldBrand:       p.Brand,
		fieldCategory:    p.Category,
		fieldURL:         p.URL,
		fieldImageURL:    p.ImageURL,
		fieldDisclosure:  p.DisclosureText,
		fieldInStock:     boolToString(p.InStock),
	}
	if !p.UpdatedAt.IsZero() {
		m[fieldUpdatedAt] = strconv.FormatInt(p.UpdatedAt.UnixMilli(), 10)
	}
	if len(p.Vector) > 0 {
		m[fieldVector] = db.VectorToBytes(p.Vector)
	}
	return m
}

// productFromHash hydrates a product from HGETALL or FT.SEARCH fields.
func productFromHash(id string, m map[string]string) (*product.Product, error) {
	p := &product.Product{
		ID:             id,
		Title:          m[fieldTitle],
		Description:    m[fieldDescription],
		Price:          product.Price{Currency: m[fieldCurrency]},
		Merchant:       m[fieldMerchant],
		Brand:          m[fieldBrand],
		Category:       m[fieldCategory],
		URL:            m[fieldURL],
		ImageURL:       m[fieldImageURL],
		DisclosureText: m[fieldDisclosure],
		InStock:        true,
	}

	if v, ok := m[fieldPrice]; ok && v != "" {
		amount, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid price %q: %w", v, err)
		}
		p.Price.Amount = amount
	}
	if v, ok := m[fieldUpdatedAt]; ok && v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid updated_at %q: %w", v, err)
		}
		p.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	if v, ok := m[fieldInStock]; ok && v != "" {
		p.InStock = v == "1" || v == "true"
	}
	if v, ok := m[fieldVector]; ok && v != "" {
		vec, err := db.BytesToVector(v)
		if err != nil {
			return nil, fmt.Errorf("invalid vector: %w", err)
		}
		p.Vector = vec
	}
	return p, nil
}

func boolToString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
