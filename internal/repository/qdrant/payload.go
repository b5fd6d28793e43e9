package qdrant

import (
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kailas-cloud/adtokens/internal/domain/product"
)

// Payload keys. Qdrant point ids must be UUIDs, so the catalog id travels in the payload.
const (
	keyProductID   = "product_id"
	keyTitle       = "title"
	keyDescription = "description"
	keyPrice       = "price"
	keyCurrency    = "currency"
	keyMerchant    = "merchant"
	keyBrand       = "brand"
	keyCategory    = "category"
	keyURL         = "url"
	keyImageURL    = "image_url"
	keyUpdatedAt   = "updated_at"
	keyDisclosure  = "disclosure_text"
	keyInStock     = "in_stock"
)

// filterKeys hold trimmed, lowercased copies of matchable attributes.
// Qdrant keyword matching is exact, filter equality is case-insensitive.
var filterKeys = map[string]string{
	keyMerchant: "merchant_key",
	keyBrand:    "brand_key",
	keyCategory: "category_key",
}

func filterValue(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func productToPayload(p *product.Product) map[string]*qdrant.Value {
	m := map[string]any{
		keyProductID:   p.ID,
		keyTitle:       p.Title,
		keyDescription: p.Description,
		keyPrice:       p.Price.Amount,
		keyCurrency:    p.Price.Currency,
		keyMerchant:    p.Merchant,
		keyBrand:       p.Brand,
		keyCategory:    p.Category,
		keyURL:         p.URL,
		keyInStock:     p.InStock,
	}
	for field, v := range map[string]string{keyMerchant: p.Merchant, keyBrand: p.Brand, keyCategory: p.Category} {
		m[filterKeys[field]] = filterValue(v)
	}
	if p.ImageURL != "" {
		m[keyImageURL] = p.ImageURL
	}
	if p.DisclosureText != "" {
		m[keyDisclosure] = p.DisclosureText
	}
	if !p.UpdatedAt.IsZero() {
		m[keyUpdatedAt] = p.UpdatedAt.UnixMilli()
	}
	return qdrant.NewValueMap(m)
}

func payloadToProduct(payload map[string]*qdrant.Value) *product.Product {
	p := &product.Product{
		ID:             stringValue(payload[keyProductID]),
		Title:          stringValue(payload[keyTitle]),
		Description:    stringValue(payload[keyDescription]),
		Price:          product.Price{Amount: numberValue(payload[keyPrice]), Currency: stringValue(payload[keyCurrency])},
		Merchant:       stringValue(payload[keyMerchant]),
		Brand:          stringValue(payload[keyBrand]),
		Category:       stringValue(payload[keyCategory]),
		URL:            stringValue(payload[keyURL]),
		ImageURL:       stringValue(payload[keyImageURL]),
		DisclosureText: stringValue(payload[keyDisclosure]),
		InStock:        true,
	}
	if v, ok := payload[keyInStock]; ok {
		if b, ok := v.GetKind().(*qdrant.Value_BoolValue); ok {
			p.InStock = b.BoolValue
		}
	}
	if ms := numberValue(payload[keyUpdatedAt]); ms > 0 {
		p.UpdatedAt = time.UnixMilli(int64(ms)).UTC()
	}
	return p
}

func stringValue(v *qdrant.Value) string {
	if v == nil {
		return ""
	}
	return v.GetStringValue()
}

// numberValue reads integer and double payload values alike.
func numberValue(v *qdrant.Value) float64 {
	if v == nil {
		return 0
	}
	switch val := v.GetKind().(type) {
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_IntegerValue:
		return float64(val.IntegerValue)
	default:
		return 0
	}
}
