package sortorder

// Order is the requested result ordering.
type Order string

// Sort order constants.
const (
	// Relevance orders by composite relevance, highest first.
	Relevance Order = "relevance"
	PriceAsc  Order = "price_asc"
	PriceDesc Order = "price_desc"
)

// IsValid checks if the order is one of the supported values.
func (o Order) IsValid() bool {
	return o == Relevance || o == PriceAsc || o == PriceDesc
}

// OrDefault returns Relevance for the zero value.
func (o Order) OrDefault() Order {
	if o == "" {
		return Relevance
	}
	return o
}
