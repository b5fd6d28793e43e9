package adtokens

import "time"

// Turn is one prior conversation message. Role is "user" or "assistant".
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Filters narrow candidates. Zero values are ignored.
type Filters struct {
	MinPrice      *float64 `json:"min_price,omitempty"`
	MaxPrice      *float64 `json:"max_price,omitempty"`
	Merchant      string   `json:"merchant,omitempty"`
	Brand         string   `json:"brand,omitempty"`
	Category      string   `json:"category,omitempty"`
	KeywordFilter string   `json:"keyword_filter,omitempty"`
}

// Sort orders.
const (
	SortRelevance = "relevance"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
)

// SearchRequest is a contextual search. Limit 0 uses the server default.
type SearchRequest struct {
	Query               string   `json:"query"`
	Limit               int      `json:"limit,omitempty"`
	Filters             *Filters `json:"filters,omitempty"`
	Sort                string   `json:"sort,omitempty"`
	MinRelevanceScore   *float64 `json:"min_relevance_score,omitempty"`
	SessionID           string   `json:"session_id,omitempty"`
	ConversationContext []Turn   `json:"conversation_context,omitempty"`
	ExcludeProductIDs   []string `json:"exclude_product_ids,omitempty"`
}

// Result is one recommended product.
type Result struct {
	ProductID            string  `json:"product_id"`
	ImpressionID         string  `json:"impression_id"`
	Title                string  `json:"title"`
	Description          string  `json:"description"`
	URL                  string  `json:"url"`
	Price                float64 `json:"price"`
	Currency             string  `json:"currency"`
	Merchant             string  `json:"merchant"`
	Brand                string  `json:"brand"`
	RelevanceScore       float64 `json:"relevance_score"`
	RelevanceExplanation string  `json:"relevance_explanation"`
	ImageURL             string  `json:"image_url,omitempty"`
	DisclosureText       string  `json:"disclosure_text,omitempty"`
}

// Metadata describes a ranked list.
type Metadata struct {
	TotalMatches int    `json:"total_matches"`
	SessionID    string `json:"session_id"`
	ModelVersion string `json:"model_version"`
}

// SearchResponse is a ranked list with its request id.
type SearchResponse struct {
	RequestID string   `json:"request_id"`
	Results   []Result `json:"results"`
	Metadata  Metadata `json:"metadata"`

	// Filled from response headers.
	SearchTime time.Duration `json:"-"`
	CacheHit   bool          `json:"-"`
}

// BatchItem is the outcome of one query in a batch. Exactly one of
// Response and Err is set.
type BatchItem struct {
	Response *SearchResponse
	Err      error
}

// BatchResponse holds per-query outcomes in request order.
type BatchResponse struct {
	Items        []BatchItem
	TotalQueries int
	TotalTime    time.Duration
}

// SimilarRequest asks for products near an existing one.
type SimilarRequest struct {
	ProductID string
	Limit     int
	SessionID string
}

// Click is a recorded click, optionally with a conversion.
type Click struct {
	ImpressionID    string    `json:"impression_id"`
	Timestamp       time.Time `json:"timestamp"`
	ConversionValue *float64  `json:"conversion_value,omitempty"`
}

// FeedbackRequest is relevance feedback on one served product.
type FeedbackRequest struct {
	RequestID   string `json:"request_id"`
	ProductID   string `json:"product_id"`
	Relevant    bool   `json:"relevant"`
	Reason      string `json:"reason,omitempty"`
	UserClicked *bool  `json:"user_clicked,omitempty"`
}

// HealthStatus represents the aggregated system health.
type HealthStatus struct {
	Status  string            `json:"status"` // "ok", "degraded", "error"
	Checks  map[string]string `json:"checks"` // component → "ok"/"error"
	Version string            `json:"version"`
}

// Float returns a pointer to v, for optional numeric fields.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
