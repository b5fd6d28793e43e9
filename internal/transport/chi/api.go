package chi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/adtokens/internal/domain/search/filter"
	"github.com/kailas-cloud/adtokens/internal/domain/search/query"
	searchuc "github.com/kailas-cloud/adtokens/internal/usecase/search"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// rawLimit accepts a JSON number or string and keeps the text, so that
// query.ParseLimit owns the validation.
type rawLimit string

func (l *rawLimit) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*l = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err //nolint:wrapcheck // surfaced as a body decode error
		}
		*l = rawLimit(s)
	case len(b) > 0 && (b[0] == '-' || (b[0] >= '0' && b[0] <= '9')):
		*l = rawLimit(b)
	default:
		return fmt.Errorf("limit must be a number, got %s", b)
	}
	return nil
}

type filtersDTO struct {
	MinPrice      *float64 `json:"min_price,omitempty"`
	MaxPrice      *float64 `json:"max_price,omitempty"`
	Merchant      string   `json:"merchant,omitempty"`
	Brand         string   `json:"brand,omitempty"`
	Category      string   `json:"category,omitempty"`
	KeywordFilter string   `json:"keyword_filter,omitempty"`
}

type turnDTO struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type searchRequest struct {
	Query               string      `json:"query"`
	Limit               rawLimit    `json:"limit"`
	Filters             *filtersDTO `json:"filters,omitempty"`
	Sort                string      `json:"sort,omitempty"`
	MinRelevanceScore   *float64    `json:"min_relevance_score,omitempty"`
	SessionID           string      `json:"session_id,omitempty"`
	ConversationContext []turnDTO   `json:"conversation_context,omitempty"`
	ExcludeProductIDs   []string    `json:"exclude_product_ids,omitempty"`
	Stream              bool        `json:"stream,omitempty"`
}

func (r *searchRequest) descriptor() (*query.Descriptor, error) {
	p := query.Params{
		Query:        r.Query,
		Limit:        string(r.Limit),
		Sort:         r.Sort,
		MinRelevance: r.MinRelevanceScore,
		SessionID:    r.SessionID,
		ExcludeIDs:   r.ExcludeProductIDs,
	}
	if f := r.Filters; f != nil {
		p.Filters = filter.Spec{
			MinPrice: f.MinPrice,
			MaxPrice: f.MaxPrice,
			Merchant: f.Merchant,
			Brand:    f.Brand,
			Category: f.Category,
			Keyword:  f.KeywordFilter,
		}
	}
	if len(r.ConversationContext) > 0 {
		p.Context = make([]query.Turn, len(r.ConversationContext))
		for i, t := range r.ConversationContext {
			p.Context[i] = query.Turn{Role: t.Role, Content: t.Content}
		}
	}
	return query.New(p) //nolint:wrapcheck // already a domain error
}

type resultItem struct {
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

type metadataDTO struct {
	TotalMatches int    `json:"total_matches"`
	SessionID    string `json:"session_id"`
	ModelVersion string `json:"model_version"`
}

type searchResponse struct {
	RequestID string       `json:"request_id"`
	Results   []resultItem `json:"results"`
	Metadata  metadataDTO  `json:"metadata"`
}

// streamFrame is the data of one "event: result" SSE frame.
type streamFrame struct {
	RequestID string       `json:"request_id"`
	Results   []resultItem `json:"results"`
}

type batchRequest struct {
	Queries []searchRequest `json:"queries"`
}

// batchResult is either a search response or an inline error.
type batchResult struct {
	*searchResponse
	Error *errorResponse `json:"error,omitempty"`
}

type batchMetadata struct {
	TotalQueries int   `json:"total_queries"`
	TotalTimeMs  int64 `json:"total_time_ms"`
}

type batchResponse struct {
	Results  []batchResult `json:"results"`
	Metadata batchMetadata `json:"metadata"`
}

type clickRequest struct {
	RequestID       string   `json:"request_id,omitempty"`
	ConversionValue *float64 `json:"conversion_value,omitempty"`
}

type clickResponse struct {
	ImpressionID    string    `json:"impression_id"`
	Timestamp       time.Time `json:"timestamp"`
	ConversionValue *float64  `json:"conversion_value,omitempty"`
}

type feedbackRequest struct {
	RequestID   string `json:"request_id"`
	ProductID   string `json:"product_id"`
	Relevant    *bool  `json:"relevant"`
	Reason      string `json:"reason,omitempty"`
	UserClicked *bool  `json:"user_clicked,omitempty"`
}

type feedbackResponse struct {
	FeedbackID string `json:"feedback_id"`
	Message    string `json:"message"`
}

type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version"`
}

func itemToResponse(it *searchuc.Item) resultItem {
	p := it.Candidate.Product
	return resultItem{
		ProductID:            p.ID,
		ImpressionID:         it.ImpressionID,
		Title:                p.Title,
		Description:          p.Description,
		URL:                  p.URL,
		Price:                p.Price.Amount,
		Currency:             p.Price.Currency,
		Merchant:             p.Merchant,
		Brand:                p.Brand,
		RelevanceScore:       it.Candidate.Relevance,
		RelevanceExplanation: it.Candidate.Explanation,
		ImageURL:             p.ImageURL,
		DisclosureText:       p.DisclosureText,
	}
}

func metadataToResponse(md searchuc.Metadata) metadataDTO {
	return metadataDTO{
		TotalMatches: md.TotalMatches,
		SessionID:    md.SessionID,
		ModelVersion: md.ModelVersion,
	}
}

func resultToResponse(res *searchuc.Result) *searchResponse {
	items := make([]resultItem, len(res.Items))
	for i := range res.Items {
		items[i] = itemToResponse(&res.Items[i])
	}
	return &searchResponse{
		RequestID: res.RequestID,
		Results:   items,
		Metadata:  metadataToResponse(res.Metadata),
	}
}

func millis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}
