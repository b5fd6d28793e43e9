package adtokens

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Search returns ranked products for a query and its conversation context.
func (c *Client) Search(ctx context.Context, req SearchRequest) (_ *SearchResponse, err error) {
	start := time.Now()
	defer func() { c.obs.observe("search", start, err) }()

	var resp SearchResponse
	h, err := c.do(ctx, http.MethodPost, "/search", nil, req, &resp)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	resp.SearchTime = headerMillis(h, "X-Search-Time")
	resp.CacheHit = h.Get("X-Cache-Hit") == "true"
	return &resp, nil
}

type batchWire struct {
	Results []struct {
		*SearchResponse
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	} `json:"results"`
	Metadata struct {
		TotalQueries int   `json:"total_queries"`
		TotalTimeMs  int64 `json:"total_time_ms"`
	} `json:"metadata"`
}

// Batch runs several searches in one call. A failed query does not fail
// the batch; its BatchItem carries the error instead.
func (c *Client) Batch(ctx context.Context, queries []SearchRequest) (_ *BatchResponse, err error) {
	start := time.Now()
	defer func() { c.obs.observe("search.batch", start, err) }()

	if len(queries) == 0 {
		return nil, fmt.Errorf("batch: %w: no queries", ErrInvalidInput)
	}

	var wire batchWire
	body := struct {
		Queries []SearchRequest `json:"queries"`
	}{Queries: queries}
	if _, err = c.do(ctx, http.MethodPost, "/search/batch", nil, body, &wire); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}

	out := &BatchResponse{
		Items:        make([]BatchItem, len(wire.Results)),
		TotalQueries: wire.Metadata.TotalQueries,
		TotalTime:    time.Duration(wire.Metadata.TotalTimeMs) * time.Millisecond,
	}
	for i, r := range wire.Results {
		switch {
		case r.Error != nil:
			out.Items[i].Err = &APIError{Code: r.Error.Code, Message: r.Error.Message}
		case r.SearchResponse != nil:
			out.Items[i].Response = r.SearchResponse
		default:
			out.Items[i].Err = errors.New("adtokens: empty batch result")
		}
	}
	return out, nil
}

// Similar returns products close to an existing catalog product.
func (c *Client) Similar(ctx context.Context, req SimilarRequest) (_ *SearchResponse, err error) {
	start := time.Now()
	defer func() { c.obs.observe("similar", start, err) }()

	if req.ProductID == "" {
		return nil, fmt.Errorf("similar: %w: product id required", ErrInvalidInput)
	}
	q := url.Values{}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.SessionID != "" {
		q.Set("session_id", req.SessionID)
	}

	var resp SearchResponse
	h, err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(req.ProductID)+"/similar", q, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("similar: %w", err)
	}
	resp.SearchTime = headerMillis(h, "X-Search-Time")
	return &resp, nil
}
