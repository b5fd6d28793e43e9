package adtokens

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Click records a click on a served impression. requestID may be empty.
func (c *Client) Click(ctx context.Context, impressionID, requestID string) (_ *Click, err error) {
	start := time.Now()
	defer func() { c.obs.observe("click", start, err) }()

	return c.click(ctx, impressionID, requestID, nil)
}

// Conversion records a conversion value on an impression that was clicked.
// It fails with ErrClickRequired otherwise.
func (c *Client) Conversion(ctx context.Context, impressionID string, value float64) (_ *Click, err error) {
	start := time.Now()
	defer func() { c.obs.observe("conversion", start, err) }()

	return c.click(ctx, impressionID, "", &value)
}

func (c *Client) click(ctx context.Context, impressionID, requestID string, value *float64) (*Click, error) {
	if impressionID == "" {
		return nil, fmt.Errorf("click: %w: impression id required", ErrInvalidInput)
	}
	body := struct {
		RequestID       string   `json:"request_id,omitempty"`
		ConversionValue *float64 `json:"conversion_value,omitempty"`
	}{RequestID: requestID, ConversionValue: value}

	var out Click
	if _, err := c.do(ctx, http.MethodPost, "/clicks/"+url.PathEscape(impressionID), nil, body, &out); err != nil {
		return nil, fmt.Errorf("click: %w", err)
	}
	return &out, nil
}

// Feedback records whether a served product was relevant. Returns the feedback id.
func (c *Client) Feedback(ctx context.Context, req FeedbackRequest) (_ string, err error) {
	start := time.Now()
	defer func() { c.obs.observe("feedback", start, err) }()

	var out struct {
		FeedbackID string `json:"feedback_id"`
	}
	if _, err = c.do(ctx, http.MethodPost, "/feedback", nil, req, &out); err != nil {
		return "", fmt.Errorf("feedback: %w", err)
	}
	return out.FeedbackID, nil
}
