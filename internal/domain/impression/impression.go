// Package impression models attribution tokens: one record per served candidate.
package impression

import "time"

// Impression links a served product to the request and session that saw it.
// Created once; ClickedAt and ConversionValue are the only fields that change.
type Impression struct {
	ID              string     `json:"id"`
	RequestID       string     `json:"request_id"`
	ProductID       string     `json:"product_id"`
	SessionID       string     `json:"session_id"`
	CreatedAt       time.Time  `json:"created_at"`
	ClickedAt       *time.Time `json:"clicked_at,omitempty"`
	ConversionValue *float64   `json:"conversion_value,omitempty"`
}

// Expired reports whether the impression is older than the retention window.
// A zero retention never expires.
func (i *Impression) Expired(now time.Time, retention time.Duration) bool {
	if retention <= 0 {
		return false
	}
	return now.Sub(i.CreatedAt) > retention
}

// Clicked reports whether a click has been recorded.
func (i *Impression) Clicked() bool { return i.ClickedAt != nil }

// Feedback is an explicit relevance judgement on a served product.
type Feedback struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id"`
	ProductID   string    `json:"product_id"`
	Relevant    bool      `json:"relevant"`
	Reason      string    `json:"reason,omitempty"`
	UserClicked *bool     `json:"user_clicked,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
