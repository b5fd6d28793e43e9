package impression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/kailas-cloud/adtokens/internal/domain"
	domimp "github.com/kailas-cloud/adtokens/internal/domain/impression"
)

const (
	impressionsTable = "impressions"
	feedbackTable    = "feedback"
)

// SupabaseConfig holds Supabase connection settings.
type SupabaseConfig struct {
	URL    string
	APIKey string
}

// SupabaseStore keeps impressions in Postgres through the Supabase REST API.
type SupabaseStore struct {
	client *supabase.Client
}

// NewSupabaseStore creates a Supabase-backed store.
func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

func (c SupabaseConfig) validate() error {
	if c.URL == "" {
		return errors.New("supabase URL is required")
	}
	if c.APIKey == "" {
		return errors.New("supabase API key is required")
	}
	return nil
}

// Save upserts impressions on id. Only creation columns are sent so a retried
// write never clears a click.
func (s *SupabaseStore) Save(_ context.Context, imps ...domimp.Impression) error {
	if len(imps) == 0 {
		return nil
	}
	rows := make([]impressionRow, len(imps))
	for i := range imps {
		rows[i] = toImpressionRow(&imps[i])
	}
	_, _, err := s.client.From(impressionsTable).
		Insert(rows, true, "id", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("insert impressions: %w", err)
	}
	return nil
}

// Get loads one impression.
func (s *SupabaseStore) Get(_ context.Context, id string) (*domimp.Impression, error) {
	var rows []impressionRow
	_, err := s.client.From(impressionsTable).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("get impression %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrImpressionNotFound
	}
	return rows[0].toDomain(), nil
}

// MarkClicked sets clicked_at with a conditional update (clicked_at IS NULL).
// When nothing was updated the existing row decides the outcome.
func (s *SupabaseStore) MarkClicked(ctx context.Context, id string, at time.Time) (time.Time, error) {
	var updated []impressionRow
	_, err := s.client.From(impressionsTable).
		Update(map[string]any{"clicked_at": at.UTC()}, "representation", "").
		Eq("id", id).
		Is("clicked_at", "null").
		ExecuteTo(&updated)
	if err != nil {
		return time.Time{}, fmt.Errorf("mark clicked %s: %w", id, err)
	}
	if len(updated) > 0 && updated[0].ClickedAt != nil {
		return updated[0].ClickedAt.UTC(), nil
	}

	imp, err := s.Get(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	if imp.ClickedAt == nil {
		return time.Time{}, fmt.Errorf("mark clicked %s: update matched no row", id)
	}
	return *imp.ClickedAt, nil
}

// SetConversion writes conversion_value on a clicked impression.
func (s *SupabaseStore) SetConversion(ctx context.Context, id string, value float64) error {
	imp, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !imp.Clicked() {
		return domain.ErrClickRequired
	}
	_, _, err = s.client.From(impressionsTable).
		Update(map[string]any{"conversion_value": value}, "minimal", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("set conversion %s: %w", id, err)
	}
	return nil
}

// SaveFeedback inserts a feedback row.
func (s *SupabaseStore) SaveFeedback(_ context.Context, fb domimp.Feedback) error {
	_, _, err := s.client.From(feedbackTable).
		Insert(toFeedbackRow(&fb), false, "", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// impressionRow is the impressions table layout.
type impressionRow struct {
	ID              string     `json:"id"`
	RequestID       string     `json:"request_id"`
	ProductID       string     `json:"product_id"`
	SessionID       string     `json:"session_id"`
	CreatedAt       time.Time  `json:"created_at"`
	ClickedAt       *time.Time `json:"clicked_at,omitempty"`
	ConversionValue *float64   `json:"conversion_value,omitempty"`
}

func toImpressionRow(imp *domimp.Impression) impressionRow {
	return impressionRow{
		ID:        imp.ID,
		RequestID: imp.RequestID,
		ProductID: imp.ProductID,
		SessionID: imp.SessionID,
		CreatedAt: imp.CreatedAt.UTC(),
	}
}

func (r *impressionRow) toDomain() *domimp.Impression {
	imp := &domimp.Impression{
		ID:              r.ID,
		RequestID:       r.RequestID,
		ProductID:       r.ProductID,
		SessionID:       r.SessionID,
		CreatedAt:       r.CreatedAt.UTC(),
		ConversionValue: r.ConversionValue,
	}
	if r.ClickedAt != nil {
		t := r.ClickedAt.UTC()
		imp.ClickedAt = &t
	}
	return imp
}

type feedbackRow struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id"`
	ProductID   string    `json:"product_id"`
	Relevant    bool      `json:"relevant"`
	Reason      string    `json:"reason,omitempty"`
	UserClicked *bool     `json:"user_clicked,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toFeedbackRow(fb *domimp.Feedback) feedbackRow {
	return feedbackRow{
		ID:          fb.ID,
		RequestID:   fb.RequestID,
		ProductID:   fb.ProductID,
		Relevant:    fb.Relevant,
		Reason:      fb.Reason,
		UserClicked: fb.UserClicked,
		CreatedAt:   fb.CreatedAt.UTC(),
	}
}
