// Package impression persists attribution records: in memory, in Valkey, or in Supabase.
package impression

import (
	"context"
	"sync"
	"time"

	"github.com/kailas-cloud/adtokens/internal/domain"
	domimp "github.com/kailas-cloud/adtokens/internal/domain/impression"
)

// MemoryStore keeps impressions in process. Single-instance deployments and tests.
type MemoryStore struct {
	mu          sync.Mutex
	impressions map[string]domimp.Impression
	feedback    map[string]domimp.Feedback
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		impressions: make(map[string]domimp.Impression),
		feedback:    make(map[string]domimp.Feedback),
	}
}

// Save inserts impressions. Re-saving an id keeps any recorded click or conversion.
func (s *MemoryStore) Save(_ context.Context, imps ...domimp.Impression) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, imp := range imps {
		if cur, ok := s.impressions[imp.ID]; ok {
			imp.ClickedAt = cur.ClickedAt
			imp.ConversionValue = cur.ConversionValue
		}
		s.impressions[imp.ID] = imp
	}
	return nil
}

// Get returns a copy of the impression.
func (s *MemoryStore) Get(_ context.Context, id string) (*domimp.Impression, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	imp, ok := s.impressions[id]
	if !ok {
		return nil, domain.ErrImpressionNotFound
	}
	return &imp, nil
}

// MarkClicked sets clicked_at once and returns the effective timestamp.
func (s *MemoryStore) MarkClicked(_ context.Context, id string, at time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	imp, ok := s.impressions[id]
	if !ok {
		return time.Time{}, domain.ErrImpressionNotFound
	}
	if imp.ClickedAt == nil {
		imp.ClickedAt = &at
		s.impressions[id] = imp
	}
	return *imp.ClickedAt, nil
}

// SetConversion overwrites the conversion value of a clicked impression.
func (s *MemoryStore) SetConversion(_ context.Context, id string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	imp, ok := s.impressions[id]
	if !ok {
		return domain.ErrImpressionNotFound
	}
	if imp.ClickedAt == nil {
		return domain.ErrClickRequired
	}
	imp.ConversionValue = &value
	s.impressions[id] = imp
	return nil
}

// SaveFeedback stores a feedback record.
func (s *MemoryStore) SaveFeedback(_ context.Context, fb domimp.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[fb.ID] = fb
	return nil
}

// Len returns the number of stored impressions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.impressions)
}
