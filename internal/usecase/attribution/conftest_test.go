package attribution

import (
	"context"
	"sync"
	"time"

	"github.com/kailas-cloud/adtokens/internal/domain"
	domimp "github.com/kailas-cloud/adtokens/internal/domain/impression"
)

// mockStore is an in-memory Store; saveErrs fail the next Save calls in order.
type mockStore struct {
	mu        sync.Mutex
	imps      map[string]domimp.Impression
	feedback  []domimp.Feedback
	saveErrs  []error
	saveCalls int
	saved     chan struct{}
}

func newMockStore() *mockStore {
	return &mockStore{imps: make(map[string]domimp.Impression), saved: make(chan struct{}, 64)}
}

func (m *mockStore) Save(_ context.Context, imps ...domimp.Impression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if len(m.saveErrs) > 0 {
		err := m.saveErrs[0]
		m.saveErrs = m.saveErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, imp := range imps {
		m.imps[imp.ID] = imp
	}
	select {
	case m.saved <- struct{}{}:
	default:
	}
	return nil
}

func (m *mockStore) Get(_ context.Context, id string) (*domimp.Impression, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.imps[id]
	if !ok {
		return nil, domain.ErrImpressionNotFound
	}
	return &imp, nil
}

func (m *mockStore) MarkClicked(_ context.Context, id string, at time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.imps[id]
	if !ok {
		return time.Time{}, domain.ErrImpressionNotFound
	}
	if imp.ClickedAt == nil {
		imp.ClickedAt = &at
		m.imps[id] = imp
	}
	return *imp.ClickedAt, nil
}

func (m *mockStore) SetConversion(_ context.Context, id string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.imps[id]
	if !ok {
		return domain.ErrImpressionNotFound
	}
	if imp.ClickedAt == nil {
		return domain.ErrClickRequired
	}
	imp.ConversionValue = &value
	m.imps[id] = imp
	return nil
}

func (m *mockStore) SaveFeedback(_ context.Context, fb domimp.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, fb)
	return nil
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.imps)
}
