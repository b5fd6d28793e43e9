package impression

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/adtokens/internal/domain"
	domimp "github.com/kailas-cloud/adtokens/internal/domain/impression"
)

func newImp(id string) domimp.Impression {
	return domimp.Impression{
		ID:        id,
		RequestID: "req-1",
		ProductID: "p1",
		SessionID: "s1",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestMemoryStore_ClickOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Save(ctx, newImp("i1")); err != nil {
		t.Fatal(err)
	}

	first := time.Date(2026, 1, 2, 4, 0, 0, 0, time.UTC)
	got, err := s.MarkClicked(ctx, "i1", first)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(first) {
		t.Errorf("clicked_at = %v, want %v", got, first)
	}

	again, err := s.MarkClicked(ctx, "i1", first.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !again.Equal(first) {
		t.Errorf("repeat click returned %v, want original %v", again, first)
	}
}

func TestMemoryStore_ResaveKeepsClick(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Save(ctx, newImp("i1"))
	at := time.Now().UTC()
	if _, err := s.MarkClicked(ctx, "i1", at); err != nil {
		t.Fatal(err)
	}
	_ = s.Save(ctx, newImp("i1"))

	imp, err := s.Get(ctx, "i1")
	if err != nil {
		t.Fatal(err)
	}
	if !imp.Clicked() {
		t.Error("retried save cleared the click")
	}
}

func TestMemoryStore_Missing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, domain.ErrImpressionNotFound) {
		t.Errorf("Get: %v", err)
	}
	if _, err := s.MarkClicked(ctx, "nope", time.Now()); !errors.Is(err, domain.ErrImpressionNotFound) {
		t.Errorf("MarkClicked: %v", err)
	}
	if err := s.SetConversion(ctx, "nope", 1); !errors.Is(err, domain.ErrImpressionNotFound) {
		t.Errorf("SetConversion: %v", err)
	}
	if s.Len() != 0 {
		t.Error("operations on a missing id must not create records")
	}
}

func TestMemoryStore_Conversion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Save(ctx, newImp("i1"))

	if err := s.SetConversion(ctx, "i1", 10); !errors.Is(err, domain.ErrClickRequired) {
		t.Fatalf("expected ErrClickRequired, got %v", err)
	}
	_, _ = s.MarkClicked(ctx, "i1", time.Now())
	_ = s.SetConversion(ctx, "i1", 10)
	_ = s.SetConversion(ctx, "i1", 25.5)

	imp, _ := s.Get(ctx, "i1")
	if imp.ConversionValue == nil || *imp.ConversionValue != 25.5 {
		t.Errorf("conversion = %v, want last write 25.5", imp.ConversionValue)
	}
}

func TestMemoryStore_ConcurrentClicks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Save(ctx, newImp("i1"))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	results := make([]time.Time, 50)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = s.MarkClicked(ctx, "i1", base.Add(time.Duration(i)*time.Second))
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if !results[i].Equal(results[0]) {
			t.Fatalf("clicks disagree: %v vs %v", results[i], results[0])
		}
	}
}
