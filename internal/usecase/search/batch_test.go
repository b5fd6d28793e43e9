package search

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/adtokens/internal/domain"
	"github.com/kailas-cloud/adtokens/internal/domain/search/query"
)

func TestBatch_InlineErrors(t *testing.T) {
	svc := newTestService(&fakeIndex{hits: fiveHits()}, &fakeEmbedder{}, &fakeStamper{})

	_, badErr := query.New(query.Params{Query: ""})
	items := []BatchItem{
		{Descriptor: mustQuery(t, query.Params{Query: "a", Limit: "2"})},
		{Err: badErr},
		{Descriptor: mustQuery(t, query.Params{Query: "b", Limit: "1"})},
	}

	out, err := svc.Batch(context.Background(), items)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("outcomes = %d", len(out))
	}
	if out[0].Err != nil || len(out[0].Result.Items) != 2 {
		t.Errorf("out[0] = %+v", out[0])
	}
	if !errors.Is(out[1].Err, domain.ErrInvalidInput) {
		t.Errorf("out[1].Err = %v", out[1].Err)
	}
	if out[2].Err != nil || len(out[2].Result.Items) != 1 {
		t.Errorf("out[2] = %+v", out[2])
	}
	if out[0].Result.RequestID == out[2].Result.RequestID {
		t.Error("each query gets its own request id")
	}
}

func TestBatch_Size(t *testing.T) {
	svc := newTestService(&fakeIndex{}, &fakeEmbedder{}, &fakeStamper{})

	if _, err := svc.Batch(context.Background(), nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty batch: %v", err)
	}
	items := make([]BatchItem, DefaultMaxBatch+1)
	if _, err := svc.Batch(context.Background(), items); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("oversize batch: %v", err)
	}
}

func TestBatch_OneFailureDoesNotCancelOthers(t *testing.T) {
	emb := &fakeEmbedder{errs: []error{errors.New("x"), errors.New("x")}}
	svc := newTestService(&fakeIndex{hits: fiveHits()}, emb, &fakeStamper{})
	svc.cfg.BatchConcurrency = 1

	out, err := svc.Batch(context.Background(), []BatchItem{
		{Descriptor: mustQuery(t, query.Params{Query: "first"})},
		{Descriptor: mustQuery(t, query.Params{Query: "second"})},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(out[0].Err, domain.ErrEmbeddingUnavailable) {
		t.Errorf("out[0].Err = %v", out[0].Err)
	}
	if out[1].Err != nil {
		t.Errorf("second query failed too: %v", out[1].Err)
	}
}
