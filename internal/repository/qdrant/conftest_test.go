package qdrant

import (
	"context"

	"github.com/qdrant/go-client/qdrant"
)

// fakeClient records requests and returns canned points.
type fakeClient struct {
	queryReq  *qdrant.QueryPoints
	getReq    *qdrant.GetPoints
	upsertReq *qdrant.UpsertPoints
	deleteReq *qdrant.DeletePoints
	created   *qdrant.CreateCollection

	scored    []*qdrant.ScoredPoint
	retrieved []*qdrant.RetrievedPoint
	exists    bool
	err       error
	healthErr error
}

func (f *fakeClient) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.queryReq = req
	return f.scored, f.err
}

func (f *fakeClient) Get(_ context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
	f.getReq = req
	return f.retrieved, f.err
}

func (f *fakeClient) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upsertReq = req
	return &qdrant.UpdateResult{}, f.err
}

func (f *fakeClient) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.deleteReq = req
	return &qdrant.UpdateResult{}, f.err
}

func (f *fakeClient) CollectionExists(context.Context, string) (bool, error) {
	return f.exists, f.err
}

func (f *fakeClient) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.created = req
	return f.err
}

func (f *fakeClient) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &qdrant.HealthCheckReply{Title: "qdrant", Version: "1.16.2"}, nil
}

func (f *fakeClient) Close() error { return nil }
