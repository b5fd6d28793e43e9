package attribution

import (
	"context"
	"time"

	domimp "github.com/kailas-cloud/adtokens/internal/domain/impression"
)

// Store persists impressions and feedback. Save must be idempotent by id.
type Store interface {
	Save(ctx context.Context, imps ...domimp.Impression) error
	Get(ctx context.Context, id string) (*domimp.Impression, error)
	MarkClicked(ctx context.Context, id string, at time.Time) (time.Time, error)
	SetConversion(ctx context.Context, id string, value float64) error
	SaveFeedback(ctx context.Context, fb domimp.Feedback) error
}
