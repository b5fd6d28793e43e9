package resultcache

import (
	"context"
	"time"

	"github.com/kailas-cloud/adtokens/internal/domain/search/candidate"
)

// Shared is the optional cross-instance tier. Implementations swallow their own errors.
type Shared interface {
	Get(ctx context.Context, key string) ([]candidate.Candidate, bool)
	Set(ctx context.Context, key string, list []candidate.Candidate, ttl time.Duration)
}
