package health

import "context"

// Pinger is any backend answering a liveness ping: Valkey, Qdrant, the shared Redis tier.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
// A nil checker skips the embedding check.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}
