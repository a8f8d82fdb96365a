package port

import "context"

type CacheRepository interface {
	// SetIdempotency claims a request key, returns false if another request already holds it
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key whose request committed nothing, so the caller may retry
	ReleaseIdempotency(ctx context.Context, key string) error
}
