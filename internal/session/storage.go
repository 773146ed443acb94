package session

import (
	"context"
	"time"
)

// Storage is a key/value byte store. Get on a missing or expired key
// returns sentinel.ErrNotFound.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
