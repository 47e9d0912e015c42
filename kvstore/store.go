package kvstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get for absent keys.
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("kvstore: backend unavailable")
)

// Store is the narrow storage capability used by the session manager.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
