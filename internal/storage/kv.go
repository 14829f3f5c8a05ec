// Package storage persists assessment sessions in a key-value backend.
package storage

import (
	"context"
	"errors"
)

var (
	ErrKeyNotFound   = errors.New("key not found")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// KeyValueStore is the minimal contract a session backend must satisfy.
// Implementations must return ErrKeyNotFound for absent keys and treat
// deleting an absent key as success.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}
