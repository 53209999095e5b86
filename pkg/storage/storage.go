// Package storage provides the key-value stores backing round history and
// model snapshots.
package storage

import "context"

// Entry is one stored key and its value.
type Entry struct {
	Key   string
	Value []byte
}

// Storage is an ordered key-value store. List returns entries sorted by key.
type Storage interface {
	Create(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Update(ctx context.Context, key string, value []byte) error
	Put(ctx context.Context, key string, value []byte) error
	List(ctx context.Context, prefix string, offset, limit uint64) ([]Entry, uint64, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
