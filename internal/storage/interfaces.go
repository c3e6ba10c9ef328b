package storage

import "context"

// Store is the durability surface the rest of the engine depends on. Dir is
// the filesystem implementation; tests substitute in-memory fakes.
type Store interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, pattern string) ([]string, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
}
