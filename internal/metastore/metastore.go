// Package metastore defines the key/value + set abstraction used to persist
// session metadata and the per-instance session index, and provides two
// concrete backends (Redis, SQLite) behind the same interface.
package metastore

import "context"

// Store is the primitive set the core relies on. No transactional
// guarantees are required across keys or across a single set/key pair — see
// the Sweeper's self-healing behavior for how the design tolerates that.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SPop(ctx context.Context, key string) (string, bool, error)

	Close() error
}
