package storage

import "context"

// ObjectStorage archives rendered niche reports.
type ObjectStorage interface {
	// Put writes data under key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Exists reports whether key is stored.
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns the address clients download key from.
	URL(key string) string
}
