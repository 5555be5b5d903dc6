package adapter

import "context"

// ArtifactStore persists inline artifacts returned by synchronous providers.
type ArtifactStore interface {
	// Put stores data under key and returns a stable reference (URL) to it.
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}
