package catalog

import (
	"context"
	"io"
)

// ImageStore is the object storage holding product images
type ImageStore interface {
	// Put stores the object under key, replacing any previous content
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	// URL returns the public address of key, or key itself when no public base is configured
	URL(key string) string
}
