// Package storage provides temporary and persistent file storage capabilities.
// It defines the Storage interface (port) and implementations for local disk
// and S3 storage. Temporary files are handed out through per-worker
// namespaces and per-turn scopes so concurrent workers never share a path.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for temporary and persistent file storage.
type Storage interface {
	// NewNamespace allocates a private temporary directory for one worker.
	// The caller must Close the namespace when the worker is done.
	NewNamespace(ctx context.Context) (*Namespace, error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Move transfers src to dst, creating dst's directory if needed.
	// src no longer exists once Move returns nil.
	Move(ctx context.Context, src, dst string) error

	// UploadToS3 uploads data to S3 and returns the object URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}
