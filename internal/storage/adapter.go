package storage

import (
	"context"
	"io"
	"time"
)

// Namespace is a logical partition of storage with independent retention
// rules: temp holds submitted inputs, output holds per-job result trees.
type Namespace string

const (
	NamespaceTemp   Namespace = "temp"
	NamespaceOutput Namespace = "output"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Namespace    Namespace
	Key          string
	Size         int64
	LastModified time.Time
}

// Adapter is the uniform interface over the hierarchical byte-blob store.
// Both the filesystem and the object-store implementations satisfy it with
// identical semantics, which is what lets API, worker and cleanup processes
// run on different machines under the object backends.
//
// Keys are slash-separated and job-scoped for outputs ({job_id}/{filename}).
type Adapter interface {
	// Backend identifies the active implementation (local, minio, s3).
	Backend() string

	// Save writes an object, overwriting any existing object at the key.
	Save(ctx context.Context, ns Namespace, key string, r io.Reader, size int64) error

	// Read returns the full object content.
	Read(ctx context.Context, ns Namespace, key string) ([]byte, error)

	// DownloadToLocal materializes the object on local disk under destDir and
	// returns the local path. The local backend returns its own path without
	// copying.
	DownloadToLocal(ctx context.Context, ns Namespace, key, destDir string) (string, error)

	// UploadFromLocal stores a local file at the given key.
	UploadFromLocal(ctx context.Context, localPath string, ns Namespace, key string) error

	// Delete removes a single object. Deleting a missing object is not an error.
	Delete(ctx context.Context, ns Namespace, key string) error

	// DeletePrefix removes every object under the prefix.
	DeletePrefix(ctx context.Context, ns Namespace, prefix string) error

	// List enumerates objects under the prefix. The listing is a snapshot;
	// a fresh call re-lists.
	List(ctx context.Context, ns Namespace, prefix string) ([]ObjectInfo, error)

	// Exists checks whether an object is present.
	Exists(ctx context.Context, ns Namespace, key string) (bool, error)
}
