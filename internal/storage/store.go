// Package storage owns the attachment lifecycle: policy checks, image
// normalization and the object-store adapter messages upload into.
package storage

import "context"

// Attachment describes a stored artifact. Key is opaque to callers and
// resolvable to a public URL by the object-store adapter.
type Attachment struct {
	Key        string `json:"key"`
	StoredMime string `json:"stored_mime"`
	Kind       string `json:"kind"`
}

// Store abstracts the attachment object store. Upload validates the buffer
// against the type/size policy and normalizes images before storing. Delete
// on a missing key succeeds silently; DeleteMany reports per-key outcomes and
// never stops at the first failure.
type Store interface {
	Upload(ctx context.Context, data []byte, declaredMime string) (Attachment, error)
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) map[string]error
}
