package storage

import (
	"context"
	"errors"
)

// ErrStorageDisabled is returned for uploads when no object store is
// configured. Deletes succeed silently so message deletion still converges.
var ErrStorageDisabled = errors.New("attachment storage is not configured")

// DisabledStore rejects uploads and ignores deletes. It stands in for the
// object store in environments without attachment support.
type DisabledStore struct{}

func NewDisabledStore() DisabledStore {
	return DisabledStore{}
}

func (DisabledStore) Upload(ctx context.Context, data []byte, declaredMime string) (Attachment, error) {
	return Attachment{}, ErrStorageDisabled
}

func (DisabledStore) Delete(ctx context.Context, key string) error {
	return nil
}

func (DisabledStore) DeleteMany(ctx context.Context, keys []string) map[string]error {
	result := make(map[string]error, len(keys))
	for _, key := range keys {
		result[key] = nil
	}
	return result
}

var _ Store = DisabledStore{}
