package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
)

const keyPrefix = "messages"

// CloudinaryStore stores message attachments in Cloudinary. Keys look like
// messages/<resource_type>/<uuid>; the embedded resource type lets Delete work
// from the key alone.
type CloudinaryStore struct {
	client *cloudinary.Cloudinary
}

// NewCloudinaryStore builds a store from a CLOUDINARY_URL style connection string.
func NewCloudinaryStore(url string) (*CloudinaryStore, error) {
	if url == "" {
		return nil, fmt.Errorf("cloudinary url is empty")
	}
	client, err := cloudinary.NewFromURL(url)
	if err != nil {
		return nil, fmt.Errorf("cloudinary init: %w", err)
	}
	return &CloudinaryStore{client: client}, nil
}

func (s *CloudinaryStore) Upload(ctx context.Context, data []byte, declaredMime string) (Attachment, error) {
	kind, err := ValidateUpload(declaredMime, len(data))
	if err != nil {
		return Attachment{}, err
	}

	storedMime := declaredMime
	resourceType := "raw"
	if kind == KindImage {
		data, err = NormalizeImage(data)
		if err != nil {
			return Attachment{}, err
		}
		storedMime = NormalizedImageMime
		resourceType = "image"
	}

	key := fmt.Sprintf("%s/%s/%s", keyPrefix, resourceType, uuid.NewString())
	res, err := s.client.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		PublicID:     key,
		ResourceType: resourceType,
	})
	if err != nil {
		return Attachment{}, fmt.Errorf("upload attachment: %w", err)
	}
	if res.Error.Message != "" {
		return Attachment{}, fmt.Errorf("upload attachment: %s", res.Error.Message)
	}
	if res.PublicID != "" {
		key = res.PublicID
	}

	return Attachment{Key: key, StoredMime: storedMime, Kind: kind}, nil
}

func (s *CloudinaryStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	res, err := s.client.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     key,
		ResourceType: resourceTypeFromKey(key),
	})
	if err != nil {
		return fmt.Errorf("delete attachment %s: %w", key, err)
	}
	// "not found" is a success: the artifact is already gone.
	if res.Result != "ok" && res.Result != "not found" {
		return fmt.Errorf("delete attachment %s: %s", key, res.Result)
	}
	return nil
}

func (s *CloudinaryStore) DeleteMany(ctx context.Context, keys []string) map[string]error {
	results := make(map[string]error, len(keys))
	for _, key := range keys {
		results[key] = s.Delete(ctx, key)
	}
	return results
}

func resourceTypeFromKey(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) >= 2 && parts[1] == "raw" {
		return "raw"
	}
	return "image"
}
