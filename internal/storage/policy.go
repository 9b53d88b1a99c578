package storage

import (
	"errors"
	"fmt"
)

// Attachment kinds persisted alongside storage keys.
const (
	KindImage    = "image"
	KindDocument = "document"
	KindArchive  = "archive"
	KindMedia    = "media"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
)

// Size limits in bytes. Images are capped lower because they are re-encoded
// before upload anyway.
const (
	ImageSizeLimit = 5 << 20
	FileSizeLimit  = 20 << 20
)

var kindByMime = map[string]string{
	"image/jpeg": KindImage,
	"image/png":  KindImage,
	"image/gif":  KindImage,
	"image/webp": KindImage,

	"application/pdf":    KindDocument,
	"application/msword": KindDocument,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": KindDocument,
	"application/vnd.ms-excel": KindDocument,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       KindDocument,
	"application/vnd.ms-powerpoint":                                           KindDocument,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": KindDocument,
	"text/plain": KindDocument,
	"text/csv":   KindDocument,

	"application/zip":              KindArchive,
	"application/x-rar-compressed": KindArchive,

	"audio/mpeg":      KindMedia,
	"audio/wav":       KindMedia,
	"audio/ogg":       KindMedia,
	"audio/mp4":       KindMedia,
	"audio/x-m4a":     KindMedia,
	"video/mp4":       KindMedia,
	"video/webm":      KindMedia,
	"video/quicktime": KindMedia,
}

// Classify maps a declared MIME type to an attachment kind.
func Classify(mimeType string) (string, bool) {
	kind, ok := kindByMime[mimeType]
	return kind, ok
}

// SizeLimit returns the byte cap for the given kind.
func SizeLimit(kind string) int {
	if kind == KindImage {
		return ImageSizeLimit
	}
	return FileSizeLimit
}

// ValidateUpload checks the declared type and size against the policy and
// returns the attachment kind.
func ValidateUpload(mimeType string, size int) (string, error) {
	kind, ok := Classify(mimeType)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, mimeType)
	}
	if limit := SizeLimit(kind); size > limit {
		return "", fmt.Errorf("%w: %d bytes exceeds %d byte limit", ErrFileTooLarge, size, limit)
	}
	return kind, nil
}
