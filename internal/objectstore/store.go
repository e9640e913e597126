package objectstore

import (
	"context"
	"errors"
)

var (
	// ErrImageNameMissing is returned when an upload has no object name
	ErrImageNameMissing = errors.New("image name is missing")
	// ErrImageDataMissing is returned when an upload has no bytes
	ErrImageDataMissing = errors.New("image data is missing")
	// ErrUploadFailed is returned when the object could not be written
	ErrUploadFailed = errors.New("image upload failed")
	// ErrDownloadURLFailed is returned when the download URL could not be resolved
	ErrDownloadURLFailed = errors.New("resolving download url failed")
	// ErrDownloadURLMissing is returned when resolution succeeded without a URL
	ErrDownloadURLMissing = errors.New("download url is missing")
	// ErrObjectNotFound is returned by backends for keys that do not exist
	ErrObjectNotFound = errors.New("object not found")
)

// Store defines the interface for object storage backends
type Store interface {
	// Put writes data under key
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// URL resolves the public download location of key
	URL(ctx context.Context, key string) (string, error)

	// Delete removes key
	Delete(ctx context.Context, key string) error
}

// ObjectKey joins an optional folder and a name into a storage key
func ObjectKey(folder, name string) string {
	if folder == "" {
		return name
	}
	return folder + "/" + name
}
