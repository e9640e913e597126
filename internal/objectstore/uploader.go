package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// OrphanRecorder remembers uploaded objects that could not be cleaned up
type OrphanRecorder interface {
	RecordOrphan(key, reason string) error
}

// Uploader uploads images and resolves their download URLs
type Uploader struct {
	store   Store
	orphans OrphanRecorder
}

// NewUploader creates a new Uploader that only logs failed cleanups
func NewUploader(store Store) *Uploader {
	return &Uploader{store: store}
}

const discardTimeout = 30 * time.Second

// NewUploaderWithOrphans creates a new Uploader that records failed cleanups
func NewUploaderWithOrphans(store Store, orphans OrphanRecorder) *Uploader {
	return &Uploader{store: store, orphans: orphans}
}

// UploadImage stores data under folder/name (or name when folder is empty)
// and returns its download URL. The URL is only requested after the upload
// succeeded; if it cannot be resolved the uploaded object is discarded.
func (u *Uploader) UploadImage(ctx context.Context, data []byte, name, folder string) (string, error) {
	if name == "" {
		return "", ErrImageNameMissing
	}
	if len(data) == 0 {
		return "", ErrImageDataMissing
	}

	key := ObjectKey(folder, name)

	if err := u.store.Put(ctx, key, data, http.DetectContentType(data)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	url, err := u.store.URL(ctx, key)
	if err != nil {
		u.Discard(ctx, key, "download url failed")
		return "", fmt.Errorf("%w: %w", ErrDownloadURLFailed, err)
	}
	if url == "" {
		u.Discard(ctx, key, "download url missing")
		return "", ErrDownloadURLMissing
	}

	slog.Info("Uploaded image", "key", key, "size", len(data))
	return url, nil
}

// Discard deletes an uploaded object that no record will reference.
// The delete outlives cancellation of ctx. A failed delete is handed to the
// orphan recorder.
func (u *Uploader) Discard(ctx context.Context, key, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()

	err := u.store.Delete(ctx, key)
	if err == nil {
		slog.Info("Discarded uploaded image", "key", key, "reason", reason)
		return
	}

	slog.Warn("Failed to discard uploaded image", "key", key, "reason", reason, "error", err)
	if u.orphans == nil {
		return
	}
	if err := u.orphans.RecordOrphan(key, reason); err != nil {
		slog.Error("Failed to record orphaned image", "key", key, "error", err)
	}
}

// Delete removes an object directly, without orphan bookkeeping
func (u *Uploader) Delete(ctx context.Context, key string) error {
	return u.store.Delete(ctx, key)
}
