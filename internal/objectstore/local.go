package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStore implements the Store interface using the local filesystem.
// Objects are expected to be served over HTTP below publicURL.
type LocalStore struct {
	basePath  string
	publicURL string
}

// NewLocalStore creates a new LocalStore instance
func NewLocalStore(basePath, publicURL string) (*LocalStore, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStore{
		basePath:  basePath,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// Root returns the directory objects are written to
func (l *LocalStore) Root() string {
	return l.basePath
}

// Put writes an object to local storage
func (l *LocalStore) Put(_ context.Context, key string, data []byte, _ string) error {
	fullPath, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("creating folder: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// URL returns the public URL of an object that exists on disk
func (l *LocalStore) URL(_ context.Context, key string) (string, error) {
	fullPath, err := l.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return "", fmt.Errorf("checking file: %w", err)
	}
	if l.publicURL == "" {
		return "", nil
	}

	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return l.publicURL + "/" + strings.Join(segments, "/"), nil
}

// Delete removes an object from local storage. Missing objects are not an error.
func (l *LocalStore) Delete(_ context.Context, key string) error {
	fullPath, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// path maps a key to a file below basePath, rejecting keys that escape it
func (l *LocalStore) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || clean != "/"+key {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(l.basePath, filepath.FromSlash(clean)), nil
}
