package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const capturedDir = "captured"

// DirDevice captures images dropped into a spool directory, such as a phone
// sync folder or a document scanner's output. Each capture consumes the most
// recent file by moving it into the captured/ subdirectory.
type DirDevice struct {
	dir   string
	focus Point
}

// NewDirDevice creates a new DirDevice watching dir
func NewDirDevice(dir string) *DirDevice {
	return &DirDevice{dir: dir, focus: Point{X: 0.5, Y: 0.5}}
}

// Configure creates the spool directories
func (d *DirDevice) Configure(_ context.Context) error {
	if err := os.MkdirAll(filepath.Join(d.dir, capturedDir), 0755); err != nil {
		return fmt.Errorf("creating spool directory: %w", err)
	}
	return nil
}

// Capture reads and consumes the newest image in the spool directory
func (d *DirDevice) Capture(_ context.Context) (Frame, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return Frame{}, fmt.Errorf("reading spool directory: %w", err)
	}

	var (
		newest   string
		newestAt time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if ContentTypeFor(entry.Name()) == "application/octet-stream" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestAt) {
			newest, newestAt = entry.Name(), info.ModTime()
		}
	}
	if newest == "" {
		return Frame{}, ErrNoFrame
	}

	src := filepath.Join(d.dir, newest)
	data, err := os.ReadFile(src)
	if err != nil {
		return Frame{}, fmt.Errorf("reading %s: %w", newest, err)
	}
	if err := os.Rename(src, filepath.Join(d.dir, capturedDir, newest)); err != nil {
		return Frame{}, fmt.Errorf("consuming %s: %w", newest, err)
	}

	slog.Info("Captured image from spool", "file", newest, "size", len(data))
	return Frame{Data: data, ContentType: ContentTypeFor(newest)}, nil
}

// Focus remembers the requested point; files have nothing to refocus
func (d *DirDevice) Focus(_ context.Context, point Point) error {
	d.focus = point
	slog.Debug("Focus point set", "x", point.X, "y", point.Y)
	return nil
}

// FocusPoint returns the last focus point
func (d *DirDevice) FocusPoint() Point {
	return d.focus
}
