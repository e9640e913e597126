package receipt

import (
	"errors"
	"time"
)

var (
	// ErrNoCamera is returned when capturing without a configured device
	ErrNoCamera = errors.New("no capture device configured")
	// ErrRecordNotFound is returned for IDs not in the session list
	ErrRecordNotFound = errors.New("record not found")
	// ErrNoImage is returned when a record has no image to show
	ErrNoImage = errors.New("record has no image")
	// ErrImageFetchFailed is returned when a record image cannot be downloaded
	ErrImageFetchFailed = errors.New("fetching record image failed")
)

// Stage is a step of adding a receipt
type Stage string

const (
	StageUploading Stage = "uploading"
	StageAdding    Stage = "adding"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

// Progress reports the stage of one receipt being added
type Progress struct {
	ID    string    `json:"id"`
	Stage Stage     `json:"stage"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// ProgressFunc receives progress updates. It is called from the goroutine
// adding the receipt and must not block.
type ProgressFunc func(Progress)

// Sweep summarizes an orphan sweep
type Sweep struct {
	Deleted   []string `json:"deleted"`
	Remaining []string `json:"remaining"`
}
