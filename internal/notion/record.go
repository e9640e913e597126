package notion

import (
	"errors"
	"fmt"
	"time"
)

// Placeholders used for freshly captured receipts until someone edits them in Notion
const (
	DefaultStore    = "No Store Specified"
	DefaultCategory = "Not categorized"
)

// Multi-select properties of the receipts database that carry option lists
const (
	StoreProperty    = "Store"
	CategoryProperty = "Category"
)

var (
	// ErrDatabaseIDMissing is returned when no database ID is configured
	ErrDatabaseIDMissing = errors.New("notion database id is missing")
	// ErrRecordIDMissing is returned when a record without an ID is written
	ErrRecordIDMissing = errors.New("receipt record id is missing")
	// ErrInvalidWireObject is returned when a page body cannot be serialized
	ErrInvalidWireObject = errors.New("invalid notion wire object")
	// ErrInvalidResponse is returned when a response body cannot be decoded
	ErrInvalidResponse = errors.New("invalid notion response")
	// ErrRequestFailed is returned for non-success HTTP statuses
	ErrRequestFailed = errors.New("notion request failed")
)

// GenericErrorMessage is reported when an error response carries no readable message
const GenericErrorMessage = "notion returned an unreadable error response"

// RequestError describes a non-success response from the Notion API
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("notion request failed (status %d): %s", e.StatusCode, e.Message)
}

// Unwrap lets callers match with errors.Is(err, ErrRequestFailed)
func (e *RequestError) Unwrap() error {
	return ErrRequestFailed
}

// Record is one receipt row in the Notion database
type Record struct {
	ID           string    `json:"id" validate:"required"`
	Store        string    `json:"store"`
	PurchaseDate time.Time `json:"purchase_date"`
	Category     string    `json:"category"`
	Price        int       `json:"price"` // Price in cents
	ImageURL     string    `json:"image_url"`

	// Image holds decoded image bytes for display; never sent to Notion
	Image []byte `json:"-"`
}

// NewRecord creates a record for a new capture with placeholder store and category
func NewRecord(id string, purchaseDate time.Time) Record {
	return Record{
		ID:           id,
		Store:        DefaultStore,
		PurchaseDate: purchaseDate,
		Category:     DefaultCategory,
	}
}

// DatabaseMetadata is the schema of the receipts database
type DatabaseMetadata struct {
	ID             string                  `json:"id"`
	Parent         string                  `json:"parent"`
	ParentID       string                  `json:"parent_id,omitempty"`
	CreatedTime    *time.Time              `json:"created_time,omitempty"`
	LastEditedTime *time.Time              `json:"last_edited_time,omitempty"`
	Title          string                  `json:"title"`
	MultiSelects   map[string]*MultiSelect `json:"multi_selects"`
}

// MultiSelect is a multi-select property and its allowed options
type MultiSelect struct {
	Name    string   `json:"name"`
	Options []Option `json:"options"`
}

// Option is a single multi-select choice
type Option struct {
	Color string `json:"color"`
	ID    string `json:"id"`
	Name  string `json:"name"`
}

// AddOption appends an option to the named multi-select, creating it on first use
func (m *DatabaseMetadata) AddOption(property string, opt Option) {
	if m.MultiSelects == nil {
		m.MultiSelects = make(map[string]*MultiSelect)
	}
	ms, ok := m.MultiSelects[property]
	if !ok {
		ms = &MultiSelect{Name: property}
		m.MultiSelects[property] = ms
	}
	ms.Options = append(ms.Options, opt)
}

// OptionNames returns the option names of a multi-select property
func (m *DatabaseMetadata) OptionNames(property string) []string {
	ms, ok := m.MultiSelects[property]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(ms.Options))
	for _, opt := range ms.Options {
		names = append(names, opt.Name)
	}
	return names
}
