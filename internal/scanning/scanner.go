package scanning

import (
	"context"
	"math"
)

// ReceiptData contains fields read off a receipt image
type ReceiptData struct {
	Store    string  `json:"store"`
	Category string  `json:"category"`
	Date     string  `json:"date"` // ISO 8601 format
	Total    float64 `json:"total"`
}

// PriceCents returns the total in cents
func (d *ReceiptData) PriceCents() int {
	return int(math.Round(d.Total * 100))
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt reads store, category, date and total from a JPEG receipt photo
	ScanReceipt(ctx context.Context, imageData []byte) (*ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}
