package types

import (
	"strings"
	"time"
)

// Bottle is the local record of a scanned physical product. It holds the
// only copy of the token linking the product to the user.
type Bottle struct {
	ID             string    `json:"id"`               // UUID v7, generated on creation.
	BottleToken    string    `json:"bottle_token"`     // Scanned QR token; never leaves the device.
	ProductID      string    `json:"product_id"`       // Catalog product identifier.
	ProductName    string    `json:"product_name"`     // Human-readable product name.
	BatchID        *string   `json:"batch_id"`         // Manufacturing batch, when printed on the label.
	FirstScannedAt time.Time `json:"first_scanned_at"` // Time of the first scan.
	LastScannedAt  time.Time `json:"last_scanned_at"`  // Time of the most recent scan.
	ScanCount      int       `json:"scan_count"`       // Number of scans, at least 1.
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RecordScan registers another scan of the bottle at the given time.
// LastScannedAt never moves before FirstScannedAt.
func (b *Bottle) RecordScan(at time.Time) {
	if b.ScanCount < 1 {
		b.ScanCount = 1
		b.FirstScannedAt = at
		b.LastScannedAt = at
		return
	}
	b.ScanCount++
	if at.After(b.LastScannedAt) {
		b.LastScannedAt = at
	}
}

// Validate checks required fields and the scan invariants.
func (b *Bottle) Validate() error {
	if strings.TrimSpace(b.BottleToken) == "" {
		return Invalid("bottle_token", "must not be empty")
	}
	if strings.TrimSpace(b.ProductID) == "" {
		return Invalid("product_id", "must not be empty")
	}
	if strings.TrimSpace(b.ProductName) == "" {
		return Invalid("product_name", "must not be empty")
	}
	if b.ScanCount < 1 {
		return Invalid("scan_count", "must be at least 1, got %d", b.ScanCount)
	}
	if b.LastScannedAt.Before(b.FirstScannedAt) {
		return Invalid("last_scanned_at", "must not precede first_scanned_at")
	}
	return nil
}
