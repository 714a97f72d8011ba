package types

import "time"

// Dose marks product use within a protocol.
type Dose struct {
	ID         string    `json:"id"`
	ProtocolID string    `json:"protocol_id"`
	BottleID   string    `json:"bottle_id"`
	Timestamp  time.Time `json:"timestamp"`
	DayNumber  int       `json:"day_number"`
	Notes      *string   `json:"notes"` // Free text; never leaves the device.
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks the dose references.
func (d *Dose) Validate() error {
	if d.ProtocolID == "" {
		return Invalid("protocol_id", "must not be empty")
	}
	if d.BottleID == "" {
		return Invalid("bottle_id", "must not be empty")
	}
	if d.DayNumber < 0 {
		return Invalid("day_number", "must not be negative, got %d", d.DayNumber)
	}
	return nil
}
