package types

import (
	"strings"
	"time"
)

// Protocol states.
const (
	ProtocolActive    = "active"
	ProtocolPaused    = "paused"
	ProtocolCompleted = "completed"
)

// validProtocolStates is the set of recognized protocol state values.
var validProtocolStates = map[string]bool{
	ProtocolActive:    true,
	ProtocolPaused:    true,
	ProtocolCompleted: true,
}

// SessionIDPrefix starts every anonymized session identifier.
const SessionIDPrefix = "anon_"

// Protocol is a bounded-duration journaling program tied to one Bottle.
type Protocol struct {
	ID           string    `json:"id"`            // UUID v7, generated on creation.
	BottleID     string    `json:"bottle_id"`     // Owning bottle.
	SessionID    string    `json:"session_id"`    // One-way identity derived from the bottle token.
	ProductID    string    `json:"product_id"`    // Copied from the bottle at start.
	ProductName  string    `json:"product_name"`  // Copied from the bottle at start.
	StartDate    time.Time `json:"start_date"`    // Day the protocol began.
	Status       string    `json:"status"`        // One of the Protocol state constants.
	ScheduleType *string   `json:"schedule_type"` // Optional dosing schedule label.
	TotalDays    int       `json:"total_days"`    // Length of the program.
	CurrentDay   int       `json:"current_day"`   // 0 before the first day, TotalDays when done.
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AdvanceDay moves the protocol one day forward. Reaching TotalDays marks
// the protocol completed; CurrentDay never exceeds TotalDays.
// Returns ErrInvalidTransition unless the protocol is active.
func (p *Protocol) AdvanceDay() error {
	if p.Status != ProtocolActive {
		return ErrInvalidTransition
	}
	if p.CurrentDay < p.TotalDays {
		p.CurrentDay++
	}
	if p.CurrentDay >= p.TotalDays {
		p.CurrentDay = p.TotalDays
		p.Status = ProtocolCompleted
	}
	p.UpdatedAt = time.Now()
	return nil
}

// Pause suspends an active protocol. Idempotent for paused protocols.
func (p *Protocol) Pause() error {
	switch p.Status {
	case ProtocolPaused:
		return nil
	case ProtocolActive:
		p.Status = ProtocolPaused
		p.UpdatedAt = time.Now()
		return nil
	default:
		return ErrInvalidTransition
	}
}

// Resume reactivates a paused protocol. Idempotent for active protocols.
func (p *Protocol) Resume() error {
	switch p.Status {
	case ProtocolActive:
		return nil
	case ProtocolPaused:
		p.Status = ProtocolActive
		p.UpdatedAt = time.Now()
		return nil
	default:
		return ErrInvalidTransition
	}
}

// Validate checks required fields and the day invariant. Status is not
// re-derived from CurrentDay: only AdvanceDay completes a protocol.
func (p *Protocol) Validate() error {
	if p.BottleID == "" {
		return Invalid("bottle_id", "must not be empty")
	}
	if !strings.HasPrefix(p.SessionID, SessionIDPrefix) {
		return Invalid("session_id", "must be a derived session id")
	}
	if !validProtocolStates[p.Status] {
		return Invalid("status", "unknown state %q", p.Status)
	}
	if p.TotalDays < 1 {
		return Invalid("total_days", "must be at least 1, got %d", p.TotalDays)
	}
	if p.CurrentDay < 0 || p.CurrentDay > p.TotalDays {
		return Invalid("current_day", "must be within [0, %d], got %d", p.TotalDays, p.CurrentDay)
	}
	return nil
}
