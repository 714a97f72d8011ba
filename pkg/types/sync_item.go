package types

import (
	"encoding/json"
	"time"
)

// Sync queue item states. Delivered items are deleted, so there is no
// "delivered" state.
const (
	SyncPending = "pending"
	SyncDead    = "dead"
)

// SyncItem is one anonymized payload waiting in the outbox. EntryID is a
// weak reference: deleting the entry deletes its items.
type SyncItem struct {
	ID            string          `json:"id"`
	EntryID       string          `json:"entry_id"`
	Payload       json.RawMessage `json:"payload"` // Serialized anonymized metrics only.
	Attempts      int             `json:"attempts"`
	LastError     *string         `json:"last_error"`
	Status        string          `json:"status"`
	LastAttemptAt *time.Time      `json:"last_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RecordFailure counts a failed delivery. Once attempts reach maxAttempts
// the item is dead and no longer retried automatically.
func (s *SyncItem) RecordFailure(err error, at time.Time, maxAttempts int) {
	s.Attempts++
	msg := err.Error()
	s.LastError = &msg
	s.LastAttemptAt = &at
	if s.Attempts >= maxAttempts {
		s.Status = SyncDead
	}
}

// Eligible reports whether the item may be delivered again.
func (s *SyncItem) Eligible(maxAttempts int) bool {
	return s.Status == SyncPending && s.Attempts < maxAttempts
}

// Revive resets a dead item so the next drain picks it up again.
func (s *SyncItem) Revive() {
	s.Status = SyncPending
	s.Attempts = 0
	s.LastError = nil
}

// Validate checks the entry reference, payload and state.
func (s *SyncItem) Validate() error {
	if s.EntryID == "" {
		return Invalid("entry_id", "must not be empty")
	}
	if len(s.Payload) == 0 || !json.Valid(s.Payload) {
		return Invalid("payload", "must be a JSON document")
	}
	if s.Status != SyncPending && s.Status != SyncDead {
		return Invalid("status", "unknown state %q", s.Status)
	}
	if s.Attempts < 0 {
		return Invalid("attempts", "must not be negative, got %d", s.Attempts)
	}
	return nil
}
