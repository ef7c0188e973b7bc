// Package record tracks one automation's progress against one event. Records
// provide idempotent re-delivery protection and the audit trail the run
// history UI reads.
package record

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leadkit/automation/internal/event"
)

// Status is the execution record state machine:
// pending → (action loop) → retrying ⇄ pending → succeeded,
// or → failed (terminal) on permanent error or retry exhaustion.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s admits no further execution.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ExecutionRecord is keyed by (automation_id, fingerprint); the key carries
// the at-most-one-full-execution guarantee. ActionIndex is the next action
// to run, so a restarted executor resumes mid-list instead of re-running
// actions that already succeeded.
type ExecutionRecord struct {
	ID           int64             `json:"id"`
	AutomationID int64             `json:"automation_id"`
	Fingerprint  string            `json:"event_fingerprint"`
	LeadID       int64             `json:"lead_id"`
	TriggerType  event.TriggerType `json:"trigger_type"`
	ActionIndex  int               `json:"action_index"`
	Status       Status            `json:"status"`
	AttemptCount int               `json:"attempt_count"`
	LastError    string            `json:"last_error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("execution record not found")

// DuplicateError is returned by Create when a record with the same
// (automation_id, fingerprint) key already exists. Existing holds the
// record that owns the key so the caller can decide whether to resume it.
type DuplicateError struct {
	Existing *ExecutionRecord
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("execution record for automation %d and fingerprint %s already exists (status %s)",
		e.Existing.AutomationID, e.Existing.Fingerprint, e.Existing.Status)
}

// Store persists execution records.
type Store interface {
	// Create inserts r and assigns its ID. If the (automation_id,
	// fingerprint) key is taken it returns a *DuplicateError.
	Create(ctx context.Context, r *ExecutionRecord) error
	Update(ctx context.Context, r *ExecutionRecord) error
	Get(ctx context.Context, id int64) (*ExecutionRecord, error)
	// ListByAutomation returns the most recent records first.
	ListByAutomation(ctx context.Context, automationID int64, limit int) ([]*ExecutionRecord, error)
}
