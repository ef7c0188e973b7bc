// Package event defines the canonical domain event the engine consumes.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// TriggerType is the closed set of event categories automations subscribe to.
type TriggerType string

const (
	TriggerNewLead      TriggerType = "new_lead"
	TriggerStatusChange TriggerType = "status_change"
	TriggerFieldUpdate  TriggerType = "field_update"
)

// ParseTriggerType validates a wire-format trigger type string.
func ParseTriggerType(s string) (TriggerType, error) {
	switch TriggerType(s) {
	case TriggerNewLead, TriggerStatusChange, TriggerFieldUpdate:
		return TriggerType(s), nil
	}
	return "", fmt.Errorf("unknown trigger type %q", s)
}

// Event is an immutable fact about a lead: created, status changed, or a
// field updated. Payload carries the lead snapshot at the moment the event
// was produced. Events are consumed once by the dispatcher and discarded;
// durability lives in the execution records they give rise to.
type Event struct {
	ID            string            `json:"id,omitempty"`
	TriggerType   TriggerType       `json:"trigger_type"`
	CampaignID    int64             `json:"campaign_id"`
	LeadID        int64             `json:"lead_id"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Payload       map[string]string `json:"payload"`
	PreviousValue string            `json:"previous_value,omitempty"`
	ReceivedAt    time.Time         `json:"-"`
}

// FieldError is a single field's validation failure.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// ValidationError rejects a malformed event. It is never retried.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "invalid event: " + strings.Join(msgs, "; ")
}

// Validate checks the inbound event contract. Events missing a trigger type
// or lead id are rejected with a typed error rather than crashing dispatch.
func Validate(ev *Event) error {
	var errs []FieldError
	if ev.TriggerType == "" {
		errs = append(errs, FieldError{"trigger_type", "required"})
	} else if _, err := ParseTriggerType(string(ev.TriggerType)); err != nil {
		errs = append(errs, FieldError{"trigger_type", err.Error()})
	}
	if ev.LeadID == 0 {
		errs = append(errs, FieldError{"lead_id", "required"})
	}
	if ev.OccurredAt.IsZero() {
		errs = append(errs, FieldError{"occurred_at", "required"})
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// Fingerprint returns the deterministic identifier used to deduplicate
// re-delivered events. The producer-assigned event ID is preferred when set;
// otherwise a hash of (trigger_type, lead_id, occurred_at) is derived.
func (ev *Event) Fingerprint() string {
	if ev.ID != "" {
		return ev.ID
	}
	composite := fmt.Sprintf("%s|%d|%d", ev.TriggerType, ev.LeadID, ev.OccurredAt.UnixNano())
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}
