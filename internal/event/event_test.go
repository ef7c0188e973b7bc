package event

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseTriggerType(t *testing.T) {
	for _, tc := range []struct {
		input   string
		want    TriggerType
		wantErr bool
	}{
		{"new_lead", TriggerNewLead, false},
		{"status_change", TriggerStatusChange, false},
		{"field_update", TriggerFieldUpdate, false},
		{"NEW_LEAD", "", true},
		{"deleted", "", true},
		{"", "", true},
	} {
		got, err := ParseTriggerType(tc.input)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseTriggerType(%q) err = %v, wantErr %v", tc.input, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseTriggerType(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name       string
		ev         Event
		wantFields []string
	}{
		{
			name: "valid",
			ev:   Event{TriggerType: TriggerNewLead, LeadID: 7, OccurredAt: now},
		},
		{
			name:       "missing trigger type",
			ev:         Event{LeadID: 7, OccurredAt: now},
			wantFields: []string{"trigger_type"},
		},
		{
			name:       "unknown trigger type",
			ev:         Event{TriggerType: "lead_deleted", LeadID: 7, OccurredAt: now},
			wantFields: []string{"trigger_type"},
		},
		{
			name:       "missing lead id",
			ev:         Event{TriggerType: TriggerNewLead, OccurredAt: now},
			wantFields: []string{"lead_id"},
		},
		{
			name:       "missing everything",
			ev:         Event{},
			wantFields: []string{"trigger_type", "lead_id", "occurred_at"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.ev)
			if len(tc.wantFields) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if len(verr.Fields) != len(tc.wantFields) {
				t.Fatalf("got %d field errors, want %d: %v", len(verr.Fields), len(tc.wantFields), verr)
			}
			for i, f := range tc.wantFields {
				if verr.Fields[i].Field != f {
					t.Errorf("field error %d = %q, want %q", i, verr.Fields[i].Field, f)
				}
			}
			if !strings.Contains(verr.Error(), tc.wantFields[0]) {
				t.Errorf("Error() = %q, want mention of %q", verr.Error(), tc.wantFields[0])
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("prefers event id", func(t *testing.T) {
		ev := Event{ID: "evt-123", TriggerType: TriggerNewLead, LeadID: 1, OccurredAt: at}
		if got := ev.Fingerprint(); got != "evt-123" {
			t.Errorf("Fingerprint() = %q, want evt-123", got)
		}
	})

	t.Run("deterministic composite", func(t *testing.T) {
		a := Event{TriggerType: TriggerStatusChange, LeadID: 42, OccurredAt: at}
		b := Event{TriggerType: TriggerStatusChange, LeadID: 42, OccurredAt: at}
		if a.Fingerprint() != b.Fingerprint() {
			t.Error("same trigger/lead/time should produce equal fingerprints")
		}
		if len(a.Fingerprint()) != 64 {
			t.Errorf("composite fingerprint length = %d, want 64 hex chars", len(a.Fingerprint()))
		}
	})

	t.Run("distinct inputs differ", func(t *testing.T) {
		a := Event{TriggerType: TriggerStatusChange, LeadID: 42, OccurredAt: at}
		b := Event{TriggerType: TriggerStatusChange, LeadID: 43, OccurredAt: at}
		c := Event{TriggerType: TriggerFieldUpdate, LeadID: 42, OccurredAt: at}
		if a.Fingerprint() == b.Fingerprint() || a.Fingerprint() == c.Fingerprint() {
			t.Error("different lead or trigger should change the fingerprint")
		}
	})
}
