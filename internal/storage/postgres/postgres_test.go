package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/leadkit/automation/internal/automation"
	"github.com/leadkit/automation/internal/event"
	"github.com/leadkit/automation/internal/record"
	"github.com/leadkit/automation/internal/registry"
)

// newMockDB creates a sqlmock database with automatic cleanup and
// expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var automationRowColumns = []string{
	"id", "name", "campaign_id", "trigger_type", "trigger_config",
	"actions", "is_active", "created_at", "updated_at",
}

var recordRowColumns = []string{
	"id", "automation_id", "event_fingerprint", "lead_id", "trigger_type",
	"action_index", "status", "attempt_count", "last_error", "created_at", "updated_at",
}

func addAutomationRow(rows *sqlmock.Rows, id int64, name string, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, name, nil, "new_lead",
		[]byte(`{"conditions":[{"field":"source","operator":"equals","value":"meta"}]}`),
		[]byte(`[{"type":"send_email","template_id":1,"to":"{{email}}"}]`),
		true, now, now,
	)
}

func TestListActive(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	now := time.Now()
	rows := addAutomationRow(sqlmock.NewRows(automationRowColumns), 10, "welcome", now)
	mock.ExpectQuery(`(?s)SELECT .+ FROM automations\s+WHERE trigger_type = \$1`).
		WithArgs("new_lead", int64(7)).
		WillReturnRows(rows)

	got, err := s.ListActive(context.Background(), event.TriggerNewLead, 7)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d automations, want 1", len(got))
	}
	a := got[0]
	if a.ID != 10 || a.Name != "welcome" || a.CampaignID != nil {
		t.Errorf("automation = %+v", a)
	}
	if len(a.TriggerConfig.Conditions) != 1 || a.TriggerConfig.Conditions[0].Value != "meta" {
		t.Errorf("conditions decoded wrong: %+v", a.TriggerConfig.Conditions)
	}
	if len(a.Actions) != 1 || a.Actions[0].Type != automation.ActionSendEmail ||
		a.Actions[0].SendEmail == nil || a.Actions[0].SendEmail.To != "{{email}}" {
		t.Errorf("actions decoded wrong: %+v", a.Actions)
	}
}

func TestGetAutomationNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectQuery(`(?s)SELECT .+ FROM automations WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	if _, err := s.Get(context.Background(), 99); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateAutomationAssignsID(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectQuery(`INSERT INTO automations`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	a := &automation.Automation{
		Name:        "welcome",
		TriggerType: event.TriggerNewLead,
		Actions: []automation.Action{
			{Type: automation.ActionWebhook, Webhook: &automation.WebhookConfig{URL: "https://example.com"}},
		},
		IsActive: true,
	}
	if err := s.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID != 42 {
		t.Errorf("ID = %d, want 42", a.ID)
	}
	if a.CreatedAt.IsZero() || a.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestUpdateAutomationNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectExec(`UPDATE automations SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	a := &automation.Automation{
		ID:          99,
		Name:        "gone",
		TriggerType: event.TriggerNewLead,
		Actions: []automation.Action{
			{Type: automation.ActionWebhook, Webhook: &automation.WebhookConfig{URL: "https://example.com"}},
		},
	}
	if err := s.Update(context.Background(), a); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteAutomation(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectExec(`DELETE FROM automations WHERE id = \$1`).
		WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Delete(context.Background(), 10); err != nil {
		t.Errorf("Delete: %v", err)
	}
}

func TestSetActive(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectExec(`UPDATE automations SET is_active = \$2`).
		WithArgs(int64(10), false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SetActive(context.Background(), 10, false); err != nil {
		t.Errorf("SetActive: %v", err)
	}
}

func TestCreateRecordInsertWins(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db).Records()

	mock.ExpectQuery(`INSERT INTO execution_records`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	r := &record.ExecutionRecord{
		AutomationID: 10,
		Fingerprint:  "evt-1",
		LeadID:       42,
		TriggerType:  event.TriggerNewLead,
	}
	if err := s.Create(context.Background(), r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.ID != 7 {
		t.Errorf("ID = %d, want 7", r.ID)
	}
	if r.Status != record.StatusPending {
		t.Errorf("Status = %s, want pending default", r.Status)
	}
}

func TestCreateRecordDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db).Records()

	now := time.Now()
	// The conflicting insert returns no row, then the existing record is read.
	mock.ExpectQuery(`INSERT INTO execution_records`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`(?s)SELECT .+ FROM execution_records\s+WHERE automation_id = \$1 AND event_fingerprint = \$2`).
		WithArgs(int64(10), "evt-1").
		WillReturnRows(sqlmock.NewRows(recordRowColumns).
			AddRow(int64(7), int64(10), "evt-1", int64(42), "new_lead", 1, "succeeded", 1, "", now, now))

	r := &record.ExecutionRecord{
		AutomationID: 10,
		Fingerprint:  "evt-1",
		LeadID:       42,
		TriggerType:  event.TriggerNewLead,
	}
	err := s.Create(context.Background(), r)
	var dup *record.DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want *record.DuplicateError", err)
	}
	if dup.Existing.ID != 7 || dup.Existing.Status != record.StatusSucceeded {
		t.Errorf("Existing = %+v", dup.Existing)
	}
}

func TestUpdateRecord(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db).Records()

	mock.ExpectExec(`UPDATE execution_records SET`).
		WithArgs(int64(7), 2, "retrying", 3, "target returned 500", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := &record.ExecutionRecord{
		ID:           7,
		ActionIndex:  2,
		Status:       record.StatusRetrying,
		AttemptCount: 3,
		LastError:    "target returned 500",
	}
	if err := s.Update(context.Background(), r); err != nil {
		t.Errorf("Update: %v", err)
	}
}

func TestListRecordsByAutomation(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db).Records()

	now := time.Now()
	rows := sqlmock.NewRows(recordRowColumns).
		AddRow(int64(8), int64(10), "evt-2", int64(43), "new_lead", 1, "succeeded", 1, "", now, now).
		AddRow(int64(7), int64(10), "evt-1", int64(42), "new_lead", 0, "failed", 5, "connection refused", now.Add(-time.Hour), now)
	mock.ExpectQuery(`(?s)SELECT .+ FROM execution_records\s+WHERE automation_id = \$1\s+ORDER BY created_at DESC`).
		WithArgs(int64(10), 50).
		WillReturnRows(rows)

	got, err := s.ListByAutomation(context.Background(), 10, 50)
	if err != nil {
		t.Fatalf("ListByAutomation: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].ID != 8 || got[1].LastError != "connection refused" {
		t.Errorf("records = %+v, %+v", got[0], got[1])
	}
}
