package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/leadkit/automation/internal/automation"
	"github.com/leadkit/automation/internal/record"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanAutomation scans a single row in automationColumns order.
func scanAutomation(row scannable) (*automation.Automation, error) {
	var a automation.Automation
	var (
		campaignID    sql.NullInt64
		triggerConfig []byte
		actions       []byte
	)

	err := row.Scan(
		&a.ID,
		&a.Name,
		&campaignID,
		&a.TriggerType,
		&triggerConfig,
		&actions,
		&a.IsActive,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if campaignID.Valid {
		v := campaignID.Int64
		a.CampaignID = &v
	}
	if len(triggerConfig) > 0 {
		if err := json.Unmarshal(triggerConfig, &a.TriggerConfig); err != nil {
			return nil, fmt.Errorf("automation %d: decode trigger_config: %w", a.ID, err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &a.Actions); err != nil {
			return nil, fmt.Errorf("automation %d: decode actions: %w", a.ID, err)
		}
	}

	return &a, nil
}

func scanAutomations(rows *sql.Rows) ([]*automation.Automation, error) {
	var out []*automation.Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scanRecord scans a single row in recordColumns order.
func scanRecord(row scannable) (*record.ExecutionRecord, error) {
	var r record.ExecutionRecord
	err := row.Scan(
		&r.ID,
		&r.AutomationID,
		&r.Fingerprint,
		&r.LeadID,
		&r.TriggerType,
		&r.ActionIndex,
		&r.Status,
		&r.AttemptCount,
		&r.LastError,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanRecords(rows *sql.Rows) ([]*record.ExecutionRecord, error) {
	var out []*record.ExecutionRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// nullInt64Ptr converts a *int64 to a sql.NullInt64.
func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
