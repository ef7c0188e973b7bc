package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/leadkit/automation/internal/automation"
	"github.com/leadkit/automation/internal/event"
	"github.com/leadkit/automation/internal/registry"
)

// automationColumns is the column list for SELECT statements on automations.
const automationColumns = `id, name, campaign_id, trigger_type, trigger_config,
	actions, is_active, created_at, updated_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryListActive(ctx context.Context, db executor, trigger event.TriggerType, campaignID int64) ([]*automation.Automation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+automationColumns+`
		FROM automations
		WHERE trigger_type = $1
		  AND is_active
		  AND (campaign_id IS NULL OR campaign_id = $2)
		ORDER BY id ASC`,
		string(trigger), campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAutomations(rows)
}

func queryListAutomations(ctx context.Context, db executor, campaignID int64) ([]*automation.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations`
	var args []any
	if campaignID != 0 {
		query += ` WHERE campaign_id = $1`
		args = append(args, campaignID)
	}
	query += ` ORDER BY id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAutomations(rows)
}

func queryGetAutomation(ctx context.Context, db executor, id int64) (*automation.Automation, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+automationColumns+` FROM automations WHERE id = $1`, id)
	a, err := scanAutomation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	return a, err
}

func queryCreateAutomation(ctx context.Context, db executor, a *automation.Automation) error {
	triggerConfig, actions, err := marshalAutomationDocs(a)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	return db.QueryRowContext(ctx, `
		INSERT INTO automations (
			name, campaign_id, trigger_type, trigger_config,
			actions, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		a.Name,
		nullInt64Ptr(a.CampaignID),
		string(a.TriggerType),
		triggerConfig,
		actions,
		a.IsActive,
		a.CreatedAt,
		a.UpdatedAt,
	).Scan(&a.ID)
}

func queryUpdateAutomation(ctx context.Context, db executor, a *automation.Automation) error {
	triggerConfig, actions, err := marshalAutomationDocs(a)
	if err != nil {
		return err
	}

	a.UpdatedAt = time.Now().UTC()

	res, err := db.ExecContext(ctx, `
		UPDATE automations SET
			name = $2,
			campaign_id = $3,
			trigger_type = $4,
			trigger_config = $5,
			actions = $6,
			is_active = $7,
			updated_at = $8
		WHERE id = $1`,
		a.ID,
		a.Name,
		nullInt64Ptr(a.CampaignID),
		string(a.TriggerType),
		triggerConfig,
		actions,
		a.IsActive,
		a.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func queryDeleteAutomation(ctx context.Context, db executor, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM automations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func querySetAutomationActive(ctx context.Context, db executor, id int64, active bool) error {
	res, err := db.ExecContext(ctx, `
		UPDATE automations SET is_active = $2, updated_at = $3 WHERE id = $1`,
		id, active, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func marshalAutomationDocs(a *automation.Automation) ([]byte, []byte, error) {
	triggerConfig, err := json.Marshal(a.TriggerConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal trigger_config: %w", err)
	}
	actions, err := json.Marshal(a.Actions)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal actions: %w", err)
	}
	return triggerConfig, actions, nil
}

// requireRow converts a zero-rows-affected result into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}
