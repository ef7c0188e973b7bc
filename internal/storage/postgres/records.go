package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leadkit/automation/internal/record"
)

// recordColumns is the column list for SELECT statements on execution_records.
const recordColumns = `id, automation_id, event_fingerprint, lead_id, trigger_type,
	action_index, status, attempt_count, last_error, created_at, updated_at`

// queryCreateRecord inserts r unless the (automation_id, event_fingerprint)
// key is already taken. ON CONFLICT DO NOTHING makes the race between two
// deliveries of the same event safe: exactly one insert wins, the loser
// reads the winner's row and reports it as a duplicate.
func queryCreateRecord(ctx context.Context, db executor, r *record.ExecutionRecord) error {
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = record.StatusPending
	}

	err := db.QueryRowContext(ctx, `
		INSERT INTO execution_records (
			automation_id, event_fingerprint, lead_id, trigger_type,
			action_index, status, attempt_count, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT ON CONSTRAINT execution_records_dedupe DO NOTHING
		RETURNING id`,
		r.AutomationID,
		r.Fingerprint,
		r.LeadID,
		string(r.TriggerType),
		r.ActionIndex,
		string(r.Status),
		r.AttemptCount,
		r.LastError,
		r.CreatedAt,
		r.UpdatedAt,
	).Scan(&r.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	existing, err := queryGetRecordByKey(ctx, db, r.AutomationID, r.Fingerprint)
	if err != nil {
		return fmt.Errorf("load conflicting record: %w", err)
	}
	return &record.DuplicateError{Existing: existing}
}

func queryUpdateRecord(ctx context.Context, db executor, r *record.ExecutionRecord) error {
	r.UpdatedAt = time.Now().UTC()

	res, err := db.ExecContext(ctx, `
		UPDATE execution_records SET
			action_index = $2,
			status = $3,
			attempt_count = $4,
			last_error = $5,
			updated_at = $6
		WHERE id = $1`,
		r.ID,
		r.ActionIndex,
		string(r.Status),
		r.AttemptCount,
		r.LastError,
		r.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return record.ErrNotFound
	}
	return nil
}

func queryGetRecord(ctx context.Context, db executor, id int64) (*record.ExecutionRecord, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM execution_records WHERE id = $1`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, record.ErrNotFound
	}
	return r, err
}

func queryGetRecordByKey(ctx context.Context, db executor, automationID int64, fingerprint string) (*record.ExecutionRecord, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM execution_records
		WHERE automation_id = $1 AND event_fingerprint = $2`,
		automationID, fingerprint)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, record.ErrNotFound
	}
	return r, err
}

func queryListRecords(ctx context.Context, db executor, automationID int64, limit int) ([]*record.ExecutionRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM execution_records
		WHERE automation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		automationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}
