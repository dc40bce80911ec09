package store

import (
	"database/sql"
	"time"

	"github.com/dotcommander/oakd/internal/models"
)

// UpsertAgentSchedule creates or updates the cron configuration for
// instanceName. nextRunAt is recomputed by the caller (the scheduler owns
// cron expression parsing) and passed in here.
func UpsertAgentSchedule(db *sql.DB, instanceName, cronExpr string, enabled bool, nextRunAt time.Time) error {
	return Transact(db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO agent_schedules (instance_name, cron_expr, enabled, next_run_at, next_run_at_epoch)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(instance_name) DO UPDATE SET
				cron_expr = excluded.cron_expr,
				enabled = excluded.enabled,
				next_run_at = excluded.next_run_at,
				next_run_at_epoch = excluded.next_run_at_epoch
		`, instanceName, cronExpr, enabled, nextRunAt.Format(time.RFC3339Nano), nextRunAt.Unix())
		return err
	})
}

func scanScheduleRow(scan func(dest ...any) error) (*models.AgentSchedule, error) {
	var s models.AgentSchedule
	var lastRunAt, nextRunAt sql.NullString
	var lastRunID sql.NullInt64
	if err := scan(&s.InstanceName, &s.CronExpr, &s.Enabled, &lastRunAt, &lastRunID, &nextRunAt); err != nil {
		return nil, err
	}
	if lastRunAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lastRunAt.String)
		s.LastRunAt = &t
	}
	if lastRunID.Valid {
		s.LastRunID = &lastRunID.Int64
	}
	if nextRunAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, nextRunAt.String)
		s.NextRunAt = &t
	}
	return &s, nil
}

// GetAgentSchedule returns a schedule by instance name.
func GetAgentSchedule(db *sql.DB, instanceName string) (*models.AgentSchedule, error) {
	row := db.QueryRow(`
		SELECT instance_name, cron_expr, enabled, last_run_at, last_run_id, next_run_at
		FROM agent_schedules WHERE instance_name = ?
	`, instanceName)
	return scanScheduleRow(row.Scan)
}

// DueSchedules returns every enabled schedule whose next_run_at has passed,
// for the scheduler's tick loop to dispatch.
func DueSchedules(db *sql.DB, now time.Time) ([]*models.AgentSchedule, error) {
	rows, err := db.Query(`
		SELECT instance_name, cron_expr, enabled, last_run_at, last_run_id, next_run_at
		FROM agent_schedules WHERE enabled = 1 AND next_run_at_epoch IS NOT NULL AND next_run_at_epoch <= ?
		ORDER BY next_run_at_epoch ASC
	`, now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.AgentSchedule
	for rows.Next() {
		s, err := scanScheduleRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSchedulesNotIn removes schedule rows for instances no longer present
// in keepNames, per sync_schedules' "delete rows for instances no longer
// configured" rule. An empty keepNames deletes every row.
func DeleteSchedulesNotIn(db *sql.DB, keepNames []string) error {
	return Transact(db, func(tx *sql.Tx) error {
		if len(keepNames) == 0 {
			_, err := tx.Exec(`DELETE FROM agent_schedules`)
			return err
		}
		placeholders := make([]byte, 0, len(keepNames)*2)
		args := make([]any, 0, len(keepNames))
		for i, name := range keepNames {
			if i > 0 {
				placeholders = append(placeholders, ',')
			}
			placeholders = append(placeholders, '?')
			args = append(args, name)
		}
		_, err := tx.Exec(`DELETE FROM agent_schedules WHERE instance_name NOT IN (`+string(placeholders)+`)`, args...)
		return err
	})
}

// RecordScheduleRun stamps a schedule with the run it just dispatched and
// advances next_run_at to the caller-computed next fire time.
func RecordScheduleRun(db *sql.DB, instanceName string, runID int64, nextRunAt time.Time) error {
	return Transact(db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.Exec(`
			UPDATE agent_schedules SET last_run_at = ?, last_run_id = ?, next_run_at = ?, next_run_at_epoch = ?
			WHERE instance_name = ?
		`, now.Format(time.RFC3339Nano), runID, nextRunAt.Format(time.RFC3339Nano), nextRunAt.Unix(), instanceName)
		return err
	})
}
