package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	insertAlertSQL = `INSERT INTO alerts (
        id,
        channel,
        title,
        body,
        priority,
        outcome,
        deadline_ts
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (id) DO NOTHING;`

	updateAlertOutcomeSQL = `UPDATE alerts
    SET outcome = $2, resolved_at = now()
    WHERE id = $1;`

	listRecentAlertsSQL = `SELECT
        id,
        channel,
        title,
        body,
        priority,
        outcome,
        deadline_ts,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	insertCommandSQL = `INSERT INTO commands (
        seq,
        target,
        action,
        args
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (seq) DO NOTHING;`

	deleteCommandsBeforeSQL = `DELETE FROM commands WHERE created_at < $1;`
)

// AlertJournal defines operations for alert auditing.
type AlertJournal interface {
	InsertAlert(ctx context.Context, alert AlertRecord) error
	UpdateAlertOutcome(ctx context.Context, id, outcome string) error
}

// CommandJournal defines operations for command auditing.
type CommandJournal interface {
	InsertCommand(ctx context.Context, cmd CommandRecord) error
}

// Store aggregates audit access to alerts and commands.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertAlert persists a submitted alert.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var deadline interface{}
	if alert.Deadline != nil {
		deadline = *alert.Deadline
	}

	_, execErr := pool.Exec(ctx, insertAlertSQL,
		alert.ID,
		alert.Channel,
		alert.Title,
		alert.Body,
		alert.Priority,
		alert.Outcome,
		deadline,
	)
	if execErr != nil {
		return fmt.Errorf("insert alert: %w", execErr)
	}
	return nil
}

// UpdateAlertOutcome records the terminal outcome of an alert.
func (s *Store) UpdateAlertOutcome(ctx context.Context, id, outcome string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, updateAlertOutcomeSQL, id, outcome); execErr != nil {
		return fmt.Errorf("update alert outcome: %w", execErr)
	}
	return nil
}

// ListRecentAlerts lists the most recent alerts ordered by descending creation time.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var record AlertRecord
		var deadline *time.Time
		if scanErr := rows.Scan(
			&record.ID,
			&record.Channel,
			&record.Title,
			&record.Body,
			&record.Priority,
			&record.Outcome,
			&deadline,
			&record.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("scan alert: %w", scanErr)
		}
		record.Deadline = deadline
		alerts = append(alerts, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore removes audit rows older than the given time.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

// InsertCommand persists an appended mailbox command.
func (s *Store) InsertCommand(ctx context.Context, cmd CommandRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, insertCommandSQL, cmd.Seq, cmd.Target, cmd.Action, cmd.Args); execErr != nil {
		return fmt.Errorf("insert command: %w", execErr)
	}
	return nil
}

// DeleteCommandsBefore removes command audit rows older than the given time.
func (s *Store) DeleteCommandsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteCommandsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete commands before: %w", execErr)
	}
	return nil
}

var _ AlertJournal = (*Store)(nil)
var _ CommandJournal = (*Store)(nil)
