// Package postgres provides PostgreSQL repository implementations.
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/arinc653/partitiond/internal/domain"
	"github.com/arinc653/partitiond/internal/services/alert"
)

// Ensure AlertRepository implements alert.Repository
var _ alert.Repository = (*AlertRepository)(nil)

// AlertRepository implements alert.Repository using PostgreSQL.
type AlertRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAlertRepository creates a new PostgreSQL alert repository.
func NewAlertRepository(db *DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "alert")),
	}
}

// Create stores a new alert.
func (r *AlertRepository) Create(ctx context.Context, a *domain.Alert) (*domain.Alert, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	query := `
		INSERT INTO alerts (id, severity, title, message, source_type, source_id, source_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.pool.Exec(ctx, query,
		a.ID, string(a.Severity), a.Title, a.Message, string(a.SourceType), a.SourceID, a.SourceName, a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert alert: %w", err)
	}

	return a, nil
}

// Get retrieves an alert by ID.
func (r *AlertRepository) Get(ctx context.Context, id string) (*domain.Alert, error) {
	return r.scanAlert(ctx, `
		SELECT id, severity, title, message, source_type, source_id, source_name,
		       acknowledged, acknowledged_by, acknowledged_at, resolved, resolved_at, created_at
		FROM alerts WHERE id = $1
	`, id)
}

func (r *AlertRepository) scanAlert(ctx context.Context, query string, arg interface{}) (*domain.Alert, error) {
	a := &domain.Alert{}
	var severity, sourceType string

	err := r.db.pool.QueryRow(ctx, query, arg).Scan(
		&a.ID, &severity, &a.Title, &a.Message, &sourceType, &a.SourceID, &a.SourceName,
		&a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.Resolved, &a.ResolvedAt, &a.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	a.Severity = domain.AlertSeverity(severity)
	a.SourceType = domain.AlertSourceType(sourceType)
	return a, nil
}

// List returns a paginated list of alerts matching the filter.
func (r *AlertRepository) List(ctx context.Context, filter alert.AlertFilter, limit int, offset int) ([]*domain.Alert, int, error) {
	query := `
		SELECT id, severity, title, message, source_type, source_id, source_name,
		       acknowledged, acknowledged_by, acknowledged_at, resolved, resolved_at, created_at
		FROM alerts WHERE 1=1
	`
	countQuery := `SELECT COUNT(*) FROM alerts WHERE 1=1`
	args := []interface{}{}
	countArgs := []interface{}{}
	argNum := 1

	addClause := func(clause string, val interface{}) {
		query += fmt.Sprintf(" AND %s $%d", clause, argNum)
		countQuery += fmt.Sprintf(" AND %s $%d", clause, argNum)
		args = append(args, val)
		countArgs = append(countArgs, val)
		argNum++
	}

	if filter.Severity != "" {
		addClause("severity =", string(filter.Severity))
	}
	if filter.SourceType != "" {
		addClause("source_type =", string(filter.SourceType))
	}
	if filter.SourceID != "" {
		addClause("source_id =", filter.SourceID)
	}
	if filter.Acknowledged != nil {
		addClause("acknowledged =", *filter.Acknowledged)
	}
	if filter.Resolved != nil {
		addClause("resolved =", *filter.Resolved)
	}
	if filter.StartTime != nil {
		addClause("created_at >=", *filter.StartTime)
	}
	if filter.EndTime != nil {
		addClause("created_at <=", *filter.EndTime)
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, limit, offset)

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		a := &domain.Alert{}
		var severity, sourceType string
		if err := rows.Scan(
			&a.ID, &severity, &a.Title, &a.Message, &sourceType, &a.SourceID, &a.SourceName,
			&a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.Resolved, &a.ResolvedAt, &a.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Severity = domain.AlertSeverity(severity)
		a.SourceType = domain.AlertSourceType(sourceType)
		alerts = append(alerts, a)
	}

	var total int
	if err := r.db.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		r.logger.Warn("Failed to get alert count", zap.Error(err))
	}

	return alerts, total, nil
}

// Update persists acknowledgement/resolution changes to an alert.
func (r *AlertRepository) Update(ctx context.Context, a *domain.Alert) (*domain.Alert, error) {
	query := `
		UPDATE alerts
		SET acknowledged = $2, acknowledged_by = $3, acknowledged_at = $4,
		    resolved = $5, resolved_at = $6
		WHERE id = $1
	`

	result, err := r.db.pool.Exec(ctx, query,
		a.ID, a.Acknowledged, nullString(a.AcknowledgedBy), a.AcknowledgedAt, a.Resolved, a.ResolvedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, domain.ErrNotFound
	}

	return a, nil
}

// Delete removes an alert.
func (r *AlertRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM alerts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetUnresolved returns all unresolved alerts of a specific severity.
func (r *AlertRepository) GetUnresolved(ctx context.Context, severity domain.AlertSeverity) ([]*domain.Alert, error) {
	query := `
		SELECT id, severity, title, message, source_type, source_id, source_name,
		       acknowledged, acknowledged_by, acknowledged_at, resolved, resolved_at, created_at
		FROM alerts
		WHERE resolved = FALSE AND severity = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.pool.Query(ctx, query, string(severity))
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		a := &domain.Alert{}
		var sev, sourceType string
		if err := rows.Scan(
			&a.ID, &sev, &a.Title, &a.Message, &sourceType, &a.SourceID, &a.SourceName,
			&a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.Resolved, &a.ResolvedAt, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Severity = domain.AlertSeverity(sev)
		a.SourceType = domain.AlertSourceType(sourceType)
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// CountBySeverity returns the number of unresolved alerts for each severity.
func (r *AlertRepository) CountBySeverity(ctx context.Context) (map[domain.AlertSeverity]int, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT severity, COUNT(*) FROM alerts WHERE resolved = FALSE GROUP BY severity
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts by severity: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.AlertSeverity]int)
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan alert count: %w", err)
		}
		counts[domain.AlertSeverity(severity)] = count
	}

	return counts, rows.Err()
}
