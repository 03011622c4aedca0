// Package postgres provides PostgreSQL repository implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/arinc653/partitiond/internal/domain"
)

// HostFilter narrows a host listing.
type HostFilter struct {
	Phase domain.HostPhase
}

// HostRepository implements durable storage for registered hosts using
// PostgreSQL.
type HostRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewHostRepository creates a new PostgreSQL host repository.
func NewHostRepository(db *DB, logger *zap.Logger) *HostRepository {
	return &HostRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "host")),
	}
}

// Create registers a new host.
func (r *HostRepository) Create(ctx context.Context, h *domain.Host) (*domain.Host, error) {
	labelsJSON, err := json.Marshal(h.Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal labels: %w", err)
	}

	query := `
		INSERT INTO hosts (id, hostname, management_ip, labels, pcpu_count, phase)
		VALUES ($1, $2, $3::inet, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err = r.db.pool.QueryRow(ctx, query,
		h.ID,
		h.Hostname,
		h.ManagementIP,
		labelsJSON,
		h.PCPUCount,
		string(h.Phase),
	).Scan(&h.CreatedAt, &h.UpdatedAt)

	if err != nil {
		r.logger.Error("Failed to create host", zap.Error(err), zap.String("hostname", h.Hostname))
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert host: %w", err)
	}

	r.logger.Info("Registered host", zap.String("id", h.ID), zap.String("hostname", h.Hostname))
	return h, nil
}

// Get retrieves a host by ID, along with the IDs of the partitions
// currently assigned to it.
func (r *HostRepository) Get(ctx context.Context, id string) (*domain.Host, error) {
	query := `
		SELECT id, hostname, management_ip, labels, pcpu_count, phase,
		       created_at, updated_at, last_heartbeat
		FROM hosts
		WHERE id = $1
	`

	h, err := r.scanHost(ctx, query, id)
	if err != nil {
		return nil, err
	}

	if h.PartitionIDs, err = r.partitionIDs(ctx, id); err != nil {
		r.logger.Warn("Failed to load partition ids for host", zap.String("id", id), zap.Error(err))
	}

	return h, nil
}

func (r *HostRepository) partitionIDs(ctx context.Context, hostID string) ([]int32, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT domain_id FROM partitions WHERE host_id = $1 ORDER BY domain_id`, hostID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *HostRepository) scanHost(ctx context.Context, query string, arg interface{}) (*domain.Host, error) {
	h := &domain.Host{}
	var labelsJSON []byte
	var managementIP string
	var phase string

	err := r.db.pool.QueryRow(ctx, query, arg).Scan(
		&h.ID,
		&h.Hostname,
		&managementIP,
		&labelsJSON,
		&h.PCPUCount,
		&phase,
		&h.CreatedAt,
		&h.UpdatedAt,
		&h.LastHeartbeat,
	)

	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get host: %w", err)
	}

	h.ManagementIP = managementIP
	h.Phase = domain.HostPhase(phase)
	if len(labelsJSON) > 0 {
		json.Unmarshal(labelsJSON, &h.Labels)
	}

	return h, nil
}

// List returns all hosts matching the filter.
func (r *HostRepository) List(ctx context.Context, filter HostFilter) ([]*domain.Host, error) {
	query := `
		SELECT id, hostname, management_ip, labels, pcpu_count, phase,
		       created_at, updated_at, last_heartbeat
		FROM hosts
		WHERE 1=1
	`
	args := []interface{}{}
	if filter.Phase != "" {
		query += " AND phase = $1"
		args = append(args, string(filter.Phase))
	}
	query += " ORDER BY hostname"

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []*domain.Host
	for rows.Next() {
		h := &domain.Host{}
		var labelsJSON []byte
		var managementIP, phase string

		if err := rows.Scan(
			&h.ID, &h.Hostname, &managementIP, &labelsJSON, &h.PCPUCount,
			&phase, &h.CreatedAt, &h.UpdatedAt, &h.LastHeartbeat,
		); err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}

		h.ManagementIP = managementIP
		h.Phase = domain.HostPhase(phase)
		if len(labelsJSON) > 0 {
			json.Unmarshal(labelsJSON, &h.Labels)
		}

		hosts = append(hosts, h)
	}

	return hosts, rows.Err()
}

// UpdatePhase transitions a host's lifecycle phase.
func (r *HostRepository) UpdatePhase(ctx context.Context, id string, phase domain.HostPhase) error {
	result, err := r.db.pool.Exec(ctx, `UPDATE hosts SET phase = $2 WHERE id = $1`, id, string(phase))
	if err != nil {
		return fmt.Errorf("failed to update host phase: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateHeartbeat records the most recent heartbeat time for a host.
func (r *HostRepository) UpdateHeartbeat(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `UPDATE hosts SET last_heartbeat = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a host by ID.
func (r *HostRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM hosts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete host: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	r.logger.Info("Deregistered host", zap.String("id", id))
	return nil
}
