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

// PartitionFilter narrows a partition listing.
type PartitionFilter struct {
	HostID string
	Phase  domain.PartitionPhase
}

// PartitionRepository implements durable storage for the operator-facing
// partition registration records using PostgreSQL. It has no knowledge of
// the live dispatcher state in internal/partition — that lives only in
// the memory of whichever host process runs the domain's VCPUs.
type PartitionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPartitionRepository creates a new PostgreSQL partition repository.
func NewPartitionRepository(db *DB, logger *zap.Logger) *PartitionRepository {
	return &PartitionRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "partition")),
	}
}

// Create registers a new partition.
func (r *PartitionRepository) Create(ctx context.Context, p *domain.Partition) (*domain.Partition, error) {
	labelsJSON, err := json.Marshal(p.Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal labels: %w", err)
	}

	query := `
		INSERT INTO partitions (
			domain_id, handle, name, description, labels, vcpu_count, host_id, phase, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err = r.db.pool.QueryRow(ctx, query,
		p.DomainID,
		p.Handle[:],
		p.Name,
		p.Description,
		labelsJSON,
		p.VCPUCount,
		p.HostID,
		string(p.Phase),
		p.CreatedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		r.logger.Error("Failed to create partition", zap.Error(err), zap.Int32("domain_id", p.DomainID))
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert partition: %w", err)
	}

	r.logger.Info("Registered partition", zap.Int32("domain_id", p.DomainID), zap.String("name", p.Name))
	return p, nil
}

// Get retrieves a partition by domain ID.
func (r *PartitionRepository) Get(ctx context.Context, domainID int32) (*domain.Partition, error) {
	query := `
		SELECT domain_id, handle, name, description, labels, vcpu_count, host_id, phase,
		       created_at, updated_at, created_by
		FROM partitions
		WHERE domain_id = $1
	`

	return r.scanPartition(ctx, query, domainID)
}

func (r *PartitionRepository) scanPartition(ctx context.Context, query string, arg interface{}) (*domain.Partition, error) {
	p := &domain.Partition{}
	var labelsJSON []byte
	var handle []byte
	var phase string

	err := r.db.pool.QueryRow(ctx, query, arg).Scan(
		&p.DomainID,
		&handle,
		&p.Name,
		&p.Description,
		&labelsJSON,
		&p.VCPUCount,
		&p.HostID,
		&phase,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.CreatedBy,
	)

	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get partition: %w", err)
	}

	copy(p.Handle[:], handle)
	p.Phase = domain.PartitionPhase(phase)
	if len(labelsJSON) > 0 {
		json.Unmarshal(labelsJSON, &p.Labels)
	}

	return p, nil
}

// List returns all partitions matching the filter.
func (r *PartitionRepository) List(ctx context.Context, filter PartitionFilter) ([]*domain.Partition, error) {
	query := `
		SELECT domain_id, handle, name, description, labels, vcpu_count, host_id, phase,
		       created_at, updated_at, created_by
		FROM partitions
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.HostID != "" {
		query += fmt.Sprintf(" AND host_id = $%d", argNum)
		args = append(args, filter.HostID)
		argNum++
	}
	if filter.Phase != "" {
		query += fmt.Sprintf(" AND phase = $%d", argNum)
		args = append(args, string(filter.Phase))
		argNum++
	}
	query += " ORDER BY domain_id"

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	defer rows.Close()

	var partitions []*domain.Partition
	for rows.Next() {
		p := &domain.Partition{}
		var labelsJSON, handle []byte
		var phase string

		if err := rows.Scan(
			&p.DomainID, &handle, &p.Name, &p.Description, &labelsJSON, &p.VCPUCount,
			&p.HostID, &phase, &p.CreatedAt, &p.UpdatedAt, &p.CreatedBy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan partition: %w", err)
		}

		copy(p.Handle[:], handle)
		p.Phase = domain.PartitionPhase(phase)
		if len(labelsJSON) > 0 {
			json.Unmarshal(labelsJSON, &p.Labels)
		}

		partitions = append(partitions, p)
	}

	return partitions, rows.Err()
}

// Update updates a partition's mutable metadata.
func (r *PartitionRepository) Update(ctx context.Context, p *domain.Partition) (*domain.Partition, error) {
	labelsJSON, err := json.Marshal(p.Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal labels: %w", err)
	}

	query := `
		UPDATE partitions
		SET name = $2, description = $3, labels = $4, vcpu_count = $5, updated_at = NOW()
		WHERE domain_id = $1
		RETURNING updated_at
	`

	err = r.db.pool.QueryRow(ctx, query, p.DomainID, p.Name, p.Description, labelsJSON, p.VCPUCount).Scan(&p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update partition: %w", err)
	}

	r.logger.Info("Updated partition", zap.Int32("domain_id", p.DomainID))
	return p, nil
}

// UpdatePhase transitions a partition's registration phase.
func (r *PartitionRepository) UpdatePhase(ctx context.Context, domainID int32, phase domain.PartitionPhase) error {
	result, err := r.db.pool.Exec(ctx,
		`UPDATE partitions SET phase = $2, updated_at = NOW() WHERE domain_id = $1`,
		domainID, string(phase),
	)
	if err != nil {
		return fmt.Errorf("failed to update partition phase: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a partition by domain ID.
func (r *PartitionRepository) Delete(ctx context.Context, domainID int32) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM partitions WHERE domain_id = $1`, domainID)
	if err != nil {
		return fmt.Errorf("failed to delete partition: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	r.logger.Info("Removed partition", zap.Int32("domain_id", domainID))
	return nil
}
