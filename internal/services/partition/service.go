// Package partition provides domain registration: the operator-facing
// workflow of creating a durable Partition record and bringing the
// dispatcher's own DomainRecord into existence to match it. It sits
// above internal/partition the same way the teacher's VM service sits
// above its placement scheduler — business logic and persistence
// wrapped around a handful of core calls.
package partition

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arinc653/partitiond/internal/domain"
	"github.com/arinc653/partitiond/internal/repository/postgres"
)

// Instance is the subset of *partition.Instance (the dispatcher core)
// this service drives.
type Instance interface {
	InitDomain(domainID int32) error
	DestroyDomain(domainID int32)
}

// Repository defines durable storage for partition registration records.
// *postgres.PartitionRepository satisfies it.
type Repository interface {
	Create(ctx context.Context, p *domain.Partition) (*domain.Partition, error)
	Get(ctx context.Context, domainID int32) (*domain.Partition, error)
	List(ctx context.Context, filter postgres.PartitionFilter) ([]*domain.Partition, error)
	Update(ctx context.Context, p *domain.Partition) (*domain.Partition, error)
	UpdatePhase(ctx context.Context, domainID int32, phase domain.PartitionPhase) error
	Delete(ctx context.Context, domainID int32) error
}

// HealthRegistrar lets the health monitor learn about (and forget)
// domains as they're registered and removed, without this service
// importing the ha package directly.
type HealthRegistrar interface {
	RegisterDomain(domainID int32, name string)
	UnregisterDomain(domainID int32)
}

// EventPublisher broadcasts partition lifecycle events to other
// control plane replicas and dashboards, without this service
// importing the redis package directly. *redis.Cache satisfies it.
type EventPublisher interface {
	PublishPartitionEvent(ctx context.Context, eventType string, p *domain.Partition) error
}

// CreateRequest describes a new domain registration.
type CreateRequest struct {
	DomainID    int32
	Name        string
	Description string
	Labels      map[string]string
	VCPUCount   int32
	HostID      string
	CreatedBy   string
}

// Service registers partitions: it generates the 16-byte DomainHandle,
// persists the Partition record, and calls InitDomain on the live
// dispatcher instance so the domain becomes eligible as a schedule
// entry provider. Removal runs the same steps in reverse.
type Service struct {
	instance Instance
	repo     Repository
	health   HealthRegistrar
	events   EventPublisher
	logger   *zap.Logger
}

// NewService creates a partition registration service. events may be
// nil, in which case lifecycle events are simply not published.
func NewService(instance Instance, repo Repository, health HealthRegistrar, events EventPublisher, logger *zap.Logger) *Service {
	return &Service{
		instance: instance,
		repo:     repo,
		health:   health,
		events:   events,
		logger:   logger.With(zap.String("service", "partition")),
	}
}

// Register creates a new partition: persists it as PENDING, calls
// InitDomain, then flips it to ACTIVE. If InitDomain fails the
// registration row is rolled back to REMOVED rather than left PENDING.
func (s *Service) Register(ctx context.Context, req CreateRequest) (*domain.Partition, error) {
	if req.Name == "" {
		return nil, domain.ErrInvalidArgument
	}
	if req.VCPUCount <= 0 {
		return nil, domain.ErrInvalidArgument
	}

	handleBytes := uuid.New()
	p := &domain.Partition{
		DomainID:    req.DomainID,
		Handle:      [16]byte(handleBytes),
		Name:        req.Name,
		Description: req.Description,
		Labels:      req.Labels,
		VCPUCount:   req.VCPUCount,
		HostID:      req.HostID,
		Phase:       domain.PartitionPhasePending,
		CreatedBy:   req.CreatedBy,
	}

	p, err := s.repo.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create partition record: %w", err)
	}

	if err := s.instance.InitDomain(req.DomainID); err != nil {
		s.logger.Error("InitDomain failed, rolling back registration",
			zap.Int32("domain_id", req.DomainID), zap.Error(err))
		_ = s.repo.UpdatePhase(ctx, req.DomainID, domain.PartitionPhaseRemoved)
		return nil, fmt.Errorf("init domain: %w", err)
	}

	if err := s.repo.UpdatePhase(ctx, req.DomainID, domain.PartitionPhaseActive); err != nil {
		return nil, fmt.Errorf("activate partition record: %w", err)
	}
	p.Phase = domain.PartitionPhaseActive

	if s.health != nil {
		s.health.RegisterDomain(req.DomainID, req.Name)
	}

	if s.events != nil {
		if err := s.events.PublishPartitionEvent(ctx, "partition.registered", p); err != nil {
			s.logger.Warn("failed to publish partition event", zap.Error(err))
		}
	}

	s.logger.Info("registered partition",
		zap.Int32("domain_id", req.DomainID),
		zap.String("name", req.Name),
		zap.String("handle", fmt.Sprintf("%x", p.Handle)),
	)
	return p, nil
}

// Get retrieves a partition's registration record by domain ID.
func (s *Service) Get(ctx context.Context, domainID int32) (*domain.Partition, error) {
	return s.repo.Get(ctx, domainID)
}

// List returns registration records matching the filter.
func (s *Service) List(ctx context.Context, filter postgres.PartitionFilter) ([]*domain.Partition, error) {
	return s.repo.List(ctx, filter)
}

// Update changes a partition's name, description and labels. It does
// not touch the live dispatcher state and does not change VCPUCount;
// re-provisioning VCPUs is a separate, host-agent-driven operation
// this service does not perform.
func (s *Service) Update(ctx context.Context, domainID int32, name, description string, labels map[string]string) (*domain.Partition, error) {
	p, err := s.repo.Get(ctx, domainID)
	if err != nil {
		return nil, err
	}
	p.Name = name
	p.Description = description
	p.Labels = labels
	return s.repo.Update(ctx, p)
}

// Deregister calls DestroyDomain and marks the registration removed.
func (s *Service) Deregister(ctx context.Context, domainID int32) error {
	p, err := s.repo.Get(ctx, domainID)
	if err != nil {
		return fmt.Errorf("get partition record: %w", err)
	}

	s.instance.DestroyDomain(domainID)

	if err := s.repo.UpdatePhase(ctx, domainID, domain.PartitionPhaseRemoved); err != nil {
		return fmt.Errorf("mark partition removed: %w", err)
	}
	p.Phase = domain.PartitionPhaseRemoved

	if s.health != nil {
		s.health.UnregisterDomain(domainID)
	}

	if s.events != nil {
		if err := s.events.PublishPartitionEvent(ctx, "partition.removed", p); err != nil {
			s.logger.Warn("failed to publish partition event", zap.Error(err))
		}
	}

	s.logger.Info("deregistered partition", zap.Int32("domain_id", domainID))
	return nil
}
