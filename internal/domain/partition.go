package domain

import "time"

// PartitionPhase represents the registration lifecycle of a partition,
// as distinct from the live healthy/unhealthy flag a domain carries
// once its VCPUs are actually running (that flag lives in the
// scheduler's own DomainRecord, not here).
type PartitionPhase string

const (
	PartitionPhasePending PartitionPhase = "PENDING"
	PartitionPhaseActive  PartitionPhase = "ACTIVE"
	PartitionPhaseRemoved PartitionPhase = "REMOVED"
)

// Partition is the durable, operator-facing registration record for a
// domain: the 16-byte handle the scheduler's schedule entries
// reference, plus the metadata an operator manages it by. It is
// created before any VCPU for the domain is ever inserted into a
// dispatcher instance.
type Partition struct {
	DomainID    int32             `json:"domain_id"`
	Handle      [16]byte          `json:"handle"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	VCPUCount   int32             `json:"vcpu_count"`
	HostID      string            `json:"host_id"`
	Phase       PartitionPhase    `json:"phase"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by"`
}

// IsActive returns true if the partition has completed registration
// and is eligible to appear as a schedule entry provider.
func (p *Partition) IsActive() bool {
	return p.Phase == PartitionPhaseActive
}
