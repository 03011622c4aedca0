package domain

import "time"

// HostPhase represents the lifecycle phase of a physical host running
// one dispatcher instance.
type HostPhase string

const (
	HostPhaseUnknown     HostPhase = "UNKNOWN"
	HostPhasePending     HostPhase = "PENDING"
	HostPhaseReady       HostPhase = "READY"
	HostPhaseNotReady    HostPhase = "NOT_READY"
	HostPhaseMaintenance HostPhase = "MAINTENANCE"
	HostPhaseError       HostPhase = "ERROR"
)

// Host represents a physical machine the control plane has registered
// as running an ARINC 653 dispatcher instance.
type Host struct {
	ID           string            `json:"id"`
	Hostname     string            `json:"hostname"`
	ManagementIP string            `json:"management_ip"`
	Labels       map[string]string `json:"labels,omitempty"`

	PCPUCount int32      `json:"pcpu_count"`
	Phase     HostPhase  `json:"phase"`
	PartitionIDs []int32 `json:"partition_ids,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// IsReady returns true if the host is accepting partition registrations.
func (h *Host) IsReady() bool {
	return h.Phase == HostPhaseReady
}

// PartitionCount returns the number of partitions registered on this host.
func (h *Host) PartitionCount() int {
	return len(h.PartitionIDs)
}
