// Package partition implements an ARINC 653-style time-partitioned
// dispatcher: a static, cyclic major-frame schedule of per-entry VCPU
// providers, dispatched with no cross-PCPU migration and no priority
// inheritance. The algorithmic shape follows a classic fixed-cycle
// avionics scheduler; the multi-provider primary/backup election on
// top of it is this package's own.
package partition

import (
	"time"

	"github.com/arinc653/partitiond/internal/partition/hostops"
)

// DomainHandle, VCPURef and HostOps are the host-facing types a caller
// needs to drive an Instance; they live in hostops so that package
// stays free of any dependency on this one.
type (
	DomainHandle = hostops.DomainHandle
	VCPURef      = hostops.VCPURef
	HostOps      = hostops.HostOps
	Clock        = hostops.Clock
)

// Nanos is a monotonic timestamp or duration in nanoseconds, the unit
// DoSchedule and the schedule table are expressed in. It is distinct
// from time.Duration only so arithmetic on it can't accidentally slip
// in a time.Time-relative value.
type Nanos int64

// NanosOf converts a time.Duration to Nanos.
func NanosOf(d time.Duration) Nanos { return Nanos(d.Nanoseconds()) }

// Duration converts n back to a time.Duration.
func (n Nanos) Duration() time.Duration { return time.Duration(n) }

// VCPURecord is the scheduler-owned bookkeeping record for one host
// VCPU (spec data model's "R"). A record is created unlinked by
// AllocVCPUData and only becomes visible to dispatch once InsertVCPU
// links it into the instance's registry.
type VCPURecord struct {
	Host  VCPURef
	Awake bool

	linked bool
}

// DomainRecord is the scheduler-owned bookkeeping record for one
// domain (spec data model's "D"): its configured parent, whether it is
// currently considered the primary for that relationship, and whether
// an operator or health monitor currently considers it healthy.
//
// Primary is maintained here and returned by GetDomainParams but is
// never consulted during provider election — see election.go.
type DomainRecord struct {
	DomainID int32
	Parent   int32
	Primary  bool
	Healthy  bool
}

// Provider is one ordered candidate in a schedule entry's provider
// list: a (domain handle, VCPU id) pair naming a VCPU that may run
// during this entry. bound caches the resolved VCPURecord so election
// doesn't have to search the registry on every dispatch; it is
// refreshed whenever the registry or the installed schedule changes.
type Provider struct {
	DomHandle DomainHandle
	VCPUID    int32

	bound *VCPURecord
}

// ScheduleEntry is one minor frame: a service running for Runtime
// nanoseconds, dispatched to whichever of Providers elects first.
type ScheduleEntry struct {
	ServiceID int32
	Runtime   Nanos
	Providers []Provider
}

// ScheduleTable is the full installed cyclic schedule: MajorFrame
// nanoseconds containing Entries in order, repeating forever once
// installed. NextMajorFrame and the per-entry dispatch cursor are
// instance-level state, not part of the table itself — see instance.go.
type ScheduleTable struct {
	MajorFrame Nanos
	Entries    []ScheduleEntry
}

// totalRuntime sums the runtime of every entry in the table.
func (t ScheduleTable) totalRuntime() Nanos {
	var total Nanos
	for _, e := range t.Entries {
		total += e.Runtime
	}
	return total
}

// clone deep-copies t, including each entry's provider slice, so a
// caller holding a snapshot can't observe or cause mutation of the
// installed table.
func (t ScheduleTable) clone() ScheduleTable {
	out := ScheduleTable{MajorFrame: t.MajorFrame}
	if t.Entries == nil {
		return out
	}
	out.Entries = make([]ScheduleEntry, len(t.Entries))
	for i, e := range t.Entries {
		out.Entries[i] = e
		if e.Providers != nil {
			out.Entries[i].Providers = make([]Provider, len(e.Providers))
			copy(out.Entries[i].Providers, e.Providers)
		}
	}
	return out
}
