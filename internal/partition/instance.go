package partition

import "sync"

// Instance is one dispatcher: a registry of linked VCPU records, a
// table of domain records, and the installed schedule with its
// dispatch cursor. Every field below is protected by mu — the
// host-visible analogue of the irq-safe spinlock this kind of
// scheduler is built around in C. Callers must never hold a lock on
// the host side across a call into an Instance method. The one HostOps
// call Instance makes while mu is held is Runnable, during DoSchedule's
// candidate validation.
type Instance struct {
	cfg  Config
	host HostOps

	mu      sync.Mutex
	closed  bool
	table   ScheduleTable
	domains map[int32]*DomainRecord
	vcpus   []*VCPURecord

	// Dispatch cursor. Deliberately instance-wide, not per-PCPU: a
	// single schedule drives every PCPU this Instance is responsible
	// for in lockstep, so there is exactly one "current entry" at a
	// time regardless of how many PCPUs call DoSchedule.
	schedIndex     int
	nextSwitchTime Nanos
	nextMajorFrame Nanos

	// idle records, per PCPU, the VCPURecord SwitchSched associated
	// with that PCPU's idle task. DoSchedule never reads it; it exists
	// for embedders that want to track the association themselves.
	idle map[int32]*VCPURecord
}

// New creates an Instance with no schedule installed. Callers
// typically follow this with InitDomain for domain 0 and enough
// InsertVCPU calls to give it somewhere to run, or with InstallSchedule
// if Config.EnableDom0AutoExtend is false.
func New(cfg Config, host HostOps) *Instance {
	return &Instance{
		cfg:     cfg,
		host:    host,
		domains: make(map[int32]*DomainRecord),
	}
}

// Close marks the Instance closed. Further AllocVCPUData/InitDomain
// calls fail with ErrUnavailable; in-flight dispatch is unaffected.
func (inst *Instance) Close() {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.closed = true
}

// findVCPULocked searches the registry for the record bound to
// (handle, vcpuID). Called with mu held.
func (inst *Instance) findVCPULocked(handle DomainHandle, vcpuID int32) *VCPURecord {
	for _, r := range inst.vcpus {
		if r.Host.DomainHandle() == handle && r.Host.VCPUID() == vcpuID {
			return r
		}
	}
	return nil
}

// refreshBindingsLocked re-resolves every provider's cached VCPURecord
// against the current registry. Called with mu held, after any change
// to the registry or the installed schedule.
func (inst *Instance) refreshBindingsLocked() {
	for i := range inst.table.Entries {
		providers := inst.table.Entries[i].Providers
		for j := range providers {
			p := &providers[j]
			p.bound = inst.findVCPULocked(p.DomHandle, p.VCPUID)
		}
	}
}
