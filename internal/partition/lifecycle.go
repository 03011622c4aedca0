package partition

// AllocVCPUData returns a new, unlinked VCPURecord for v. The record
// is not visible to dispatch until it is passed to InsertVCPU.
func (inst *Instance) AllocVCPUData(v VCPURef) (*VCPURecord, error) {
	inst.mu.Lock()
	closed := inst.closed
	inst.mu.Unlock()
	if closed {
		return nil, ErrUnavailable
	}
	return &VCPURecord{Host: v, Awake: false}, nil
}

// FreeVCPUData drops a record allocated by AllocVCPUData. The caller
// must have already removed it from dispatch with RemoveVCPU if it was
// ever inserted; FreeVCPUData itself does no registry bookkeeping.
func (inst *Instance) FreeVCPUData(r *VCPURecord) {
	r.Host = nil
}

// InsertVCPU links r into the dispatch registry. If r belongs to
// domain 0, Config.EnableDom0AutoExtend is set, and the schedule holds
// fewer than Config.MaxEntries entries, a synthetic DefaultTimeslice
// entry naming r as sole provider is
// appended to the installed schedule and MajorFrame is grown by the
// same amount, preserving the schedule's feasibility invariant.
func (inst *Instance) InsertVCPU(r *VCPURecord) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	inst.vcpus = append(inst.vcpus, r)
	r.linked = true

	if inst.cfg.EnableDom0AutoExtend && r.Host.DomainID() == 0 && len(inst.table.Entries) < inst.cfg.MaxEntries {
		inst.table.Entries = append(inst.table.Entries, ScheduleEntry{
			ServiceID: 0,
			Runtime:   NanosOf(DefaultTimeslice),
			Providers: []Provider{{DomHandle: r.Host.DomainHandle(), VCPUID: r.Host.VCPUID()}},
		})
		inst.table.MajorFrame += NanosOf(DefaultTimeslice)
	}

	inst.refreshBindingsLocked()
}

// RemoveVCPU unlinks r from the dispatch registry. Any schedule entry
// still naming it simply elects its next healthy provider, or runs
// idle if none remain.
func (inst *Instance) RemoveVCPU(r *VCPURecord) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	for i, v := range inst.vcpus {
		if v == r {
			inst.vcpus = append(inst.vcpus[:i], inst.vcpus[i+1:]...)
			break
		}
	}
	r.linked = false
	inst.refreshBindingsLocked()
}

// InitDomain registers a domain record for domainID, self-parented and
// healthy. It is an error to call this twice for the same domainID
// without an intervening DestroyDomain.
func (inst *Instance) InitDomain(domainID int32) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.closed {
		return ErrUnavailable
	}
	if _, exists := inst.domains[domainID]; exists {
		return ErrAlreadyExists
	}
	inst.domains[domainID] = &DomainRecord{
		DomainID: domainID,
		Parent:   domainID,
		Primary:  true,
		Healthy:  true,
	}
	return nil
}

// DestroyDomain drops domainID's domain record. The host guarantees
// every VCPU belonging to domainID has already been removed via
// RemoveVCPU before calling this.
func (inst *Instance) DestroyDomain(domainID int32) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	delete(inst.domains, domainID)
}

// Sleep marks r not awake. If the host currently has r running on its
// PCPU, a reschedule softirq is raised there so the next DoSchedule
// call picks a replacement.
func (inst *Instance) Sleep(r *VCPURecord) {
	inst.mu.Lock()
	r.Awake = false
	pcpu := r.Host.Processor()
	inst.mu.Unlock()

	if inst.host.CurrentVCPU(pcpu) == r.Host {
		inst.host.RaiseRescheduleSoftIRQ(pcpu)
	}
}

// Wake marks r awake and raises a reschedule softirq on its PCPU so it
// gets a chance to run at the next dispatch.
func (inst *Instance) Wake(r *VCPURecord) {
	inst.mu.Lock()
	r.Awake = true
	pcpu := r.Host.Processor()
	inst.mu.Unlock()

	inst.host.RaiseRescheduleSoftIRQ(pcpu)
}
