package partition

// InstallSchedule validates table in full before mutating anything,
// then installs it atomically and arranges for the new schedule to
// take effect at the next DoSchedule call by setting the dispatch
// cursor's major frame boundary to now: an install is never deferred
// to the previously-installed table's next natural frame boundary.
//
// Validation requires at least one entry, no more than
// Config.MaxEntries, every entry to name between one and
// Config.MaxProviders providers with a strictly positive runtime, and
// the sum of all entry runtimes to not exceed MajorFrame (the static
// feasibility check — this is the only admission control this package
// performs).
func (inst *Instance) InstallSchedule(now Nanos, table ScheduleTable) error {
	if table.MajorFrame <= 0 || len(table.Entries) == 0 || len(table.Entries) > inst.cfg.MaxEntries {
		return ErrInvalidArgument
	}
	var total Nanos
	for _, e := range table.Entries {
		if e.Runtime <= 0 {
			return ErrInvalidArgument
		}
		if len(e.Providers) == 0 || len(e.Providers) > inst.cfg.MaxProviders {
			return ErrInvalidArgument
		}
		total += e.Runtime
	}
	if total > table.MajorFrame {
		return ErrInvalidArgument
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	inst.table = table.clone()
	inst.refreshBindingsLocked()
	inst.schedIndex = 0
	inst.nextMajorFrame = now
	inst.nextSwitchTime = now
	return nil
}

// GetSchedule returns a deep-copy snapshot of the installed schedule.
func (inst *Instance) GetSchedule() ScheduleTable {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.table.clone()
}

// SetDomainParams updates domainID's domain record. parent == -1 means
// leave the parent unchanged; any other value sets it, and derives
// Primary as parent == domainID. healthy is always applied.
func (inst *Instance) SetDomainParams(domainID int32, parent int32, healthy bool) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	d, ok := inst.domains[domainID]
	if !ok {
		return ErrNotFound
	}
	if parent != -1 {
		d.Parent = parent
		d.Primary = d.Parent == domainID
	}
	d.Healthy = healthy
	return nil
}

// GetDomainParams returns a copy of domainID's current domain record.
func (inst *Instance) GetDomainParams(domainID int32) (DomainRecord, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	d, ok := inst.domains[domainID]
	if !ok {
		return DomainRecord{}, ErrNotFound
	}
	return *d, nil
}
