package partition

import "fmt"

// DoSchedule computes what should run on pcpu at time now. It returns
// the elected VCPU (nil meaning the host should substitute its own
// per-PCPU idle VCPU) and the slice of time that decision is valid
// for. taskletPending forces an idle result for this call only,
// without disturbing the dispatch cursor, mirroring a host's need to
// run a tasklet on this PCPU right now regardless of the schedule.
//
// The five steps below — advance, elect, assert, validate, override —
// match the shape of a classic cyclic dispatcher: a per-instance
// cursor (schedIndex, nextSwitchTime) tracks which minor frame is
// active, election picks who runs it, the invariant assertions are a
// deliberate bug trap, not a recoverable error path, and validation
// and the tasklet/migration overrides are applied against that choice.
func (inst *Instance) DoSchedule(pcpu int32, now Nanos, taskletPending bool) (VCPURef, Nanos) {
	inst.mu.Lock()

	var candidate *VCPURecord
	var slice Nanos

	if len(inst.table.Entries) == 0 {
		inst.nextMajorFrame = now + NanosOf(DefaultTimeslice)
		slice = NanosOf(DefaultTimeslice)
	} else {
		entries := inst.table.Entries

		if now >= inst.nextMajorFrame {
			inst.schedIndex = 0
			start := inst.nextMajorFrame
			inst.nextMajorFrame = start + inst.table.MajorFrame
			inst.nextSwitchTime = start + entries[0].Runtime
		}
		for now >= inst.nextSwitchTime && inst.schedIndex < len(entries)-1 {
			inst.schedIndex++
			inst.nextSwitchTime += entries[inst.schedIndex].Runtime
		}

		if now >= inst.nextSwitchTime {
			// Every entry in this major frame has already run; the
			// remainder of the frame runs idle.
			inst.nextSwitchTime = inst.nextMajorFrame
			candidate = nil
		} else {
			candidate = inst.electProviderLocked(&entries[inst.schedIndex])
		}
		slice = inst.nextSwitchTime - now
	}

	if now >= inst.nextMajorFrame {
		inst.mu.Unlock()
		panic(fmt.Sprintf("partition: missed major frame: now=%d next_major_frame=%d", now, inst.nextMajorFrame))
	}
	if slice <= 0 {
		inst.mu.Unlock()
		panic(fmt.Sprintf("partition: non-positive dispatch slice: %d", slice))
	}

	task := inst.validateLocked(candidate)
	inst.mu.Unlock()

	if taskletPending {
		task = nil
	} else if task != nil && task.Host.Processor() != pcpu {
		// Never migrate: a candidate bound to a different PCPU than
		// the one asking is treated as absent for this call.
		task = nil
	}

	if task == nil {
		return nil, slice
	}
	return task.Host, slice
}

// validateLocked applies the final eligibility check to an elected
// candidate: it must still be linked, awake, and reported runnable by
// the host. Called with mu held.
func (inst *Instance) validateLocked(rec *VCPURecord) *VCPURecord {
	if rec == nil || !rec.linked || !rec.Awake {
		return nil
	}
	if inst.host != nil && !inst.host.Runnable(rec.Host) {
		return nil
	}
	return rec
}

// PickCPU chooses which PCPU a VCPU of domain handle should run on,
// preferring to leave it where it already is. Schedule entries name
// providers by (domain, VCPU) and never encode a PCPU assignment, so
// this is consulted only when the host itself needs to place a VCPU
// (e.g. at creation), not by DoSchedule.
func (inst *Instance) PickCPU(handle DomainHandle, currentPCPU int32) int32 {
	online := inst.host.OnlineCPUs(handle)
	if len(online) == 0 {
		return currentPCPU
	}
	for _, c := range online {
		if c == currentPCPU {
			return currentPCPU
		}
	}
	return online[0]
}

// SwitchSched records which VCPU record this Instance should treat as
// pcpu's idle task once it takes over scheduling for pcpu. It has no
// effect on DoSchedule's own decisions — idle substitution is the
// host's job — but gives embedders a place to stash the association
// when a PCPU moves between scheduler instances.
func (inst *Instance) SwitchSched(pcpu int32, idle *VCPURecord) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.idle == nil {
		inst.idle = make(map[int32]*VCPURecord)
	}
	inst.idle[pcpu] = idle
}
