package partition

// electProviderLocked walks e's providers in order and returns the
// first one whose bound VCPU is both linked and belongs to a healthy
// domain. Ties are broken purely by array order.
//
// DomainRecord.Primary is deliberately not consulted here: a provider
// earlier in the list always wins over a later one regardless of which
// is flagged primary. Primary is bookkeeping exposed through
// GetDomainParams for the operator's benefit, not an input to
// election. Swapping providers to put the primary first is how an
// operator actually changes who runs.
func (inst *Instance) electProviderLocked(e *ScheduleEntry) *VCPURecord {
	for i := range e.Providers {
		rec := e.Providers[i].bound
		if rec == nil || !rec.linked {
			continue
		}
		dom, ok := inst.domains[rec.Host.DomainID()]
		if !ok || !dom.Healthy {
			continue
		}
		return rec
	}
	return nil
}
