package hostops

import "sync"

// SimVCPU is a reference VCPURef implementation backed by plain fields.
type SimVCPU struct {
	Handle DomainHandle
	Domain int32
	VCPU   int32
	PCPU   int32
}

func (v *SimVCPU) DomainHandle() DomainHandle { return v.Handle }
func (v *SimVCPU) DomainID() int32            { return v.Domain }
func (v *SimVCPU) VCPUID() int32              { return v.VCPU }
func (v *SimVCPU) Processor() int32           { return v.PCPU }

// SimHost is a goroutine-safe in-memory HostOps+Clock used by tests
// and the control-plane server process, which embeds an
// Instance directly since the real hypervisor side of HostOps is
// explicitly out of scope here. It is not a second production host: it
// exists only to drive and observe the dispatcher without a real
// hypervisor underneath it.
type SimHost struct {
	mu sync.Mutex

	now     int64
	current map[int32]VCPURef // pcpu -> currently running VCPU
	unrun   map[VCPURef]bool  // VCPUs marked not-runnable
	online  map[DomainHandle][]int32
	raised  []int32 // PCPUs that have had a softirq raised, in order
}

// NewSimHost returns a SimHost with its clock at t0.
func NewSimHost(t0 int64) *SimHost {
	return &SimHost{
		now:     t0,
		current: make(map[int32]VCPURef),
		unrun:   make(map[VCPURef]bool),
		online:  make(map[DomainHandle][]int32),
	}
}

// Now implements Clock.
func (h *SimHost) Now() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

// Advance moves the simulated clock forward by delta nanoseconds.
func (h *SimHost) Advance(delta int64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now += delta
	return h.now
}

// SetCurrent records v as the VCPU the host is currently running on
// pcpu. Pass nil to mark the PCPU idle.
func (h *SimHost) SetCurrent(pcpu int32, v VCPURef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v == nil {
		delete(h.current, pcpu)
		return
	}
	h.current[pcpu] = v
}

// CurrentVCPU implements HostOps.
func (h *SimHost) CurrentVCPU(pcpu int32) VCPURef {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current[pcpu]
}

// RaiseRescheduleSoftIRQ implements HostOps.
func (h *SimHost) RaiseRescheduleSoftIRQ(pcpu int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.raised = append(h.raised, pcpu)
}

// RaisedSoftIRQs drains and returns the PCPUs that were signalled since
// the last call.
func (h *SimHost) RaisedSoftIRQs() []int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.raised
	h.raised = nil
	return out
}

// SetRunnable marks v runnable or not. VCPUs default to runnable.
func (h *SimHost) SetRunnable(v VCPURef, runnable bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if runnable {
		delete(h.unrun, v)
		return
	}
	h.unrun[v] = true
}

// Runnable implements HostOps.
func (h *SimHost) Runnable(v VCPURef) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.unrun[v]
}

// SetOnlineCPUs configures the PCPU mask for a domain.
func (h *SimHost) SetOnlineCPUs(handle DomainHandle, pcpus []int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.online[handle] = pcpus
}

// OnlineCPUs implements HostOps.
func (h *SimHost) OnlineCPUs(handle DomainHandle) []int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online[handle]
}
