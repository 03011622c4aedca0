package partition

import (
	"testing"

	"github.com/arinc653/partitiond/internal/partition/hostops"
)

func TestPickCPU(t *testing.T) {
	host := hostops.NewSimHost(0)
	inst := New(DefaultConfig(), host)

	var h hostops.DomainHandle
	h[0] = 1

	if got := inst.PickCPU(h, 2); got != 2 {
		t.Fatalf("PickCPU with no online mask = %d, want current pcpu 2", got)
	}

	host.SetOnlineCPUs(h, []int32{0, 1})
	if got := inst.PickCPU(h, 2); got != 0 {
		t.Fatalf("PickCPU off-mask = %d, want first online pcpu 0", got)
	}
	if got := inst.PickCPU(h, 1); got != 1 {
		t.Fatalf("PickCPU already on-mask = %d, want unchanged 1", got)
	}
}

func TestSwitchSched_RecordsIdleAssociation(t *testing.T) {
	host := hostops.NewSimHost(0)
	inst := New(DefaultConfig(), host)

	idle := &VCPURecord{}
	inst.SwitchSched(0, idle)
	if inst.idle[0] != idle {
		t.Fatalf("SwitchSched did not record idle association for pcpu 0")
	}
}
