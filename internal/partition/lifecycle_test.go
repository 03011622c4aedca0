package partition

import (
	"testing"
	"time"

	"github.com/arinc653/partitiond/internal/partition/hostops"
)

func TestInsertVCPU_Dom0AutoExtend(t *testing.T) {
	host := hostops.NewSimHost(0)
	inst := New(Config{MaxEntries: 8, MaxProviders: 4, EnableDom0AutoExtend: true}, host)
	if err := inst.InitDomain(0); err != nil {
		t.Fatalf("InitDomain(0): %v", err)
	}

	var dom0Handle hostops.DomainHandle
	dom0Handle[0] = 0x01
	v := &hostops.SimVCPU{Handle: dom0Handle, Domain: 0, VCPU: 0, PCPU: 0}

	before := inst.GetSchedule()
	if len(before.Entries) != 0 {
		t.Fatalf("fresh instance has %d entries, want 0", len(before.Entries))
	}

	rec, err := inst.AllocVCPUData(v)
	if err != nil {
		t.Fatalf("AllocVCPUData: %v", err)
	}
	inst.InsertVCPU(rec)

	after := inst.GetSchedule()
	if len(after.Entries) != 1 {
		t.Fatalf("after inserting dom0 vcpu: %d entries, want 1", len(after.Entries))
	}
	if after.MajorFrame != NanosOf(DefaultTimeslice) {
		t.Fatalf("major frame = %d, want %d", after.MajorFrame, NanosOf(DefaultTimeslice))
	}
	total := after.totalRuntime()
	if total > after.MajorFrame {
		t.Fatalf("dom0 auto-extend left an infeasible schedule: total %d > major frame %d", total, after.MajorFrame)
	}
}

func TestInsertVCPU_Dom0AutoExtendDisabledByDefault(t *testing.T) {
	host := hostops.NewSimHost(0)
	inst := New(DefaultConfig(), host)
	inst.InitDomain(0)

	var h hostops.DomainHandle
	h[0] = 0x01
	v := &hostops.SimVCPU{Handle: h, Domain: 0, VCPU: 0, PCPU: 0}
	rec, _ := inst.AllocVCPUData(v)
	inst.InsertVCPU(rec)

	table := inst.GetSchedule()
	if len(table.Entries) != 0 {
		t.Fatalf("dom0 auto-extend fired despite EnableDom0AutoExtend=false: %d entries", len(table.Entries))
	}
}

func TestRemoveVCPU_DropsBindingAndRunsIdle(t *testing.T) {
	host := hostops.NewSimHost(0)
	inst := New(Config{MaxEntries: 4, MaxProviders: 2}, host)
	inst.InitDomain(1)

	var h hostops.DomainHandle
	h[0] = 1
	v := &hostops.SimVCPU{Handle: h, Domain: 1, VCPU: 0, PCPU: 0}
	rec, _ := inst.AllocVCPUData(v)
	inst.InsertVCPU(rec)
	inst.Wake(rec)

	table := ScheduleTable{
		MajorFrame: NanosOf(10 * time.Millisecond),
		Entries:    []ScheduleEntry{{Runtime: NanosOf(10 * time.Millisecond), Providers: []Provider{{DomHandle: h, VCPUID: 0}}}},
	}
	if err := inst.InstallSchedule(0, table); err != nil {
		t.Fatalf("InstallSchedule: %v", err)
	}

	got, _ := inst.DoSchedule(0, 0, false)
	if got != v {
		t.Fatalf("before remove: got %v, want %v", got, v)
	}

	inst.RemoveVCPU(rec)

	got, _ = inst.DoSchedule(0, 1, false)
	if got != nil {
		t.Fatalf("after remove: got %v, want idle", got)
	}
}

func TestAllocVCPUData_AfterClose(t *testing.T) {
	host := hostops.NewSimHost(0)
	inst := New(DefaultConfig(), host)
	inst.Close()

	var h hostops.DomainHandle
	v := &hostops.SimVCPU{Handle: h}
	if _, err := inst.AllocVCPUData(v); err != ErrUnavailable {
		t.Fatalf("AllocVCPUData after close = %v, want ErrUnavailable", err)
	}
	if err := inst.InitDomain(1); err != ErrUnavailable {
		t.Fatalf("InitDomain after close = %v, want ErrUnavailable", err)
	}
}

func TestSleepWake_RaisesSoftIRQOnlyWhenCurrent(t *testing.T) {
	host := hostops.NewSimHost(0)
	inst := New(DefaultConfig(), host)
	inst.InitDomain(1)

	var h hostops.DomainHandle
	h[0] = 1
	v := &hostops.SimVCPU{Handle: h, Domain: 1, VCPU: 0, PCPU: 3}
	rec, _ := inst.AllocVCPUData(v)
	inst.InsertVCPU(rec)
	inst.Wake(rec)
	host.RaisedSoftIRQs() // drain the softirq Wake just raised

	// Not currently running anywhere: Sleep should not raise anything.
	inst.Sleep(rec)
	if got := host.RaisedSoftIRQs(); len(got) != 0 {
		t.Fatalf("Sleep raised softirqs %v while not current", got)
	}

	inst.Wake(rec)
	host.RaisedSoftIRQs()
	host.SetCurrent(3, v)
	inst.Sleep(rec)
	if got := host.RaisedSoftIRQs(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("Sleep while current raised %v, want [3]", got)
	}
}
