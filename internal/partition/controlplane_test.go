package partition

import (
	"testing"
	"time"

	"github.com/arinc653/partitiond/internal/partition/hostops"
)

func TestInstallSchedule_ValidationErrors(t *testing.T) {
	host := hostops.NewSimHost(0)
	inst := New(Config{MaxEntries: 2, MaxProviders: 2}, host)

	var h hostops.DomainHandle
	h[0] = 1

	tests := []struct {
		name  string
		table ScheduleTable
	}{
		{"zero major frame", ScheduleTable{MajorFrame: 0, Entries: []ScheduleEntry{{Runtime: NanosOf(time.Millisecond), Providers: []Provider{{DomHandle: h}}}}}},
		{"no entries", ScheduleTable{MajorFrame: NanosOf(time.Second)}},
		{"too many entries", ScheduleTable{
			MajorFrame: NanosOf(time.Second),
			Entries: []ScheduleEntry{
				{Runtime: NanosOf(time.Millisecond), Providers: []Provider{{DomHandle: h}}},
				{Runtime: NanosOf(time.Millisecond), Providers: []Provider{{DomHandle: h}}},
				{Runtime: NanosOf(time.Millisecond), Providers: []Provider{{DomHandle: h}}},
			},
		}},
		{"zero runtime entry", ScheduleTable{
			MajorFrame: NanosOf(time.Second),
			Entries:    []ScheduleEntry{{Runtime: 0, Providers: []Provider{{DomHandle: h}}}},
		}},
		{"no providers", ScheduleTable{
			MajorFrame: NanosOf(time.Second),
			Entries:    []ScheduleEntry{{Runtime: NanosOf(time.Millisecond)}},
		}},
		{"too many providers", ScheduleTable{
			MajorFrame: NanosOf(time.Second),
			Entries: []ScheduleEntry{{
				Runtime:   NanosOf(time.Millisecond),
				Providers: []Provider{{DomHandle: h}, {DomHandle: h}, {DomHandle: h}},
			}},
		}},
		{"infeasible total runtime", ScheduleTable{
			MajorFrame: NanosOf(5 * time.Millisecond),
			Entries:    []ScheduleEntry{{Runtime: NanosOf(10 * time.Millisecond), Providers: []Provider{{DomHandle: h}}}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := inst.InstallSchedule(0, tt.table); err != ErrInvalidArgument {
				t.Fatalf("InstallSchedule(%s) = %v, want ErrInvalidArgument", tt.name, err)
			}
		})
	}
}

func TestGetSchedule_IsADeepCopy(t *testing.T) {
	host := hostops.NewSimHost(0)
	inst := New(Config{MaxEntries: 4, MaxProviders: 2}, host)

	var h hostops.DomainHandle
	h[0] = 1
	table := ScheduleTable{
		MajorFrame: NanosOf(10 * time.Millisecond),
		Entries:    []ScheduleEntry{{Runtime: NanosOf(10 * time.Millisecond), Providers: []Provider{{DomHandle: h}}}},
	}
	if err := inst.InstallSchedule(0, table); err != nil {
		t.Fatalf("InstallSchedule: %v", err)
	}

	snapshot := inst.GetSchedule()
	snapshot.Entries[0].Providers[0].DomHandle[0] = 0xFF

	again := inst.GetSchedule()
	if again.Entries[0].Providers[0].DomHandle[0] == 0xFF {
		t.Fatal("mutating a GetSchedule snapshot leaked into the installed table")
	}
}

func TestDomainParams_SetAndGet(t *testing.T) {
	host := hostops.NewSimHost(0)
	inst := New(DefaultConfig(), host)
	if err := inst.InitDomain(5); err != nil {
		t.Fatalf("InitDomain: %v", err)
	}

	d, err := inst.GetDomainParams(5)
	if err != nil {
		t.Fatalf("GetDomainParams: %v", err)
	}
	if !d.Primary || !d.Healthy || d.Parent != 5 {
		t.Fatalf("freshly initialized domain record = %+v, want self-parented healthy primary", d)
	}

	// parent == -1 leaves Parent/Primary untouched, only updates Healthy.
	if err := inst.SetDomainParams(5, -1, false); err != nil {
		t.Fatalf("SetDomainParams: %v", err)
	}
	d, _ = inst.GetDomainParams(5)
	if d.Healthy || d.Parent != 5 || !d.Primary {
		t.Fatalf("after healthy=false: got %+v", d)
	}

	if err := inst.SetDomainParams(5, 7, true); err != nil {
		t.Fatalf("SetDomainParams: %v", err)
	}
	d, _ = inst.GetDomainParams(5)
	if d.Parent != 7 || d.Primary {
		t.Fatalf("after reparenting to 7: got %+v, want Primary=false", d)
	}

	if _, err := inst.GetDomainParams(999); err != ErrNotFound {
		t.Fatalf("GetDomainParams(unknown) = %v, want ErrNotFound", err)
	}
	if err := inst.SetDomainParams(999, -1, true); err != ErrNotFound {
		t.Fatalf("SetDomainParams(unknown) = %v, want ErrNotFound", err)
	}
}

func TestInitDomain_Duplicate(t *testing.T) {
	host := hostops.NewSimHost(0)
	inst := New(DefaultConfig(), host)
	if err := inst.InitDomain(1); err != nil {
		t.Fatalf("InitDomain: %v", err)
	}
	if err := inst.InitDomain(1); err != ErrAlreadyExists {
		t.Fatalf("InitDomain(dup) = %v, want ErrAlreadyExists", err)
	}
	inst.DestroyDomain(1)
	if err := inst.InitDomain(1); err != nil {
		t.Fatalf("InitDomain after destroy: %v", err)
	}
}
