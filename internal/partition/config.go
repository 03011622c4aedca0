package partition

import "time"

// DefaultTimeslice is the slice handed out when no schedule is
// installed, and the length of the synthetic schedule entry the dom0
// auto-entry special case appends.
const DefaultTimeslice = 10 * time.Millisecond

// Config bounds an Instance's schedule and gates optional behavior.
type Config struct {
	// MaxEntries caps the number of minor frames a single installed
	// schedule may contain.
	MaxEntries int
	// MaxProviders caps the number of ordered providers a single
	// schedule entry may list.
	MaxProviders int
	// EnableDom0AutoExtend gates the special case where inserting any
	// of domain 0's VCPUs, while the schedule holds fewer than
	// MaxEntries entries, appends a synthetic DefaultTimeslice entry
	// for it and grows MajorFrame to match, so a freshly booted host
	// always has somewhere to run its control domain before an
	// operator installs a real schedule. Off by default for embedders
	// that install their own schedule before any VCPU is inserted.
	EnableDom0AutoExtend bool
}

// DefaultConfig returns the bounds the control-plane server starts from
// and the tests use.
func DefaultConfig() Config {
	return Config{
		MaxEntries:           64,
		MaxProviders:         8,
		EnableDom0AutoExtend: false,
	}
}
