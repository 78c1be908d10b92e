// Package device enumerates and classifies the memory tiers (NUMA nodes,
// huge-page variants, and compute-affinity) that the arena and router
// packages bind allocations to.
package device

import (
	"fmt"
	"strings"
)

// Tag identifies which case of a Device's fields is meaningful.
type Tag int

const (
	DRAM Tag = iota
	KnlHBM
	PowerPCHBM
	Invalid
)

func (t Tag) String() string {
	switch t {
	case DRAM:
		return "dram"
	case KnlHBM:
		return "knl_hbm"
	case PowerPCHBM:
		return "powerpc_hbm"
	default:
		return "invalid"
	}
}

// ParseTag recovers a Tag from its String() form, case-insensitively on
// the conventional spellings used in SH_* environment variables.
func ParseTag(s string) (Tag, error) {
	switch strings.ToLower(s) {
	case "dram":
		return DRAM, nil
	case "knl_hbm", "knl-hbm":
		return KnlHBM, nil
	case "powerpc_hbm", "powerpc-hbm":
		return PowerPCHBM, nil
	default:
		return Invalid, fmt.Errorf("device: unrecognized tag %q", s)
	}
}

// Device is a tagged record identifying one memory pool. Per spec, every
// device has a distinct (tag, numa-id, page-size) triple; devices are
// discovered once at startup and never mutated.
type Device struct {
	Tag Tag

	NUMAID   int
	PageKB   int // page size in KiB
	Compute  int // KNL-HBM only: NUMA id of the nearest compute node; -1 otherwise
}

// Equal reports whether two devices identify the same pool.
func (d Device) Equal(o Device) bool {
	return d.Tag == o.Tag && d.NUMAID == o.NUMAID && d.PageKB == o.PageKB
}

func (d Device) IsDRAM() bool       { return d.Tag == DRAM }
func (d Device) IsKnlHBM() bool     { return d.Tag == KnlHBM }
func (d Device) IsPowerPCHBM() bool { return d.Tag == PowerPCHBM }
func (d Device) IsValid() bool      { return d.Tag != Invalid }

func (d Device) String() string {
	if d.Tag == KnlHBM {
		return fmt.Sprintf("%s(node=%d,page=%dKiB,compute=%d)", d.Tag, d.NUMAID, d.PageKB, d.Compute)
	}
	return fmt.Sprintf("%s(node=%d,page=%dKiB)", d.Tag, d.NUMAID, d.PageKB)
}

// "near" distance constants per tier, per spec §4.1.
const (
	nearDRAM       = 10
	nearKnlHBM     = 31
	nearPowerPCHBM = 80
)

// nearDistance returns the OS-reported distance that counts as "near" for
// this device's tier.
func (d Device) nearDistance() int {
	switch d.Tag {
	case KnlHBM:
		return nearKnlHBM
	case PowerPCHBM:
		return nearPowerPCHBM
	default:
		return nearDRAM
	}
}

// List is an ordered sequence of devices.
type List struct {
	Devices []Device
}

// Append adds a device to the list and returns the new list (mirrors the
// original's add_device helper).
func (l List) Append(d Device) List {
	l.Devices = append(l.Devices, d)
	return l
}

// Filter returns the subset of devices matching pred.
func (l List) Filter(pred func(Device) bool) List {
	out := List{}
	for _, d := range l.Devices {
		if pred(d) {
			out.Devices = append(out.Devices, d)
		}
	}
	return out
}

// SamePageSize reports whether every device in the list shares one page
// size, an Arena invariant (spec §3).
func (l List) SamePageSize() bool {
	if len(l.Devices) == 0 {
		return true
	}
	ps := l.Devices[0].PageKB
	for _, d := range l.Devices[1:] {
		if d.PageKB != ps {
			return false
		}
	}
	return true
}
