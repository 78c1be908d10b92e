package arena

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/lanl/sicm-go/device"
	"github.com/lanl/sicm-go/extent"
	"github.com/lanl/sicm-go/internal/diag"
)

// Hooks is the extent-hook vector an underlying allocator (e.g. jemalloc)
// would call back into when it needs OS memory for this arena, or wants
// to release, split, or merge it. Modeled as a Go interface bound to one
// Arena rather than a raw function-pointer vtable, per DESIGN NOTES §9
// ("borrow-erased vtable bound to a single arena").
type Hooks interface {
	Alloc(size, alignment uintptr) (addr unsafe.Pointer, zero, commit bool, err error)
	Dalloc(addr unsafe.Pointer, size uintptr) error
	Destroy(addr unsafe.Pointer, size uintptr) error
	Commit(addr unsafe.Pointer, size uintptr) error
	Decommit(addr unsafe.Pointer, size uintptr) error
	PurgeLazy(addr unsafe.Pointer, size uintptr) error
	PurgeForced(addr unsafe.Pointer, size uintptr) error
	Split(addr unsafe.Pointer, size, sizeA, sizeB uintptr) error
	Merge(addrA unsafe.Pointer, sizeA uintptr, addrB unsafe.Pointer, sizeB uintptr) error
}

// AllocCallback and DallocCallback are optional global hooks invoked on
// every successful insert/delete (spec §4.2 steps 6 and 3).
type AllocCallback func(start, end uintptr, arena extent.ArenaID)
type DallocCallback func(start, end uintptr, arena extent.ArenaID)

var (
	globalAllocCallback  AllocCallback
	globalDallocCallback DallocCallback
)

// SetGlobalCallbacks installs process-wide alloc/dalloc observers.
func SetGlobalCallbacks(onAlloc AllocCallback, onDalloc DallocCallback) {
	globalAllocCallback = onAlloc
	globalDallocCallback = onDalloc
}

// ErrMaxSize is returned when an allocation would exceed the arena's
// configured maximum size.
var ErrMaxSize = fmt.Errorf("arena: allocation would exceed max size")

// ErrUnsupported is returned by hooks the allocator never actually needs
// (split/merge; spec §4.2).
var ErrUnsupported = fmt.Errorf("arena: operation unsupported")

const pageSize = 4096

func alignUp(v, align uintptr) uintptr {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// zeroSizeAlloc is the sentinel the allocator returns for alloc(_, 0),
// per spec §8: "delegate to the underlying allocator's zero-size
// convention and never insert an extent." A fresh one-byte Go
// allocation gives every call a unique, non-dereferenceable-as-larger
// address (matching malloc(0)'s "valid but useless" pointer contract)
// with nothing for Dalloc to look up, since no extent is ever inserted
// for it.
func zeroSizeAlloc() unsafe.Pointer {
	return unsafe.Pointer(new(byte))
}

// Alloc implements the alloc hook algorithm of spec §4.2.
func (a *Arena) Alloc(size, alignment uintptr) (unsafe.Pointer, bool, bool, error) {
	if size == 0 {
		return zeroSizeAlloc(), false, false, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.MaxSize != 0 && a.size+size > a.MaxSize {
		return nil, false, false, ErrMaxSize
	}

	mask := a.nodeMask
	policy := a.policy

	data, err := a.mapRegion(size)
	if err != nil {
		return nil, false, false, fmt.Errorf("arena: mmap: %w", err)
	}

	base := uintptr(unsafe.Pointer(&data[0]))
	if alignment > 0 && base%alignment != 0 {
		_ = unix.Munmap(data)
		data, base, err = a.mapAligned(size, alignment)
		if err != nil {
			return nil, false, false, fmt.Errorf("arena: aligned mmap: %w", err)
		}
	}

	if err := bindRegion(data, mask, policy); err != nil {
		_ = unix.Munmap(data)
		return nil, false, false, fmt.Errorf("arena: mbind: %w", err)
	}

	end := base + uintptr(len(data))
	a.registry.Insert(base, end, a.Index)
	a.size += uintptr(len(data))
	if globalAllocCallback != nil {
		globalAllocCallback(base, end, a.Index)
	}

	// Never zero-fill-guaranteed and never commit-tracked, per spec §4.2
	// and DESIGN NOTES' preserved "never zero-guaranteed" contract.
	return unsafe.Pointer(&data[0]), false, false, nil
}

func (a *Arena) mapRegion(size uintptr) ([]byte, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	if a.backing.Anonymous {
		flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS
		return unix.Mmap(-1, 0, int(size), prot, flags)
	}
	flags := unix.MAP_SHARED
	return unix.Mmap(int(a.backing.File.Fd()), a.backing.Offset, int(size), prot, flags)
}

// mapAligned retries with extra slack then trims unaligned flanks, per
// spec §4.2 step 4.
func (a *Arena) mapAligned(size, alignment uintptr) ([]byte, uintptr, error) {
	slack := size + alignment
	data, err := a.mapRegion(slack)
	if err != nil {
		return nil, 0, err
	}
	base := uintptr(unsafe.Pointer(&data[0]))
	alignedBase := alignUp(base, alignment)
	leadTrim := alignedBase - base
	tailTrim := slack - leadTrim - size

	if leadTrim > 0 {
		if err := unix.Munmap(data[:leadTrim]); err != nil {
			_ = unix.Munmap(data)
			return nil, 0, err
		}
	}
	if tailTrim > 0 {
		if err := unix.Munmap(data[leadTrim+size:]); err != nil {
			return nil, 0, err
		}
	}
	return data[leadTrim : leadTrim+size], alignedBase, nil
}

func bindRegion(data []byte, mask device.NodeMask, policy BindPolicy) error {
	if policy == Relaxed {
		return device.MbindPreferred(data, mask, true)
	}
	return device.Mbind(data, mask, true)
}

// Dalloc implements the partial-release algorithm of spec §4.2.
func (a *Arena) Dalloc(addr unsafe.Pointer, size uintptr) error {
	if size == 0 {
		// Mirror of Alloc's zero-size convention: zeroSizeAlloc never
		// inserted an extent, so there is nothing here to look up or
		// release.
		return nil
	}

	target := uintptr(addr)
	leftover := size

	for leftover > 0 {
		slot, ok := a.registry.Find(target)
		if !ok {
			diag.Warnf("arena: dalloc: no extent contains 0x%x", target)
			return fmt.Errorf("arena: dalloc failed: no matching extent")
		}
		slotLen := slot.End - slot.Start

		switch {
		case target == slot.Start && leftover == slotLen:
			// Case 1: exact match.
			a.unmapAndDelete(slot)
			leftover = 0

		case target == slot.Start && leftover > slotLen:
			// Case 2: target starts the extent but leftover overruns it;
			// delete the whole extent and continue from its end.
			a.unmapAndDelete(slot)
			leftover -= slotLen
			target = slot.End

		case target >= slot.Start && target+leftover <= slot.End:
			// Case 3: partial release fully inside the extent; split.
			a.splitDalloc(slot, target, leftover)
			leftover = 0

		default:
			diag.Warnf("arena: dalloc: partial free at 0x%x has no matching extent", target)
			return fmt.Errorf("arena: dalloc failed: unmatched partial free")
		}
	}
	return nil
}

// hugePageUnmapLen rounds length up to a multiple of the arena's device
// page size, per spec §8's huge-page boundary behavior: "allocation
// sizes are rounded up to a multiple of the device's page size by the
// free side for correctness of the unmap length." Base 4 KiB-page
// arenas pass length through unchanged; a huge-page-backed device's
// page granularity can exceed the size an odd-sized extent actually
// tracks, and munmap needs the rounded length to release the whole
// underlying reservation rather than leaving a fractional huge page
// mapped.
func (a *Arena) hugePageUnmapLen(length uintptr) uintptr {
	pageBytes := uintptr(a.PageSize()) * 1024
	if pageBytes <= pageSize {
		return length
	}
	return alignUp(length, pageBytes)
}

func (a *Arena) unmapAndDelete(slot extent.Slot) {
	length := slot.End - slot.Start
	// hugePageUnmapLen reads the page size through PageSize, which takes
	// a.mu itself, so it is computed before the lock is acquired.
	unmapLen := a.hugePageUnmapLen(length)

	a.mu.Lock()
	defer a.mu.Unlock()

	data := unsafe.Slice((*byte)(unsafe.Pointer(slot.Start)), unmapLen)
	if err := unix.Munmap(data); err != nil {
		diag.Warnf("arena: munmap 0x%x..0x%x: %v", slot.Start, slot.End, err)
	}
	a.registry.Delete(slot.Start, slot.End)
	if a.size >= length {
		a.size -= length
	} else {
		a.size = 0
	}
	if globalDallocCallback != nil {
		globalDallocCallback(slot.Start, slot.End, slot.Arena)
	}
}

// splitDalloc handles target in [slot.Start, slot.End), with
// target+leftover <= slot.End: delete the old entry, unmap only the
// middle, and insert up to two replacement extents for the surviving
// prefix/suffix (spec §4.2 case 3). This supersedes the original's
// `#if 0`-disabled path per DESIGN NOTES.
func (a *Arena) splitDalloc(slot extent.Slot, target, leftover uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	midStart := target
	midEnd := target + leftover
	mid := unsafe.Slice((*byte)(unsafe.Pointer(midStart)), midEnd-midStart)
	if err := unix.Munmap(mid); err != nil {
		diag.Warnf("arena: munmap middle 0x%x..0x%x: %v", midStart, midEnd, err)
	}

	var replacements []extent.Slot
	if midStart > slot.Start {
		replacements = append(replacements, extent.Slot{Live: true, Start: slot.Start, End: midStart, Arena: slot.Arena})
	}
	if midEnd < slot.End {
		replacements = append(replacements, extent.Slot{Live: true, Start: midEnd, End: slot.End, Arena: slot.Arena})
	}
	a.registry.ReplaceSplit(slot.Start, slot.End, replacements)

	if a.size >= leftover {
		a.size -= leftover
	} else {
		a.size = 0
	}
	if globalDallocCallback != nil {
		globalDallocCallback(midStart, midEnd, slot.Arena)
	}
}

// DestroyHook has the same semantics as Dalloc (spec §4.2).
func (a *Arena) DestroyHook(addr unsafe.Pointer, size uintptr) error {
	return a.Dalloc(addr, size)
}

// Commit is unsupported: it always fails (spec §4.2).
func (a *Arena) Commit(addr unsafe.Pointer, size uintptr) error {
	return ErrUnsupported
}

// Decommit is unsupported but reports success with no action, matching
// jemalloc's convention that a no-op decommit is safe (spec §4.2).
func (a *Arena) Decommit(addr unsafe.Pointer, size uintptr) error {
	return nil
}

// PurgeLazy and PurgeForced are unsupported (null hooks, spec §4.2).
func (a *Arena) PurgeLazy(addr unsafe.Pointer, size uintptr) error   { return ErrUnsupported }
func (a *Arena) PurgeForced(addr unsafe.Pointer, size uintptr) error { return ErrUnsupported }

// Split and Merge are unsupported; extents are tracked atomically and the
// Dalloc path reconstructs partial frees by searching the registry
// (spec §4.2).
func (a *Arena) Split(addr unsafe.Pointer, size, sizeA, sizeB uintptr) error {
	return ErrUnsupported
}

func (a *Arena) Merge(addrA unsafe.Pointer, sizeA uintptr, addrB unsafe.Pointer, sizeB uintptr) error {
	return ErrUnsupported
}
