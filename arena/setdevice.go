package arena

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/lanl/sicm-go/device"
	"github.com/lanl/sicm-go/extent"
	"github.com/lanl/sicm-go/internal/diag"
)

// SetDevices implements spec §4.2's migration algorithm: verify the new
// device list shares the arena's page size, then iterate every extent
// rebinding it to the new node mask. On failure, best-effort rolls back
// extents already moved and surfaces the first error.
func (a *Arena) SetDevices(devices []device.Device, relaxedMigration bool) error {
	dl := device.List{Devices: devices}
	if !dl.SamePageSize() {
		return fmt.Errorf("arena: set-devices: devices must share one page size")
	}

	// Held for the whole scan+mbind+commit sequence (spec §4.2): a
	// concurrent Alloc must not be able to insert a fresh extent bound
	// to the old node mask while migration is in flight, since that
	// extent would never be visited by this Scan and the §8
	// post-condition ("every page in every extent of A resides on a
	// node in D's node mask") would be violated on return.
	a.mu.Lock()
	defer a.mu.Unlock()

	oldPageSize := 4
	if len(a.devices) > 0 {
		oldPageSize = a.devices[0].PageKB
	}
	if devices[0].PageKB != oldPageSize {
		return fmt.Errorf("arena: set-devices: page size %d does not match arena page size %d", devices[0].PageKB, oldPageSize)
	}

	newMask := device.NewNodeMask(devices)
	oldMask := a.nodeMask

	var moved []extent.Slot
	var firstErr error

	a.registry.ScanArena(a.Index, func(slot extent.Slot) {
		if firstErr != nil {
			return
		}
		data := unsafe.Slice((*byte)(unsafe.Pointer(slot.Start)), slot.End-slot.Start)
		moveExisting := !relaxedMigration
		if err := device.Mbind(data, newMask, moveExisting); err != nil {
			firstErr = fmt.Errorf("arena: set-devices: mbind 0x%x..0x%x: %w", slot.Start, slot.End, err)
			return
		}
		moved = append(moved, slot)
	})

	if firstErr != nil {
		// Roll back only the extents we actually moved.
		for _, slot := range moved {
			data := unsafe.Slice((*byte)(unsafe.Pointer(slot.Start)), slot.End-slot.Start)
			if err := device.Mbind(data, oldMask, true); err != nil {
				diag.Warnf("arena: set-devices rollback failed for 0x%x..0x%x: %v", slot.Start, slot.End, err)
			}
		}
		return firstErr
	}

	a.devices = append([]device.Device(nil), devices...)
	a.nodeMask = newMask
	return nil
}

// unixUnmapAll releases every OS mapping in data without touching the
// registry, used only by Destroy.
func unixUnmapAll(start, end uintptr) error {
	data := unsafe.Slice((*byte)(unsafe.Pointer(start)), end-start)
	return unix.Munmap(data)
}
