package device

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// mbind policy modes, matching linux/mempolicy.h. golang.org/x/sys/unix
// does not wrap mbind(2) on every architecture, so it is issued as a raw
// syscall the same way hal_native.go drops to raw syscall numbers for
// primitives the high-level package doesn't cover.
const (
	mbindModeDefault = 0
	mbindModeBind    = 2
	mbindModePrefer  = 1

	mpolMFMove = 1 << 1
)

// mbind binds the virtual memory region [addr, addr+len) to the nodes in
// mask using the given policy mode. moveExisting requests the kernel
// migrate any already-resident pages (MPOL_MF_MOVE), as required by
// spec §4.2 step 5 and §4.2's set-devices operation.
func mbind(data []byte, mask NodeMask, mode int, moveExisting bool) error {
	if len(data) == 0 {
		return nil
	}
	words := mask.words()
	flags := uintptr(0)
	if moveExisting {
		flags = mpolMFMove
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_MBIND,
		uintptr(unsafe.Pointer(&data[0])),
		uintptr(len(data)),
		uintptr(mode),
		uintptr(unsafe.Pointer(&words[0])),
		uintptr(len(words)*64),
		flags,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// Mbind is the exported form used by the arena package to migrate an
// extent's pages to a new node mask (spec §4.2 set-devices).
func Mbind(data []byte, mask NodeMask, moveExisting bool) error {
	return mbind(data, mask, mbindModeBind, moveExisting)
}

// MbindPreferred issues a RELAXED (preferred, not strict) binding per
// spec §3's arena binding-policy flag.
func MbindPreferred(data []byte, mask NodeMask, moveExisting bool) error {
	return mbind(data, mask, mbindModePrefer, moveExisting)
}

// MbindDefault restores the default memory policy for a region, used to
// restore the prior policy after a temporary alloc-time override
// (spec §4.2 step 7).
func MbindDefault(data []byte) error {
	return mbind(data, NodeMask{}, mbindModeDefault, false)
}
