package router

import (
	"fmt"
	"unsafe"
)

// Alloc implements the application-visible alloc(site, size) entry point
// of spec §6. Site 0 bypasses SICM and must be handled by the caller
// before reaching the router (spec: "Site 0 bypasses SICM"); Resolve
// makes no special case for it.
func (r *Router) Alloc(ctx *Context, site int, size uintptr) (unsafe.Pointer, error) {
	a, err := r.Resolve(ctx, site, size)
	if err != nil {
		return nil, err
	}
	ptr, _, _, err := a.Alloc(size, 0)
	if ctx != nil {
		ctx.clearPending()
	}
	return ptr, err
}

// Calloc implements calloc(site, nmemb, size): allocate nmemb*size bytes,
// zeroed. Every arena extent comes from a fresh anonymous mmap, which the
// kernel already zero-fills, so no explicit zeroing pass is needed here
// (mirrors the "never zero-guaranteed... but anonymous mmap is
// zero-on-first-touch in practice" note in spec §9).
func (r *Router) Calloc(ctx *Context, site int, nmemb, size uintptr) (unsafe.Pointer, error) {
	total := nmemb * size
	if nmemb != 0 && total/nmemb != size {
		return nil, fmt.Errorf("router: calloc: size overflow")
	}
	return r.Alloc(ctx, site, total)
}

// AlignedAlloc implements aligned_alloc(site, align, size).
func (r *Router) AlignedAlloc(ctx *Context, site int, align, size uintptr) (unsafe.Pointer, error) {
	a, err := r.Resolve(ctx, site, size)
	if err != nil {
		return nil, err
	}
	ptr, _, _, err := a.Alloc(size, align)
	if ctx != nil {
		ctx.clearPending()
	}
	return ptr, err
}

// Memalign implements memalign(site, align, size); identical semantics to
// AlignedAlloc for this router (spec §6 lists them as distinct call
// sites with the same underlying behavior).
func (r *Router) Memalign(ctx *Context, site int, align, size uintptr) (unsafe.Pointer, error) {
	return r.AlignedAlloc(ctx, site, align, size)
}

// PosixMemalign implements posix_memalign(site, &out, align, size),
// returning the pointer via out and an error in place of errno.
func (r *Router) PosixMemalign(ctx *Context, site int, align, size uintptr) (out unsafe.Pointer, err error) {
	return r.AlignedAlloc(ctx, site, align, size)
}

// Realloc implements realloc(site, ptr, size): allocate fresh storage,
// copy min(old, new) bytes, free the original. The router has no
// in-place-grow fast path since extents are fixed-size OS mappings
// (spec §4.2's Dalloc/Alloc pair has no resize hook).
func (r *Router) Realloc(ctx *Context, site int, ptr unsafe.Pointer, oldSize, newSize uintptr) (unsafe.Pointer, error) {
	if ptr == nil {
		return r.Alloc(ctx, site, newSize)
	}
	if newSize == 0 {
		return nil, r.Free(ptr, oldSize)
	}

	newPtr, err := r.Alloc(ctx, site, newSize)
	if err != nil {
		return nil, err
	}

	n := oldSize
	if newSize < n {
		n = newSize
	}
	if n > 0 {
		src := unsafe.Slice((*byte)(ptr), n)
		dst := unsafe.Slice((*byte)(newPtr), n)
		copy(dst, src)
	}

	if err := r.Free(ptr, oldSize); err != nil {
		return newPtr, err
	}
	return newPtr, nil
}

// Free implements free(ptr): look up which arena owns ptr via the
// process-wide extent registry and dalloc from it.
func (r *Router) Free(ptr unsafe.Pointer, size uintptr) error {
	if ptr == nil {
		return nil
	}
	addr := uintptr(ptr)
	slot, ok := r.tracker.Registry().Find(addr)
	if !ok {
		return fmt.Errorf("router: free: no arena owns 0x%x", addr)
	}
	a, ok := r.tracker.Get(slot.Arena)
	if !ok {
		return fmt.Errorf("router: free: extent at 0x%x belongs to destroyed arena %d", addr, slot.Arena)
	}
	return a.Dalloc(ptr, size)
}
