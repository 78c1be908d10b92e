package profile

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/lanl/sicm-go/extent"
	"github.com/lanl/sicm-go/router"
)

// accessRing wraps one perf_event_open ring buffer: a metadata page
// followed by a power-of-two number of data pages, read forward per the
// documented data_head/data_tail protocol. Grounded on the ring-buffer
// tail/head/fence shape of the retrieved perf-ring reference
// implementation (other_examples' joeycold-ebpf perf-ring.go), adapted
// from eBPF-emitted records to raw PERF_SAMPLE_ADDR samples.
type accessRing struct {
	fd   int
	mmap []byte
	meta *unix.PerfEventMmapPage
	data []byte
	mask uint64
}

func openAccessRing(cpu int, sampleFreq uint64, pages int) (*accessRing, error) {
	bits := uint64(unix.PerfBitFreq | unix.PerfBitPreciseIPBit1 | unix.PerfBitExcludeKernel | unix.PerfBitExcludeHv)
	attr := unix.PerfEventAttr{
		Type:        unix.PERF_TYPE_HARDWARE,
		Config:      unix.PERF_COUNT_HW_CACHE_MISSES,
		Bits:        bits, // precise-ip=2, freq-based, user-mode only (spec §4.6)
		Sample_type: unix.PERF_SAMPLE_ADDR,
		Sample:      sampleFreq,
	}
	attr.Size = uint32(unsafe.Sizeof(attr))

	fd, err := unix.PerfEventOpen(&attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("profile: access: perf_event_open cpu %d: %w", cpu, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}

	pageSize := os.Getpagesize()
	size := (pages + 1) * pageSize
	mmap, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("profile: access: mmap ring: %w", err)
	}

	meta := (*unix.PerfEventMmapPage)(unsafe.Pointer(&mmap[0]))
	return &accessRing{
		fd:   fd,
		mmap: mmap,
		meta: meta,
		data: mmap[meta.Data_offset : meta.Data_offset+meta.Data_size],
		mask: meta.Data_size - 1,
	}, nil
}

// drain implements spec §4.6's per-interval tail..head scan: take the
// window, read every 8-byte address sample in it, and publish
// data_tail=head after a compiler fence. Sample framing (perf_event
// headers interleaved with PERF_SAMPLE_ADDR payloads) is parsed
// minimally: only the trailing 8-byte address field of each
// PERF_RECORD_SAMPLE is extracted, consistent with "sample type address
// only" in spec §4.6.
func (r *accessRing) drain(fn func(addr uint64)) {
	head := atomic.LoadUint64(&r.meta.Data_head)
	tail := atomic.LoadUint64(&r.meta.Data_tail)

	for tail < head {
		start := tail & r.mask
		if start+8 > uint64(len(r.data)) {
			break // header would wrap mid-read; drop rather than reconstruct (spec §4.11 overrun handling)
		}
		// Each record begins with a perf_event_header (8 bytes: type,
		// misc, size); the address field for PERF_SAMPLE_ADDR-only
		// records follows immediately.
		hdrSize := readUint16(r.data, start+6)
		if hdrSize < 16 || start+uint64(hdrSize) > uint64(len(r.data)) {
			tail = head // corrupt framing; resynchronize to head per spec's silent-drop policy
			break
		}
		addr := readUint64(r.data, start+8)
		fn(addr)
		tail += uint64(hdrSize)
	}

	// Compiler fence then publish, matching the kernel-documented
	// ring-buffer protocol (spec §5).
	atomic.StoreUint64(&r.meta.Data_tail, head)
}

func readUint16(b []byte, off uint64) uint16 {
	i := off & uint64(len(b)-1)
	return uint16(b[i]) | uint16(b[(i+1)%uint64(len(b))])<<8
}

func readUint64(b []byte, off uint64) uint64 {
	var v uint64
	for i := uint64(0); i < 8; i++ {
		v |= uint64(b[(off+i)%uint64(len(b))]) << (8 * i)
	}
	return v
}

func (r *accessRing) Close() error {
	_ = unix.Munmap(r.mmap)
	return unix.Close(r.fd)
}

// AccessSampleProfiler implements spec §4.6's "profile-all" profiler:
// one ring buffer per configured event, classifying each sampled
// address against the extent registry and incrementing that arena's
// per-event accumulator.
type AccessSampleProfiler struct {
	skipEvery int
	events    []string
	rings     map[string]*accessRing
	mu        sync.Mutex

	// staticMultipliers come from SH_PROFILE_ALL_MULTIPLIERS, paired
	// with the event list at startup; uniformMultiplier is the latency
	// profiler's per-interval scalar when latency's "set multipliers"
	// option is enabled, which wins over a per-event static value.
	staticMultipliers map[string]float64
	uniformMultiplier float64
}

// NewAccessSampleProfiler opens one ring buffer per event on CPU 0 (the
// originating implementation fans events across every CPU; sicm-go
// samples CPU 0 only, a documented deployment constraint rather than a
// silent behavior change).
func NewAccessSampleProfiler(events []string, sampleFreq uint64, maxPages int, skipEvery int) (*AccessSampleProfiler, error) {
	p := &AccessSampleProfiler{
		skipEvery:         skipEvery,
		events:            events,
		rings:             make(map[string]*accessRing, len(events)),
		staticMultipliers: map[string]float64{},
		uniformMultiplier: 1,
	}
	for _, ev := range events {
		ring, err := openAccessRing(0, sampleFreq, maxPages)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.rings[ev] = ring
	}
	return p, nil
}

func (p *AccessSampleProfiler) Name() string   { return "profile_all" }
func (p *AccessSampleProfiler) SkipEvery() int { return p.skipEvery }

// SetStaticMultipliers installs the per-event weights built by
// BuildMultipliers from SH_PROFILE_ALL_EVENTS/SH_PROFILE_ALL_MULTIPLIERS
// at startup.
func (p *AccessSampleProfiler) SetStaticMultipliers(m map[string]float64) {
	p.mu.Lock()
	p.staticMultipliers = m
	p.mu.Unlock()
}

// SetUniformMultiplier overrides every event's weight with a single
// scalar for this interval, the hook the master's tick loop uses to
// propagate a LatencyProfiler's per-interval Multiplier() when
// configured.
func (p *AccessSampleProfiler) SetUniformMultiplier(m float64) {
	p.mu.Lock()
	p.uniformMultiplier = m
	p.mu.Unlock()
}

func (p *AccessSampleProfiler) weightFor(event string) float64 {
	if p.uniformMultiplier != 1 {
		return p.uniformMultiplier
	}
	if w, ok := p.staticMultipliers[event]; ok {
		return w
	}
	return 1
}

func (p *AccessSampleProfiler) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, r := range p.rings {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *AccessSampleProfiler) RunInterval(ctx context.Context, r *router.Router, profiles map[extent.ArenaID]*ArenaProfile) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	registry := r.Tracker().Registry()
	counts := make(map[extent.ArenaID]map[string]uint64)
	for ev, ring := range p.rings {
		ring.drain(func(addr uint64) {
			slot, ok := registry.Find(uintptr(addr))
			if !ok {
				return
			}
			m, ok := counts[slot.Arena]
			if !ok {
				m = make(map[string]uint64)
				counts[slot.Arena] = m
			}
			m[ev]++
		})
	}

	for id, ap := range profiles {
		for _, ev := range p.events {
			weighted := uint64(float64(counts[id][ev]) * p.weightFor(ev))
			ap.record("profile_all", ev).fold(weighted)
		}
	}
	return nil
}

func (p *AccessSampleProfiler) SkipInterval(profiles map[extent.ArenaID]*ArenaProfile) {
	for _, ap := range profiles {
		for _, ev := range p.events {
			ap.record("profile_all", ev).skip()
		}
	}
}
