package profile

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/lanl/sicm-go/extent"
	"github.com/lanl/sicm-go/router"
)

// imcCounter is one open system-wide perf counter bound to one IMC PMU
// on one CPU, per spec §4.8: "For each (CPU, IMC) pair and each
// configured bandwidth event, open a system-wide (not thread-bound)
// counter at that CPU."
type imcCounter struct {
	fd  int
	cpu int
	imc string
}

// imcPMUType resolves an uncore IMC PMU's perf "type" by reading the
// standard sysfs attribute, since uncore PMU types are assigned
// dynamically by the kernel rather than fixed like PERF_TYPE_HARDWARE.
func imcPMUType(imc string) (uint32, error) {
	data, err := os.ReadFile(fmt.Sprintf("/sys/bus/event_source/devices/%s/type", imc))
	if err != nil {
		return 0, fmt.Errorf("profile: bandwidth: imc %s: %w", imc, err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("profile: bandwidth: imc %s: bad type: %w", imc, err)
	}
	return uint32(n), nil
}

func openIMCCounter(cpu int, imc string, config uint64) (*imcCounter, error) {
	pmuType, err := imcPMUType(imc)
	if err != nil {
		return nil, err
	}
	attr := unix.PerfEventAttr{
		Type:   pmuType,
		Config: config,
		Bits:   unix.PerfBitDisabled,
	}
	attr.Size = uint32(unsafe.Sizeof(attr))

	fd, err := unix.PerfEventOpen(&attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("profile: bandwidth: perf_event_open %s cpu %d: %w", imc, cpu, err)
	}
	return &imcCounter{fd: fd, cpu: cpu, imc: imc}, nil
}

func (c *imcCounter) start() error {
	return unix.IoctlSetInt(c.fd, unix.PERF_EVENT_IOC_ENABLE, 0)
}

func (c *imcCounter) stopAndRead() (uint64, error) {
	if err := unix.IoctlSetInt(c.fd, unix.PERF_EVENT_IOC_DISABLE, 0); err != nil {
		return 0, err
	}
	buf := make([]byte, 8)
	n, err := unix.Read(c.fd, buf)
	if err != nil || n != 8 {
		return 0, fmt.Errorf("profile: bandwidth: read counter: %w", err)
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}

func (c *imcCounter) close() error { return unix.Close(c.fd) }

// socketCounters groups every (IMC, event) counter for one socket's CPU.
type socketCounters struct {
	cpu      int
	counters []*imcCounter
}

// BandwidthProfiler implements spec §4.8's bandwidth profiler: per
// interval, stop counters, sum event values per socket, divide by
// elapsed seconds for cache-lines/second, maintain peak, restart.
// Relative per-arena attribution (splitting a socket's bandwidth in
// proportion to that socket's access-sample share) is supported via
// AttributeBy when the access-sample profiler is also enabled.
type BandwidthProfiler struct {
	skipEvery int
	sockets   []socketCounters
	relative  bool
	lastTick  time.Time
	mu        sync.Mutex

	// SocketTotals holds the last interval's cache-lines/second and peak
	// per socket, independent of per-arena attribution; this is the
	// profiler's natural unit of measurement when relative mode is off.
	SocketTotals map[int]*EventRecord

	// AttributeBy, if set, reports each arena's share of access samples
	// observed on a socket's CPUs during the same interval, used to
	// split the socket's bandwidth total when relative mode is on.
	AttributeBy func(cpu int) map[extent.ArenaID]float64
}

// NewBandwidthProfiler opens one counter per (cpu, imc) pair for the
// configured event code.
func NewBandwidthProfiler(cpus []int, imcs []string, eventConfig uint64, relative bool, skipEvery int) (*BandwidthProfiler, error) {
	p := &BandwidthProfiler{skipEvery: skipEvery, relative: relative, lastTick: timeNow(), SocketTotals: make(map[int]*EventRecord)}
	for _, cpu := range cpus {
		var counters []*imcCounter
		for _, imc := range imcs {
			c, err := openIMCCounter(cpu, imc, eventConfig)
			if err != nil {
				p.Close()
				return nil, err
			}
			if err := c.start(); err != nil {
				p.Close()
				return nil, err
			}
			counters = append(counters, c)
		}
		p.sockets = append(p.sockets, socketCounters{cpu: cpu, counters: counters})
	}
	return p, nil
}

// timeNow exists so profile package construction never calls time.Now
// directly outside of RunInterval's elapsed-time computation, keeping
// the dependency on wall-clock reads localized and easy to audit.
func timeNow() time.Time { return time.Now() }

func (p *BandwidthProfiler) Name() string   { return "bandwidth" }
func (p *BandwidthProfiler) SkipEvery() int { return p.skipEvery }

func (p *BandwidthProfiler) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, s := range p.sockets {
		for _, c := range s.counters {
			if err := c.close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *BandwidthProfiler) RunInterval(ctx context.Context, r *router.Router, profiles map[extent.ArenaID]*ArenaProfile) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := timeNow()
	elapsed := now.Sub(p.lastTick).Seconds()
	p.lastTick = now
	if elapsed <= 0 {
		elapsed = 1
	}

	for _, s := range p.sockets {
		var sum uint64
		for _, c := range s.counters {
			v, err := c.stopAndRead()
			if err != nil {
				return err
			}
			sum += v
			_ = c.start()
		}
		cacheLinesPerSec := uint64(float64(sum) / elapsed)

		rec, ok := p.SocketTotals[s.cpu]
		if !ok {
			rec = &EventRecord{}
			p.SocketTotals[s.cpu] = rec
		}
		rec.fold(cacheLinesPerSec)

		if p.relative && p.AttributeBy != nil {
			shares := p.AttributeBy(s.cpu)
			for id, share := range shares {
				if ap, ok := profiles[id]; ok {
					ap.record("bandwidth", socketEventName(s.cpu)).fold(uint64(float64(cacheLinesPerSec) * share))
				}
			}
		}
	}
	return nil
}

func (p *BandwidthProfiler) SkipInterval(profiles map[extent.ArenaID]*ArenaProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sockets {
		if rec, ok := p.SocketTotals[s.cpu]; ok {
			rec.skip()
		}
		if p.relative {
			name := socketEventName(s.cpu)
			for _, ap := range profiles {
				ap.record("bandwidth", name).skip()
			}
		}
	}
}

func socketEventName(cpu int) string { return fmt.Sprintf("socket_cpu%d", cpu) }
