package profile

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/lanl/sicm-go/extent"
	"github.com/lanl/sicm-go/router"
)

const (
	pagemapEntrySize  = 8
	pagemapPresentBit = uint64(1) << 63
	rssPageSize       = 4096
)

// RSSProfiler implements spec §4.7's residency profiler, reading the
// kernel's /proc/self/pagemap oracle. Per interval, for each extent:
// seek to the extent's base page, read one 8-byte entry per page,
// count entries with the present bit set, multiply by page size,
// accumulate into the owning arena.
type RSSProfiler struct {
	skipEvery int
	mu        sync.Mutex
	f         *os.File
}

// NewRSSProfiler opens /proc/self/pagemap. Per spec §4.11, an
// unreadable pagemap aborts the profiler at startup.
func NewRSSProfiler(skipEvery int) (*RSSProfiler, error) {
	f, err := os.Open("/proc/self/pagemap")
	if err != nil {
		return nil, fmt.Errorf("profile: rss: pagemap unreadable: %w", err)
	}
	return &RSSProfiler{skipEvery: skipEvery, f: f}, nil
}

func (p *RSSProfiler) Name() string   { return "rss" }
func (p *RSSProfiler) SkipEvery() int { return p.skipEvery }
func (p *RSSProfiler) Close() error   { return p.f.Close() }

func (p *RSSProfiler) RunInterval(ctx context.Context, r *router.Router, profiles map[extent.ArenaID]*ArenaProfile) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, ap := range profiles {
		a, ok := r.Tracker().Get(id)
		if !ok {
			continue
		}
		var resident uint64
		a.Registry().ScanArena(id, func(s extent.Slot) {
			n, err := p.residentBytes(s.Start, s.End)
			if err != nil {
				return
			}
			resident += n
		})
		ap.record("rss", "bytes").fold(resident)
	}
	return nil
}

func (p *RSSProfiler) residentBytes(start, end uintptr) (uint64, error) {
	numPages := (int(end-start) + rssPageSize - 1) / rssPageSize
	if numPages == 0 {
		return 0, nil
	}
	offset := int64(start/rssPageSize) * pagemapEntrySize
	buf := make([]byte, numPages*pagemapEntrySize)
	n, err := p.f.ReadAt(buf, offset)
	if err != nil && n == 0 {
		return 0, err
	}
	buf = buf[:n-(n%pagemapEntrySize)]

	var resident uint64
	for i := 0; i+pagemapEntrySize <= len(buf); i += pagemapEntrySize {
		entry := binary.LittleEndian.Uint64(buf[i : i+pagemapEntrySize])
		if entry&pagemapPresentBit != 0 {
			resident += rssPageSize
		}
	}
	return resident, nil
}

func (p *RSSProfiler) SkipInterval(profiles map[extent.ArenaID]*ArenaProfile) {
	for _, ap := range profiles {
		ap.record("rss", "bytes").skip()
	}
}
