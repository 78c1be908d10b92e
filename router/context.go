package router

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lanl/sicm-go/extent"
)

// maxThreads bounds the number of Contexts NewContext hands out over the
// life of the process (the counter is never decremented), matching
// spec §4.3's "maximum concurrent threads is a configured constant".
const maxThreads = 4096

var threadCounter atomic.Int64

// ErrTooManyThreads is returned by NewContext once maxThreads router
// contexts have been allocated.
var ErrTooManyThreads = fmt.Errorf("router: too many concurrent thread contexts")

// noArena is the sentinel meaning "no arena memoized yet".
const noArena = extent.ArenaID(0xffffffff)

// Context carries the per-"thread" router state spec §4.3 keeps in
// thread-local storage: a lazily assigned thread index (for
// EXCLUSIVE_ARENAS / EXCLUSIVE_DEVICE_ARENAS layouts), a small per-device
// arena memoization map, and a "pending index" slot extent-hook callbacks
// consult mid-allocation. Go has no TLS and goroutines are not pinned to
// OS threads, so callers obtain one Context per logical worker (e.g. one
// per goroutine pool slot) via NewContext and reuse it across calls,
// rather than have the router simulate TLS.
type Context struct {
	threadIndex int64

	mu           sync.Mutex
	deviceArenas map[int]extent.ArenaID // keyed by device NUMAID
	pending      extent.ArenaID
	pendingSet   bool
	exclusive    extent.ArenaID // EXCLUSIVE_ARENAS: the one arena for this thread
	exclusiveSet bool
	small        extent.ArenaID // BIG_SMALL_ARENAS: this thread's small arena
	smallSet     bool
}

// NewContext allocates a fresh thread index and an empty Context.
func NewContext() (*Context, error) {
	idx := threadCounter.Add(1) - 1
	if idx >= maxThreads {
		return nil, ErrTooManyThreads
	}
	return &Context{
		threadIndex:  idx,
		deviceArenas: make(map[int]extent.ArenaID),
	}, nil
}

// ThreadIndex returns this context's lazily-assigned thread index.
func (c *Context) ThreadIndex() int64 { return c.threadIndex }

func (c *Context) setPending(idx extent.ArenaID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = idx
	c.pendingSet = true
}

func (c *Context) clearPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingSet = false
}

// Pending returns the arena index stored by the router just before the
// underlying allocator call, so extent-hook callbacks can look up which
// arena an extent belongs to without the allocator passing it back
// (spec §4.3).
func (c *Context) Pending() (extent.ArenaID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending, c.pendingSet
}

func (c *Context) deviceArena(numaID int) (extent.ArenaID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.deviceArenas[numaID]
	return idx, ok
}

func (c *Context) setDeviceArena(numaID int, idx extent.ArenaID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deviceArenas[numaID] = idx
}

func (c *Context) exclusiveArena() (extent.ArenaID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exclusive, c.exclusiveSet
}

func (c *Context) setExclusiveArena(idx extent.ArenaID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exclusive = idx
	c.exclusiveSet = true
}

func (c *Context) smallArena() (extent.ArenaID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.small, c.smallSet
}

func (c *Context) setSmallArena(idx extent.ArenaID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.small = idx
	c.smallSet = true
}
