package device

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Timing holds millisecond durations for each phase of Benchmark,
// mirroring the original's sicm_timing struct.
type Timing struct {
	AllocMS uint32
	WriteMS uint32
	ReadMS  uint32
	FreeMS  uint32
}

// Benchmark times a raw alloc/write/read/free cycle of size bytes bound
// to this device, independent of the arena subsystem. It is a standalone
// diagnostic (sicm_latency in the original), not used by the allocation
// fast path.
func Benchmark(d Device, size int) (Timing, error) {
	if size <= 0 {
		return Timing{}, fmt.Errorf("device: benchmark size must be positive")
	}

	var t Timing

	start := time.Now()
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return Timing{}, fmt.Errorf("device: benchmark mmap: %w", err)
	}
	mask := NewNodeMask([]Device{d})
	if err := mbind(data, mask, mbindModeBind, true); err != nil {
		_ = unix.Munmap(data)
		return Timing{}, fmt.Errorf("device: benchmark mbind: %w", err)
	}
	t.AllocMS = uint32(time.Since(start).Milliseconds())

	start = time.Now()
	for i := range data {
		data[i] = byte(i)
	}
	t.WriteMS = uint32(time.Since(start).Milliseconds())

	start = time.Now()
	sum := byte(0)
	for _, b := range data {
		sum += b
	}
	_ = sum
	t.ReadMS = uint32(time.Since(start).Milliseconds())

	start = time.Now()
	if err := unix.Munmap(data); err != nil {
		return t, fmt.Errorf("device: benchmark munmap: %w", err)
	}
	t.FreeMS = uint32(time.Since(start).Milliseconds())

	return t, nil
}
