package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Capacity returns the total bytes available on a device's tier, per
// spec §4.1: base pages read node<N>/meminfo, huge pages read
// hugepages-<K>kB/nr_hugepages.
func (d Device) Capacity() (uint64, error) {
	if d.PageKB == 4 {
		return readMeminfoField(d.NUMAID, "MemTotal")
	}
	nr, err := readHugepageField(d.NUMAID, d.PageKB, "nr_hugepages")
	if err != nil {
		return 0, err
	}
	return nr * uint64(d.PageKB) * 1024, nil
}

// Avail returns the currently-free bytes on a device's tier.
func (d Device) Avail() (uint64, error) {
	if d.PageKB == 4 {
		return readMeminfoField(d.NUMAID, "MemFree")
	}
	free, err := readHugepageField(d.NUMAID, d.PageKB, "free_hugepages")
	if err != nil {
		return 0, err
	}
	return free * uint64(d.PageKB) * 1024, nil
}

func readMeminfoField(node int, field string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(sysfsRoot, fmt.Sprintf("node%d", node), "meminfo"))
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.Contains(line, field) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseUint(fields[len(fields)-2], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("device: field %q not found for node %d", field, node)
}

func readHugepageField(node, pageKB int, field string) (uint64, error) {
	path := filepath.Join(sysfsRoot, fmt.Sprintf("node%d", node), "hugepages",
		fmt.Sprintf("hugepages-%dkB", pageKB), field)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}

// IsNear reports whether the calling thread's current CPU is NUMA-near
// this device, per spec §4.1's tier-specific distance constants.
func (d Device) IsNear() (bool, error) {
	cpu, err := unix.SchedGetcpu()
	if err != nil {
		return false, fmt.Errorf("device: sched_getcpu: %w", err)
	}
	cpuNode, err := cpuToNode(cpu)
	if err != nil {
		return false, err
	}
	dist, err := distance(cpuNode, d.NUMAID)
	if err != nil {
		return false, err
	}
	return dist == d.nearDistance(), nil
}

// DistanceFrom returns the raw OS-reported NUMA distance from the node
// containing cpu to this device's node (the sicm_model_distance
// primitive from original_source).
func (d Device) DistanceFrom(cpu int) (int, error) {
	node, err := cpuToNode(cpu)
	if err != nil {
		return 0, err
	}
	return distance(node, d.NUMAID)
}

func cpuToNode(cpu int) (int, error) {
	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "node") {
			continue
		}
		cpulist, err := os.ReadFile(filepath.Join(sysfsRoot, e.Name(), "cpulist"))
		if err != nil {
			continue
		}
		if cpuInList(cpu, string(cpulist)) {
			n, _ := strconv.Atoi(strings.TrimPrefix(e.Name(), "node"))
			return n, nil
		}
	}
	return 0, fmt.Errorf("device: no node owns cpu %d", cpu)
}

// cpuInList parses the sysfs cpulist grammar ("0-3,8,10-11").
func cpuInList(cpu int, list string) bool {
	for _, part := range strings.Split(strings.TrimSpace(list), ",") {
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, err1 := strconv.Atoi(lo)
			b, err2 := strconv.Atoi(hi)
			if err1 == nil && err2 == nil && cpu >= a && cpu <= b {
				return true
			}
			continue
		}
		v, err := strconv.Atoi(part)
		if err == nil && v == cpu {
			return true
		}
	}
	return false
}

// Pin migrates the current OS thread to this device's compute node, per
// spec §4.1's pin operation. The caller must have pinned its goroutine to
// an OS thread first (runtime.LockOSThread) for this to have a durable
// effect.
func (d Device) Pin() error {
	node := d.NUMAID
	if d.Tag == KnlHBM {
		node = d.Compute
	}
	cpus, err := nodeCPUs(node)
	if err != nil {
		return err
	}
	var set unix.CPUSet
	set.Zero()
	for _, c := range cpus {
		set.Set(c)
	}
	return unix.SchedSetaffinity(0, &set)
}

func nodeCPUs(node int) ([]int, error) {
	data, err := os.ReadFile(filepath.Join(sysfsRoot, fmt.Sprintf("node%d", node), "cpulist"))
	if err != nil {
		return nil, err
	}
	var out []int
	for _, part := range strings.Split(strings.TrimSpace(string(data)), ",") {
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, _ := strconv.Atoi(lo)
			b, _ := strconv.Atoi(hi)
			for c := a; c <= b; c++ {
				out = append(out, c)
			}
			continue
		}
		v, err := strconv.Atoi(part)
		if err == nil {
			out = append(out, v)
		}
	}
	return out, nil
}
