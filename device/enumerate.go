package device

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// refcount tracks idempotent Init/Shutdown per spec §4.1.
var (
	mu        sync.Mutex
	refcount  int
	cachedLst List
	cachedErr error
)

// sysfsRoot is overridable in tests.
var sysfsRoot = "/sys/devices/system/node"

const knlCPUIDModel = 0x57

// knlNearDistance is the distance used to pair a KNL HBM node with its
// nearest compute node, per spec §4.1 step 5.
const knlNearDistance = 31

// Init enumerates and classifies devices, idempotently. Repeated calls
// return the same list and increment a reference count; Shutdown
// decrements it.
func Init() (List, error) {
	mu.Lock()
	defer mu.Unlock()

	if refcount > 0 {
		refcount++
		return cachedLst, cachedErr
	}

	lst, err := enumerate()
	cachedLst, cachedErr = lst, err
	refcount = 1
	return lst, err
}

// Shutdown decrements the reference count established by Init.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if refcount > 0 {
		refcount--
	}
}

func enumerate() (List, error) {
	memNodes, err := memoryNodes()
	if err != nil {
		return List{}, fmt.Errorf("device: enumerate memory nodes: %w", err)
	}

	computeNodes, err := computeNodeSet()
	if err != nil {
		return List{}, fmt.Errorf("device: enumerate compute nodes: %w", err)
	}

	hugeSizes, err := hugePageSizesKB()
	if err != nil {
		return List{}, fmt.Errorf("device: enumerate huge page sizes: %w", err)
	}

	isKNL := runtime.GOARCH == "amd64" && cpuIsKNL()
	isPower := strings.HasPrefix(runtime.GOARCH, "ppc64")

	var out List
	for _, node := range memNodes {
		hasCompute := computeNodes[node]

		tag, compute := classify(node, hasCompute, isKNL, isPower, computeNodes)

		out = out.Append(Device{Tag: tag, NUMAID: node, PageKB: 4, Compute: compute})
		for _, hp := range hugeSizes {
			out = out.Append(Device{Tag: tag, NUMAID: node, PageKB: hp, Compute: compute})
		}
	}
	return out, nil
}

// classify implements spec §4.1 step 5.
func classify(node int, hasCompute, isKNL, isPower bool, computeNodes map[int]bool) (Tag, int) {
	if hasCompute {
		return DRAM, -1
	}
	switch {
	case isKNL:
		return KnlHBM, nearestComputePeer(node, computeNodes)
	case isPower:
		return PowerPCHBM, -1
	default:
		return DRAM, -1
	}
}

// nearestComputePeer finds the compute node at the architecture's
// characteristic "near-HBM" distance from node.
func nearestComputePeer(node int, computeNodes map[int]bool) int {
	for peer := range computeNodes {
		if d, err := distance(node, peer); err == nil && d == knlNearDistance {
			return peer
		}
	}
	// Fall back to lowest-numbered compute node if the distance table
	// doesn't report the expected value (e.g. running under emulation).
	peers := make([]int, 0, len(computeNodes))
	for p := range computeNodes {
		peers = append(peers, p)
	}
	sort.Ints(peers)
	if len(peers) > 0 {
		return peers[0]
	}
	return -1
}

func memoryNodes() ([]int, error) {
	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`^node(\d+)$`)
	var nodes []int
	for _, e := range entries {
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		if hasMemory(n) {
			nodes = append(nodes, n)
		}
	}
	sort.Ints(nodes)
	return nodes, nil
}

func hasMemory(node int) bool {
	data, err := os.ReadFile(filepath.Join(sysfsRoot, fmt.Sprintf("node%d", node), "meminfo"))
	if err != nil {
		return false
	}
	// Look for "MemTotal" line with a non-zero value.
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.Contains(line, "MemTotal") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		kb, _ := strconv.ParseUint(fields[len(fields)-2], 10, 64)
		return kb > 0
	}
	return false
}

func computeNodeSet() (map[int]bool, error) {
	nodes, err := memoryNodes()
	if err != nil {
		return nil, err
	}
	out := make(map[int]bool, len(nodes))
	for _, n := range nodes {
		cpulist, err := os.ReadFile(filepath.Join(sysfsRoot, fmt.Sprintf("node%d", n), "cpulist"))
		if err != nil {
			continue
		}
		out[n] = len(strings.TrimSpace(string(cpulist))) > 0
	}
	return out, nil
}

func hugePageSizesKB() ([]int, error) {
	base := filepath.Join(sysfsRoot, "node0", "hugepages")
	entries, err := os.ReadDir(base)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`^hugepages-(\d+)kB$`)
	var sizes []int
	for _, e := range entries {
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		kb, _ := strconv.Atoi(m[1])
		sizes = append(sizes, kb)
	}
	sort.Ints(sizes)
	return sizes, nil
}

// distance reads the OS-reported NUMA distance from `from` to `to`.
func distance(from, to int) (int, error) {
	f, err := os.Open(filepath.Join(sysfsRoot, fmt.Sprintf("node%d", from), "distance"))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, fmt.Errorf("device: empty distance file for node %d", from)
	}
	fields := strings.Fields(sc.Text())
	if to >= len(fields) {
		return 0, fmt.Errorf("device: distance file for node %d too short for node %d", from, to)
	}
	return strconv.Atoi(fields[to])
}

// cpuIsKNL reports whether the running CPU is a Knights Landing part
// (CPUID family 6 model 0x57), read from /proc/cpuinfo since Go has no
// portable CPUID wrapper in the retrieved pack.
func cpuIsKNL() bool {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return false
	}
	model := -1
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "model\t") && !strings.HasPrefix(line, "model ") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if v, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
			model = v
		}
		break
	}
	return model == knlCPUIDModel
}
