package device

import "github.com/bits-and-blooms/bitset"

// NodeMask is a bitmap over OS NUMA node IDs, passed to the "bind address
// range" primitive (mbind). Modeled on the bitmap-of-indices idiom the
// teacher uses for its supervisor allocation table.
type NodeMask struct {
	bits *bitset.BitSet
}

// NewNodeMask builds a mask containing the NUMA node of every device in
// the list.
func NewNodeMask(devices []Device) NodeMask {
	m := NodeMask{bits: bitset.New(64)}
	for _, d := range devices {
		m.bits.Set(uint(d.NUMAID))
	}
	return m
}

// Set marks a single NUMA node as a member of the mask.
func (m *NodeMask) Set(node int) {
	if m.bits == nil {
		m.bits = bitset.New(64)
	}
	m.bits.Set(uint(node))
}

// Has reports whether node is a member of the mask.
func (m NodeMask) Has(node int) bool {
	if m.bits == nil {
		return false
	}
	return m.bits.Test(uint(node))
}

// Nodes returns the sorted list of member NUMA node IDs.
func (m NodeMask) Nodes() []int {
	if m.bits == nil {
		return nil
	}
	var out []int
	for i, e := m.bits.NextSet(0); e; i, e = m.bits.NextSet(i + 1) {
		out = append(out, int(i))
	}
	return out
}

// Equal reports whether two masks contain the same set of nodes.
func (m NodeMask) Equal(o NodeMask) bool {
	if m.bits == nil || o.bits == nil {
		return len(m.Nodes()) == 0 && len(o.Nodes()) == 0
	}
	return m.bits.Equal(o.bits)
}

// words renders the mask as the raw word array the mbind(2) syscall
// expects (an array of unsigned long, one bit per node).
func (m NodeMask) words() []uint64 {
	if m.bits == nil {
		return []uint64{0}
	}
	nodes := m.Nodes()
	maxNode := 0
	for _, n := range nodes {
		if n > maxNode {
			maxNode = n
		}
	}
	words := make([]uint64, maxNode/64+1)
	for _, n := range nodes {
		words[n/64] |= 1 << uint(n%64)
	}
	return words
}
