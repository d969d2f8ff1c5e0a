package index

import (
	"sort"
	"sync"

	"github.com/otterbrix/kernel/pkg/types"
)

// chain locates one key's entry list in the arena: Head is the first
// entry in insertion order, Tail the last. Keeping the tail in the leaf
// makes appending a duplicate key O(1) and guarantees an equal-range
// walk yields entries oldest-first, which is the order an equality
// search must return duplicates in.
type chain struct {
	Head, Tail int64
}

// Node is one B+Tree node: T is the minimum degree, Keys/Chains hold the
// entries of a leaf, Children the fan-out of an internal node. Next
// chains leaves for ordered range scans. mu is the latch-crabbing lock,
// granted and released node by node while descending the tree.
//
// The tree is append-only: index entries are tombstoned in place in the
// arena, never removed from a leaf, so nodes split but never merge.
type Node struct {
	T        int
	Keys     []types.Comparable
	Chains   []chain
	Children []*Node
	Leaf     bool
	N        int
	Next     *Node
	mu       sync.RWMutex
}

func NewNode(t int, leaf bool) *Node {
	return &Node{
		T:      t,
		Leaf:   leaf,
		Keys:   make([]types.Comparable, 0, 2*t-1),
		Chains: make([]chain, 0, 2*t-1),
	}
}

func (n *Node) Lock() {
	if n != nil {
		n.mu.Lock()
	}
}

func (n *Node) Unlock() {
	if n != nil {
		n.mu.Unlock()
	}
}

func (n *Node) RLock() {
	if n != nil {
		n.mu.RLock()
	}
}

func (n *Node) RUnlock() {
	if n != nil {
		n.mu.RUnlock()
	}
}

func (n *Node) IsFull() bool {
	return n.N == 2*n.T-1
}

func (n *Node) findLeafLowerBound(key types.Comparable) (*Node, int) {
	i := sort.Search(n.N, func(i int) bool {
		return n.Keys[i].Compare(key) >= 0
	})
	if n.Leaf {
		return n, i
	}
	return n.Children[i].findLeafLowerBound(key)
}

// appendNonFull descends to the leaf owning key and appends ref to its
// chain, splitting full children preemptively on the way down. For a key
// already present, the new ref becomes the chain's tail and link is
// called with the previous tail (while the leaf latch is held) so the
// caller can thread its arena entry's Next pointer; a fresh key starts a
// single-entry chain and link is not called.
func (n *Node) appendNonFull(key types.Comparable, ref int64, link func(prevTail int64)) {
	if n.Leaf {
		idx := sort.Search(n.N, func(j int) bool {
			return n.Keys[j].Compare(key) >= 0
		})

		if idx < n.N && n.Keys[idx].Compare(key) == 0 {
			prevTail := n.Chains[idx].Tail
			n.Chains[idx].Tail = ref
			link(prevTail)
			return
		}

		n.Keys = append(n.Keys, nil)
		n.Chains = append(n.Chains, chain{})
		copy(n.Keys[idx+1:], n.Keys[idx:])
		copy(n.Chains[idx+1:], n.Chains[idx:])

		n.Keys[idx] = key
		n.Chains[idx] = chain{Head: ref, Tail: ref}
		n.N++
		return
	}

	i := n.N - 1
	for i >= 0 && key.Compare(n.Keys[i]) < 0 {
		i--
	}
	i++

	if n.Children[i].IsFull() {
		n.SplitChild(i)
		if key.Compare(n.Keys[i]) >= 0 {
			i++
		}
	}
	n.Children[i].appendNonFull(key, ref, link)
}

func (n *Node) SplitChild(i int) {
	t := n.T
	y := n.Children[i]
	z := NewNode(t, y.Leaf)

	if y.Leaf {
		mid := t - 1
		z.N = y.N - mid
		z.Keys = append(z.Keys, y.Keys[mid:]...)
		z.Chains = append(z.Chains, y.Chains[mid:]...)

		y.Keys = y.Keys[:mid]
		y.Chains = y.Chains[:mid]
		y.N = mid

		z.Next = y.Next
		y.Next = z
	} else {
		mid := t - 1
		z.N = t - 1
		z.Keys = append(z.Keys, y.Keys[mid+1:]...)
		z.Children = append(z.Children, y.Children[mid+1:]...)

		upKey := y.Keys[mid]

		y.Keys = y.Keys[:mid]
		y.Children = y.Children[:mid+1]
		y.N = mid

		n.Keys = append(n.Keys, nil)
		copy(n.Keys[i+1:], n.Keys[i:])
		n.Keys[i] = upKey

		n.Children = append(n.Children, nil)
		copy(n.Children[i+2:], n.Children[i+1:])
		n.Children[i+1] = z
		n.N++
		return
	}

	n.Keys = append(n.Keys, nil)
	copy(n.Keys[i+1:], n.Keys[i:])
	n.Keys[i] = z.Keys[0]

	n.Children = append(n.Children, nil)
	copy(n.Children[i+2:], n.Children[i+1:])
	n.Children[i+1] = z
	n.N++
}
