package index

import (
	"sort"
	"sync"

	"github.com/otterbrix/kernel/pkg/types"
)

// Tree is a concurrent, append-only B+Tree multi-map from
// types.Comparable keys to per-key entry chains in the index arena,
// using latch crabbing (per-node RWMutex, preemptive split-on-full while
// descending) for concurrent access. Entries are only ever appended —
// a key's chain grows at the tail and entries are tombstoned in place in
// the arena, so the tree needs no key-removal machinery at all.
type Tree struct {
	T    int
	Root *Node
	mu   sync.RWMutex
}

func NewTree(t int) *Tree {
	return &Tree{T: t, Root: NewNode(t, true)}
}

// Append adds ref to key's chain, creating the chain if the key is new.
// For an existing key, link is called with the previous chain tail while
// the leaf latch is held, so the caller can thread its arena entry's
// Next pointer without a reader ever observing a half-linked chain.
func (b *Tree) Append(key types.Comparable, ref int64, link func(prevTail int64)) {
	b.mu.Lock()
	root := b.Root
	root.Lock()

	if root.IsFull() {
		newRoot := NewNode(b.T, false)
		newRoot.Children = append(newRoot.Children, root)
		newRoot.SplitChild(0)
		b.Root = newRoot
		b.mu.Unlock()

		newRoot.Lock()
		root.Unlock()

		b.appendTopDown(newRoot, key, ref, link)
		return
	}

	b.mu.Unlock()
	b.appendTopDown(root, key, ref, link)
}

// appendTopDown descends the tree splitting full nodes preemptively.
// curr arrives already locked by the caller.
func (b *Tree) appendTopDown(curr *Node, key types.Comparable, ref int64, link func(prevTail int64)) {
	defer func() {
		if curr != nil {
			curr.Unlock()
		}
	}()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}

		child := curr.Children[i]
		child.Lock()

		if child.IsFull() {
			curr.SplitChild(i)

			if key.Compare(curr.Keys[i]) >= 0 {
				child.Unlock()
				child = curr.Children[i+1]
				child.Lock()
			}
		}

		curr.Unlock()
		curr = child
	}

	curr.appendNonFull(key, ref, link)
}

// Head returns the arena ref of the first (oldest) entry in key's chain.
func (b *Tree) Head(key types.Comparable) (int64, bool) {
	if b == nil {
		return 0, false
	}
	b.mu.RLock()
	curr := b.Root
	if curr == nil {
		b.mu.RUnlock()
		return 0, false
	}
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}
		child := curr.Children[i]
		child.RLock()

		curr.RUnlock()
		curr = child
	}

	defer curr.RUnlock()

	for j := 0; j < curr.N; j++ {
		if key.Compare(curr.Keys[j]) == 0 {
			return curr.Chains[j].Head, true
		}
	}
	return 0, false
}

// FindLeafLowerBound descends to the leaf that would hold key (or the
// first leaf, if key is nil) for a range scan. Returns the node with its
// RLock already held; the caller must RUnlock it.
func (b *Tree) FindLeafLowerBound(key types.Comparable) (*Node, int) {
	b.mu.RLock()
	curr := b.Root
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		var i int
		if key == nil {
			i = 0
		} else {
			i = sort.Search(curr.N, func(i int) bool {
				return curr.Keys[i].Compare(key) >= 0
			})
		}

		child := curr.Children[i]
		child.RLock()
		curr.RUnlock()
		curr = child
	}

	var idx int
	if key == nil {
		idx = 0
	} else {
		idx = sort.Search(curr.N, func(i int) bool {
			return curr.Keys[i].Compare(key) >= 0
		})
	}

	return curr, idx
}
