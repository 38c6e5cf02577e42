package cache

// node is an intrusive doubly linked list element owned by a shard.
type node struct {
	id    string
	entry Entry

	// head is MRU, tail is LRU.
	prev *node
	next *node

	// size is captured on insert so accounting stays consistent even if the
	// entry misbehaves and reports a different size later.
	size int64
}

func (n *node) Key() string  { return n.id }
func (n *node) Cost() int64  { return n.size }
func (n *node) Pinned() bool { return n.entry.Loading() }
