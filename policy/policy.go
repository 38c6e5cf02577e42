// Package policy defines the eviction-policy contract used by the entry
// registry when a byte or entry budget is configured.
package policy

// Node is the minimal view of a resident registry entry.
type Node interface {
	Key() string
	// Cost is the entry's resident size in bytes.
	Cost() int64
	// Pinned reports that the entry must not be evicted right now
	// (e.g. a volume whose frames are still streaming in).
	Pinned() bool
}

// Hooks expose O(1) list operations on the shard's intrusive MRU/LRU list.
// Implementations are provided by the shard; all calls happen under the
// shard lock. Hooks manage only the list; the shard owns the id->node map.
type Hooks interface {
	MoveToFront(Node)
	PushFront(Node)
	Remove(Node)
	// Back returns the LRU node, or nil if empty.
	Back() Node
	// Prev returns the node one step towards MRU from n, or nil.
	Prev(n Node) Node
	Len() int
}

// ShardPolicy is a per-shard policy instance bound to shard hooks.
//
// Semantics:
//   - OnAdd places a new node; OnGet/OnUpdate record a use.
//   - OnRemove notifies the policy that the shard dropped the node.
//   - Victim proposes the next node to evict, skipping pinned nodes, or nil
//     if nothing is evictable.
type ShardPolicy interface {
	OnAdd(Node)
	OnGet(Node)
	OnUpdate(Node)
	OnRemove(Node)
	Victim() Node
}

// Policy is a factory of shard-local policy instances.
type Policy interface {
	New(Hooks) ShardPolicy
}
