// Package lru implements the LRU eviction policy.
package lru

import "github.com/IvanBrykalov/volcache/policy"

// lru is a "move-to-front" Least-Recently-Used policy over the shard list.
type lru struct {
	h policy.Hooks
}

type lruPolicy struct{}

// New returns a Policy factory that constructs per-shard LRU instances.
func New() policy.Policy { return lruPolicy{} }

func (lruPolicy) New(h policy.Hooks) policy.ShardPolicy { return &lru{h: h} }

// OnAdd places the new entry at MRU.
func (p *lru) OnAdd(n policy.Node) { p.h.PushFront(n) }

// OnGet promotes the entry to MRU.
func (p *lru) OnGet(n policy.Node) { p.h.MoveToFront(n) }

// OnUpdate promotes the entry to MRU (replacement counts as use).
func (p *lru) OnUpdate(n policy.Node) { p.h.MoveToFront(n) }

// OnRemove is a no-op: LRU keeps no state outside the list.
func (p *lru) OnRemove(policy.Node) {}

// Victim walks from LRU towards MRU and returns the first unpinned node.
func (p *lru) Victim() policy.Node {
	for n := p.h.Back(); n != nil; n = p.h.Prev(n) {
		if !n.Pinned() {
			return n
		}
	}
	return nil
}
