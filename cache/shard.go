package cache

import (
	"sync"

	"github.com/IvanBrykalov/volcache/internal/util"
	"github.com/IvanBrykalov/volcache/policy"
)

// shard is an independent partition of the registry with its own lock, map,
// and an intrusive doubly linked list (head=MRU, tail=LRU).
type shard struct {
	// ---- guarded by mu ----
	mu         sync.Mutex
	m          map[string]*node
	head       *node
	tail       *node
	len        int
	bytes      int64
	maxEntries int   // per-shard entry limit (0 = disabled)
	maxBytes   int64 // per-shard byte limit (0 = disabled)

	pol policy.ShardPolicy
	opt Options

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
}

// newShard initializes a shard with its share of the global budgets.
func newShard(shards int, opt Options) *shard {
	s := &shard{
		m:   make(map[string]*node),
		opt: opt,
	}
	if opt.MaxEntries > 0 {
		s.maxEntries = (opt.MaxEntries + shards - 1) / shards
	}
	if opt.MaxBytes > 0 {
		s.maxBytes = (opt.MaxBytes + int64(shards) - 1) / int64(shards)
	}
	s.pol = opt.Policy.New(shardHooks{s: s})
	return s
}

// Put inserts e if its id is absent.
func (s *shard) Put(e Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.m[e.ID()]; exists {
		return false
	}
	s.insertLocked(e)
	return true
}

// Set inserts or replaces the entry for e.ID().
func (s *shard) Set(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.m[e.ID()]; ok {
		old := n.entry
		if old == e {
			s.pol.OnUpdate(n)
			return
		}
		s.bytes += e.SizeInBytes() - n.size
		n.entry = e
		n.size = e.SizeInBytes()
		s.pol.OnUpdate(n)
		s.opt.Metrics.Evict(EvictReplaced)
		if cb := s.opt.OnEvict; cb != nil {
			cb(old, EvictReplaced)
		}
		s.enforceLimitsLocked()
		return
	}
	s.insertLocked(e)
}

// Get returns the entry and promotes it according to the policy.
func (s *shard) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[id]
	if !ok {
		s.misses.Add(1)
		s.opt.Metrics.Miss()
		return nil, false
	}
	s.pol.OnGet(n)
	s.hits.Add(1)
	s.opt.Metrics.Hit()
	return n.entry, true
}

// Remove deletes an entry by id. Explicit removal is not an eviction.
func (s *shard) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[id]
	if !ok {
		return false
	}
	s.pol.OnRemove(n)
	s.removeNode(n)
	delete(s.m, id)
	s.opt.Metrics.Size(s.len, s.bytes)
	return true
}

// Len returns the number of resident entries in this shard.
func (s *shard) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.len
}

// Bytes returns the resident size of this shard.
func (s *shard) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// -------------------- internals (mu held) --------------------

func (s *shard) insertLocked(e Entry) {
	n := &node{id: e.ID(), entry: e, size: e.SizeInBytes()}
	s.m[n.id] = n
	s.pol.OnAdd(n)
	s.enforceLimitsLocked()
}

// insertFront inserts n at MRU in O(1).
func (s *shard) insertFront(n *node) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
	s.len++
	s.bytes += n.size
}

// moveToFront promotes n to MRU in O(1).
func (s *shard) moveToFront(n *node) {
	if n == s.head {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

// removeNode unlinks n and updates counters in O(1).
func (s *shard) removeNode(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
	s.len--
	s.bytes -= n.size
	if s.bytes < 0 {
		s.bytes = 0
	}
}

// evictNode removes the node, updates metrics, and calls OnEvict.
func (s *shard) evictNode(n *node, reason EvictReason) {
	s.pol.OnRemove(n)
	s.removeNode(n)
	delete(s.m, n.id)
	s.opt.Metrics.Evict(reason)
	s.opt.Logger.WithField("entry", n.id).WithField("reason", reason.String()).Debug("evicted")
	if cb := s.opt.OnEvict; cb != nil {
		cb(n.entry, reason)
	}
}

// enforceLimitsLocked evicts policy victims until both budgets hold or only
// pinned entries remain.
func (s *shard) enforceLimitsLocked() {
	for s.maxEntries > 0 && s.len > s.maxEntries {
		v := s.pol.Victim()
		if v == nil {
			break
		}
		s.evictNode(v.(*node), EvictCount)
	}
	for s.maxBytes > 0 && s.bytes > s.maxBytes {
		v := s.pol.Victim()
		if v == nil {
			break
		}
		s.evictNode(v.(*node), EvictBytes)
	}
	s.opt.Metrics.Size(s.len, s.bytes)
}

// -------------------- policy hooks --------------------

// shardHooks adapts the shard's list operations to policy.Hooks.
type shardHooks struct{ s *shard }

func (h shardHooks) MoveToFront(x policy.Node) { h.s.moveToFront(x.(*node)) }
func (h shardHooks) PushFront(x policy.Node)   { h.s.insertFront(x.(*node)) }
func (h shardHooks) Remove(x policy.Node)      { h.s.removeNode(x.(*node)) }
func (h shardHooks) Len() int                  { return h.s.len }

func (h shardHooks) Back() policy.Node {
	if h.s.tail == nil {
		return nil
	}
	return h.s.tail
}

func (h shardHooks) Prev(x policy.Node) policy.Node {
	if p := x.(*node).prev; p != nil {
		return p
	}
	return nil
}
