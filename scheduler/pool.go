package scheduler

import (
	"slices"
	"sort"
)

// RequestPool is the category -> priority -> FIFO structure drained by the
// Scheduler. It knows nothing about what the requests do.
//
// RequestPool is not safe for concurrent use on its own; the Scheduler
// guards it with its mutex.
type RequestPool struct {
	order []Category
	cats  map[Category]*categoryQueue
}

// categoryQueue holds the buckets of one category. prios is sorted
// ascending and only ever grows: empty buckets stay so a hot priority does
// not re-insert into the slice on every request.
type categoryQueue struct {
	prios   []int
	buckets map[int][]*Request
	size    int
}

func newCategoryQueue() *categoryQueue {
	return &categoryQueue{
		prios:   []int{0},
		buckets: map[int][]*Request{0: nil},
	}
}

// NewRequestPool builds an empty pool for the given categories, scanned in
// the given order. Every category starts as {0: []}.
func NewRequestPool(categories []Category) *RequestPool {
	p := &RequestPool{
		order: slices.Clone(categories),
		cats:  make(map[Category]*categoryQueue, len(categories)),
	}
	for _, c := range categories {
		p.cats[c] = newCategoryQueue()
	}
	return p
}

// Categories returns the scan order.
func (p *RequestPool) Categories() []Category { return slices.Clone(p.order) }

// Has reports whether c is a known category.
func (p *RequestPool) Has(c Category) bool {
	_, ok := p.cats[c]
	return ok
}

// Push appends r to the tail of pool[r.Category][r.Priority].
func (p *RequestPool) Push(r *Request) error {
	q, ok := p.cats[r.Category]
	if !ok {
		return &InvariantError{Op: "add request", Category: r.Category, Err: ErrUnknownCategory}
	}
	if _, ok := q.buckets[r.Priority]; !ok {
		i := sort.SearchInts(q.prios, r.Priority)
		q.prios = slices.Insert(q.prios, i, r.Priority)
	}
	q.buckets[r.Priority] = append(q.buckets[r.Priority], r)
	q.size++
	return nil
}

// PopNext removes and returns the head of the first non-empty bucket, in
// category scan order then ascending priority, among categories for which
// eligible returns true. It returns nil when nothing is eligible.
func (p *RequestPool) PopNext(eligible func(Category) bool) *Request {
	for _, c := range p.order {
		q := p.cats[c]
		if q.size == 0 || !eligible(c) {
			continue
		}
		for _, prio := range q.prios {
			b := q.buckets[prio]
			if len(b) == 0 {
				continue
			}
			r := b[0]
			b[0] = nil
			q.buckets[prio] = b[1:]
			q.size--
			return r
		}
	}
	return nil
}

// Filter keeps only requests whose details satisfy keep and returns how
// many were dropped.
func (p *RequestPool) Filter(keep func(details any) bool) int {
	dropped := 0
	for _, q := range p.cats {
		for prio, b := range q.buckets {
			kept := b[:0]
			for _, r := range b {
				if keep(r.Details) {
					kept = append(kept, r)
				}
			}
			for i := len(kept); i < len(b); i++ {
				b[i] = nil
			}
			dropped += len(b) - len(kept)
			q.buckets[prio] = kept
		}
		q.size = 0
		for _, b := range q.buckets {
			q.size += len(b)
		}
	}
	return dropped
}

// Clear resets category c to {0: []} and returns how many requests it held.
func (p *RequestPool) Clear(c Category) (int, error) {
	q, ok := p.cats[c]
	if !ok {
		return 0, &InvariantError{Op: "clear category", Category: c, Err: ErrUnknownCategory}
	}
	n := q.size
	p.cats[c] = newCategoryQueue()
	return n, nil
}

// Len returns the number of pending requests.
func (p *RequestPool) Len() int {
	n := 0
	for _, q := range p.cats {
		n += q.size
	}
	return n
}

// LenCategory returns the number of pending requests in c.
func (p *RequestPool) LenCategory(c Category) int {
	if q, ok := p.cats[c]; ok {
		return q.size
	}
	return 0
}

// Snapshot copies the pending pool, including empty buckets.
func (p *RequestPool) Snapshot() Snapshot {
	s := make(Snapshot, len(p.cats))
	for c, q := range p.cats {
		byPrio := make(map[int][]RequestInfo, len(q.buckets))
		for prio, b := range q.buckets {
			infos := make([]RequestInfo, 0, len(b))
			for _, r := range b {
				infos = append(infos, RequestInfo{
					ID:       r.ID,
					Priority: r.Priority,
					Details:  r.Details,
					Enqueued: r.Enqueued,
				})
			}
			byPrio[prio] = infos
		}
		s[c] = byPrio
	}
	return s
}
