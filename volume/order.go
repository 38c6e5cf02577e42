package volume

// Order decides the dispatch order of a volume's frames. Position in the
// returned slice becomes the frame's request priority offset, so earlier
// frames are fetched first; the buffer layout is unaffected.
type Order interface {
	Order(numFrames int) []int
}

// OrderFunc adapts a function to Order.
type OrderFunc func(numFrames int) []int

func (f OrderFunc) Order(n int) []int { return f(n) }

// Sequential loads frames front to back.
var Sequential Order = OrderFunc(func(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
})

// CenterOut starts at the middle slice and alternates outwards, so the
// slice a viewer usually opens on arrives first.
var CenterOut Order = OrderFunc(func(n int) []int {
	out := make([]int, 0, n)
	c := n / 2
	out = append(out, c)
	for d := 1; len(out) < n; d++ {
		if c-d >= 0 {
			out = append(out, c-d)
		}
		if c+d < n {
			out = append(out, c+d)
		}
	}
	return out[:n]
})

// Interleaved loads every step-th frame first, then fills the gaps, so a
// coarse preview of the whole volume becomes available early.
type Interleaved struct {
	Step int
}

func (o Interleaved) Order(n int) []int {
	step := o.Step
	if step < 1 {
		step = 1
	}
	out := make([]int, 0, n)
	for start := 0; start < step && start < n; start++ {
		for i := start; i < n; i += step {
			out = append(out, i)
		}
	}
	return out
}
