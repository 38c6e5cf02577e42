package scheduler

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

// gates hands out tasks that block until released and report their start.
type gates struct {
	mu      sync.Mutex
	ch      map[string]chan struct{}
	started chan string
}

func newGates() *gates {
	return &gates{ch: make(map[string]chan struct{}), started: make(chan string, 256)}
}

func (g *gates) task(name string) Task {
	c := make(chan struct{})
	g.mu.Lock()
	g.ch[name] = c
	g.mu.Unlock()
	return func(ctx context.Context) error {
		g.started <- name
		select {
		case <-c:
		case <-ctx.Done():
		}
		return nil
	}
}

func (g *gates) release(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	close(g.ch[name])
}

// waitStarted collects n start notifications, sorted for set comparison.
func (g *gates) waitStarted(t *testing.T, n int) []string {
	t.Helper()
	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case name := <-g.started:
			got = append(got, name)
		case <-deadline:
			t.Fatalf("timed out waiting for %d starts, got %v", n, got)
		}
	}
	sort.Strings(got)
	return got
}

func (g *gates) assertNoStart(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case name := <-g.started:
		t.Fatalf("unexpected start of %s", name)
	case <-time.After(within):
	}
}

func constMax(n int) MaxRequestsFunc { return func() int { return n } }
